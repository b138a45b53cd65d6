// histcollect is the demo binary wiring the histogram/registry/snapshot
// core to the ambient stack: a TOML config (with HISTCOLLECT_-prefixed
// env overrides), a sampling RecordChecker, an optional persistent
// allocator, an optional network flattener, and an HTTP health/dump
// server, all under lifecycle-managed start/stop.
//
// Usage:
//
//	histcollect serve --config histcollect.toml
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/greynewell/mist-histogram/cli"
	"github.com/greynewell/mist-histogram/collector"
	"github.com/greynewell/mist-histogram/config"
	"github.com/greynewell/mist-histogram/histogram"
	"github.com/greynewell/mist-histogram/lifecycle"
	"github.com/greynewell/mist-histogram/logging"
	"github.com/greynewell/mist-histogram/metrics"
	"github.com/greynewell/mist-histogram/output"
	"github.com/greynewell/mist-histogram/persist"
	"github.com/greynewell/mist-histogram/registry"
	"github.com/greynewell/mist-histogram/snapshot"
	"github.com/greynewell/mist-histogram/trace"
	"github.com/greynewell/mist-histogram/transport"
)

var version = "dev"

// noopFlattener discards deltas; it is the default sink when no upload
// transport is configured, so a bare config still runs without a nil
// Flattener reaching the engine.
type noopFlattener struct{}

func (noopFlattener) RecordDelta(*histogram.Histogram, histogram.Samples) {}

// fileConfig is the shape of histcollect.toml, decoded by config.Load.
type fileConfig struct {
	Addr           string   `toml:"addr"`
	SampleRate     float64  `toml:"sample_rate"`
	Denylist       []string `toml:"denylist"`
	UploadURL      string   `toml:"upload_url"`
	AllocatorPath  string   `toml:"allocator_path"`
	AllocatorBytes int64    `toml:"allocator_bytes"`
	JournalDir     string   `toml:"journal_dir"`
	IntervalMS     int64    `toml:"interval_ms"`
}

func main() {
	app := cli.NewApp("histcollect", version)

	serveCmd := &cli.Command{Name: "serve", Usage: "Run the collection loop and HTTP server", Run: cmdServe}
	serveCmd.AddStringFlag("config", "histcollect.toml", "Path to TOML config file")
	app.AddCommand(serveCmd)

	dumpCmd := &cli.Command{Name: "dump", Usage: "Dump a persistent allocator segment's histogram records offline", Run: cmdDump}
	dumpCmd.AddStringFlag("allocator", "", "Path to the allocator segment file")
	dumpCmd.AddInt64Flag("allocator-bytes", 1<<20, "Capacity the segment was opened with")
	dumpCmd.AddStringFlag("format", "table", "Output format: table or json")
	app.AddCommand(dumpCmd)

	if err := app.Execute(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func cmdServe(cmd *cli.Command, _ []string) error {
	cfgPath := cmd.GetString("config")

	cfg := fileConfig{
		Addr:       ":9109",
		SampleRate: 1.0,
		IntervalMS: 10_000,
	}
	if _, err := os.Stat(cfgPath); err == nil {
		if err := config.Load(cfgPath, "HISTCOLLECT", &cfg); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	log := logging.New("histcollect", logging.LevelInfo)

	reg := registry.New()
	reg.SetRecordChecker(&histogram.SamplingChecker{
		Rate:     cfg.SampleRate,
		Denylist: cfg.Denylist,
	})

	var sink snapshot.Flattener = noopFlattener{}
	if cfg.UploadURL != "" {
		t, err := transport.Dial(cfg.UploadURL)
		if err != nil {
			return fmt.Errorf("dialing upload transport: %w", err)
		}
		sink = collector.NewNetworkFlattener(t)
	}
	if cfg.JournalDir != "" {
		runID := trace.NewID()
		jf, err := collector.NewJournalingFlattener(sink, cfg.JournalDir, runID)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer jf.Tracker.Close()
		sink = jf
	}

	var alloc persist.Allocator
	if cfg.AllocatorPath != "" {
		capBytes := uint32(cfg.AllocatorBytes)
		if capBytes == 0 {
			capBytes = 1 << 20
		}
		fa, err := persist.OpenFile(cfg.AllocatorPath, capBytes)
		if err != nil {
			return fmt.Errorf("opening persistent allocator: %w", err)
		}
		defer fa.Close()
		alloc = fa
	}

	c := &collector.Collector{
		Registry:  reg,
		Engine:    snapshot.NewEngine(),
		Allocator: alloc,
		Sink:      sink,
		Logger:    log,
		Metrics:   metrics.NewRegistry(),
	}

	srv := collector.NewServer(cfg.Addr, c)
	srv.AddCheck("registry", func() error { return nil })

	interval := time.Duration(cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return lifecycle.Run(func(ctx context.Context) error {
		dg := lifecycle.DrainGroup(ctx)
		lifecycle.OnShutdown(ctx, func() error {
			srv.SetReady(false)
			return nil
		})

		dg.Add(1)
		go func() {
			defer dg.Done()
			runCollectionLoop(ctx, c, log, interval)
		}()

		srv.SetReady(true)
		log.Info(ctx, "histcollect serving", "addr", cfg.Addr, "interval", interval)
		return srv.ListenAndServe()
	})
}

// cmdDump opens a persistent allocator segment read-write with OpenFile
// (taking its writer lock) just long enough to list its iterable histogram
// records, for offline inspection without standing up the full server.
func cmdDump(cmd *cli.Command, _ []string) error {
	path := cmd.GetString("allocator")
	if path == "" {
		return fmt.Errorf("usage: histcollect dump --allocator <path> [--allocator-bytes N]")
	}

	fa, err := persist.OpenFile(path, uint32(cmd.GetInt64("allocator-bytes")))
	if err != nil {
		return fmt.Errorf("opening allocator: %w", err)
	}
	defer fa.Close()

	if fa.IsCorrupt() {
		output.Error("allocator segment %s failed header validation", path)
	}

	type row struct {
		Name        string `json:"name"`
		BucketCount uint32 `json:"bucket_count"`
		Flags       int32  `json:"flags"`
	}
	var rows []row
	fa.Iterate(func(typeID uint32, ref persist.Reference, data []byte) bool {
		if typeID != persist.TypeHistogramRecord {
			return true
		}
		rec, err := persist.DecodeHistogramRecord(data)
		if err != nil {
			return true
		}
		rows = append(rows, row{Name: rec.Name, BucketCount: rec.BucketCount, Flags: rec.Flags})
		return true
	})

	w := output.New(cmd.GetString("format"))
	if cmd.GetString("format") == "json" {
		for _, r := range rows {
			if err := w.JSON(r); err != nil {
				return err
			}
		}
		return nil
	}

	headers := []string{"NAME", "BUCKETS", "FLAGS"}
	tableRows := make([][]string, 0, len(rows))
	for _, r := range rows {
		tableRows = append(tableRows, []string{r.Name, fmt.Sprint(r.BucketCount), fmt.Sprint(r.Flags)})
	}
	w.Table(headers, tableRows)
	return nil
}

// runCollectionLoop calls RunOnce on a fixed interval until ctx is
// cancelled, tagging every pass with a fresh trace id for correlation.
func runCollectionLoop(ctx context.Context, c *collector.Collector, log *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			passCtx, span := trace.Start(ctx, "histcollect.pass")
			txID := c.RunOnce(passCtx)
			span.End("ok")
			log.Debug(passCtx, "pass complete", "transaction_id", txID)
		}
	}
}
