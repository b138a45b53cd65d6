// Package pickle implements the binary wire format used to relay a
// histogram's shape across a process boundary before its samples are
// shared. It follows the same length-prefixed-field-plus-CRC32 discipline
// as protocol.Message, just over a fixed binary layout instead of JSON.
package pickle

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	misterrors "github.com/greynewell/mist-histogram/errors"
	"github.com/greynewell/mist-histogram/histogram"
)

// TypeTag identifies which histogram family a pickled record describes.
type TypeTag int32

const (
	TypeExponential TypeTag = iota
	TypeLinear
	TypeBoolean
	TypeCustom
	TypeSparse
)

func typeTagFor(k histogram.Kind) (TypeTag, bool) {
	switch k {
	case histogram.KindExponential:
		return TypeExponential, true
	case histogram.KindLinear:
		return TypeLinear, true
	case histogram.KindBoolean:
		return TypeBoolean, true
	case histogram.KindCustom:
		return TypeCustom, true
	case histogram.KindSparse:
		return TypeSparse, true
	default:
		return 0, false
	}
}

// Record is the decoded form of a pickled histogram description.
type Record struct {
	Type           TypeTag
	Name           string
	Flags          histogram.Flags
	Min, Max       histogram.Sample
	BucketCount    uint32
	RangesChecksum uint32
	// CustomBoundaries holds the interior boundaries for TypeCustom
	// records (all ranges but the first and last). Empty for every
	// other type.
	CustomBoundaries []histogram.Sample
}

// FromHistogram builds a Record describing h's shape (not its samples).
func FromHistogram(h *histogram.Histogram) (Record, error) {
	tag, ok := typeTagFor(h.Kind())
	if !ok {
		return Record{}, misterrors.New(histogram.CodeWireFormat, "histogram kind has no pickle representation")
	}
	r := Record{
		Type:  tag,
		Name:  h.Name(),
		Flags: h.GetFlags(),
	}
	if ranges := h.Ranges(); ranges != nil {
		r.BucketCount = uint32(ranges.BucketCount())
		r.RangesChecksum = ranges.Checksum
		if len(ranges.Ranges) > 2 {
			interior := ranges.Ranges[1 : len(ranges.Ranges)-1]
			r.Min, r.Max = interior[0], interior[len(interior)-1]
			if tag == TypeCustom {
				r.CustomBoundaries = append([]histogram.Sample(nil), interior...)
			}
		}
	}
	return r, nil
}

// fixedFields writes every field but the trailing custom-boundary tail, in
// the exact order the checksum is computed over.
func (r Record) fixedFields(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, int32(r.Type)); err != nil {
		return err
	}
	nameBytes := []byte(r.Name)
	if err := binary.Write(w, binary.BigEndian, uint32(len(nameBytes))); err != nil {
		return err
	}
	if _, err := w.Write(nameBytes); err != nil {
		return err
	}
	for _, v := range []int32{int32(r.Flags), int32(r.Min), int32(r.Max)} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, r.BucketCount); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, r.RangesChecksum)
}

// Encode serializes r: the fixed fields, a trailing CRC32 over just those
// fixed fields (mirroring protocol.Message.ComputeChecksum), then the
// optional custom-boundary tail, written as its own element count followed
// by the boundaries. The tail is not covered by the checksum, and Decode
// does not check its length against BucketCount.
func Encode(r Record) ([]byte, error) {
	var fixed bytes.Buffer
	if err := r.fixedFields(&fixed); err != nil {
		return nil, misterrors.Wrap(histogram.CodeWireFormat, err, "encoding pickle fixed fields")
	}

	var out bytes.Buffer
	out.Write(fixed.Bytes())
	if err := binary.Write(&out, binary.BigEndian, crc32.ChecksumIEEE(fixed.Bytes())); err != nil {
		return nil, misterrors.Wrap(histogram.CodeWireFormat, err, "writing pickle checksum")
	}
	if err := binary.Write(&out, binary.BigEndian, uint32(len(r.CustomBoundaries))); err != nil {
		return nil, misterrors.Wrap(histogram.CodeWireFormat, err, "writing custom boundary count")
	}
	for _, v := range r.CustomBoundaries {
		if err := binary.Write(&out, binary.BigEndian, int32(v)); err != nil {
			return nil, misterrors.Wrap(histogram.CodeWireFormat, err, "writing custom boundary")
		}
	}
	return out.Bytes(), nil
}

// Decode parses a pickled record. The IPCSerializationSource flag is always
// cleared on the returned record, matching the reference implementation's
// rule that a deserialized histogram was never itself the serialization
// source.
func Decode(data []byte) (Record, error) {
	buf := bytes.NewReader(data)

	var typeTag int32
	if err := binary.Read(buf, binary.BigEndian, &typeTag); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle type tag")
	}
	var nameLen uint32
	if err := binary.Read(buf, binary.BigEndian, &nameLen); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle name length")
	}
	if int(nameLen) > len(data) {
		return Record{}, misterrors.New(histogram.CodeWireFormat, "pickle name length exceeds payload size")
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(buf, nameBytes); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle name")
	}

	var flags, min, max int32
	var bucketCount, rangesChecksum uint32
	for _, dst := range []any{&flags, &min, &max} {
		if err := binary.Read(buf, binary.BigEndian, dst); err != nil {
			return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle fixed int field")
		}
	}
	if err := binary.Read(buf, binary.BigEndian, &bucketCount); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle bucket count")
	}
	if err := binary.Read(buf, binary.BigEndian, &rangesChecksum); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle ranges checksum")
	}

	fixedLen := len(data) - buf.Len()
	fixedBytes := data[:fixedLen]

	var wantChecksum uint32
	if err := binary.Read(buf, binary.BigEndian, &wantChecksum); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle checksum")
	}
	if crc32.ChecksumIEEE(fixedBytes) != wantChecksum {
		return Record{}, misterrors.New(histogram.CodeCorruption, "pickle checksum mismatch")
	}

	var tailCount uint32
	if err := binary.Read(buf, binary.BigEndian, &tailCount); err != nil {
		return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle tail count")
	}
	tail := make([]histogram.Sample, tailCount)
	for i := range tail {
		var v int32
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return Record{}, misterrors.Wrap(histogram.CodeWireFormat, err, "reading pickle tail entry")
		}
		tail[i] = histogram.Sample(v)
	}

	r := Record{
		Type:             TypeTag(typeTag),
		Name:             string(nameBytes),
		Flags:            histogram.Flags(flags) &^ histogram.FlagIPCSerializationSource,
		Min:              histogram.Sample(min),
		Max:              histogram.Sample(max),
		BucketCount:      bucketCount,
		RangesChecksum:   rangesChecksum,
		CustomBoundaries: tail,
	}
	return r, nil
}
