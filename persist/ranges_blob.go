package persist

import (
	"encoding/binary"

	misterrors "github.com/greynewell/mist-histogram/errors"
	"github.com/greynewell/mist-histogram/histogram"
)

// EncodeRanges serializes ranges as its boundary vector (N+1 little-endian
// int32 values) followed by its checksum. A reader decodes the exact
// BucketRanges the writer built rather than recomputing one from min/max/
// bucket count, which would disagree with the original for anything but
// linear spacing.
func EncodeRanges(r *histogram.BucketRanges) []byte {
	buf := make([]byte, len(r.Ranges)*4+4)
	for i, v := range r.Ranges {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	binary.LittleEndian.PutUint32(buf[len(r.Ranges)*4:], r.Checksum)
	return buf
}

// DecodeRanges parses the layout EncodeRanges produces.
func DecodeRanges(data []byte) (*histogram.BucketRanges, error) {
	if len(data) < 8 || len(data)%4 != 0 {
		return nil, misterrors.New(histogram.CodeWireFormat, "ranges blob has invalid length")
	}
	n := len(data)/4 - 1
	ranges := make([]histogram.Sample, n)
	for i := 0; i < n; i++ {
		ranges[i] = histogram.Sample(binary.LittleEndian.Uint32(data[i*4:]))
	}
	checksum := binary.LittleEndian.Uint32(data[n*4:])
	return &histogram.BucketRanges{Ranges: ranges, Checksum: checksum}, nil
}
