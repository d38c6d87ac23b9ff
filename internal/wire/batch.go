package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// batchVersion is the first byte of every encoded batch envelope.
const batchVersion = 1

// Batch is one stream entry: all frames captured on a single interface
// within one flush interval, published to the frame stream as a single
// append so C3 amortizes the per-entry cost of XADD across many frames.
type Batch struct {
	InterfaceName string
	BatchTS       time.Time
	Frames        []Frame
}

// Encode serializes b into the self-describing binary layout stored as
// the stream entry's "data" field: version byte, interface_name,
// batch_ts, frame_count, then each frame's own versioned encoding
// concatenated back to back.
func (b *Batch) Encode() []byte {
	buf := make([]byte, 0, 64+len(b.Frames)*96)
	buf = append(buf, batchVersion)
	buf = appendString(buf, b.InterfaceName)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(b.BatchTS.UnixMicro()))
	buf = append(buf, tsBuf[:]...)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(b.Frames)))
	buf = append(buf, countBuf[:]...)

	for i := range b.Frames {
		buf = b.Frames[i].Encode(buf)
	}
	return buf
}

// DecodeBatch parses a Batch from its stream-entry encoding.
func DecodeBatch(buf []byte) (Batch, error) {
	var b Batch
	if len(buf) < 1 {
		return b, fmt.Errorf("wire: empty batch buffer")
	}
	if buf[0] != batchVersion {
		return b, fmt.Errorf("wire: unsupported batch version %d", buf[0])
	}
	off := 1

	iface, n, err := readString(buf[off:])
	if err != nil {
		return b, fmt.Errorf("wire: batch interface name: %w", err)
	}
	b.InterfaceName = iface
	off += n

	if len(buf) < off+8+4 {
		return b, fmt.Errorf("wire: truncated batch header")
	}
	b.BatchTS = time.UnixMicro(int64(binary.BigEndian.Uint64(buf[off : off+8]))).UTC()
	off += 8
	frameCount := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	b.Frames = make([]Frame, 0, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		frame, n, err := DecodeFrame(buf[off:])
		if err != nil {
			return b, fmt.Errorf("wire: batch frame %d/%d: %w", i, frameCount, err)
		}
		b.Frames = append(b.Frames, frame)
		off += n
	}
	return b, nil
}
