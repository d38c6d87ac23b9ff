// Package wire defines the on-wire representation of a decoded network
// frame as it travels from the capture pipeline to the aggregator
// pipeline over the frame stream.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// frameVersion is written as the first byte of every encoded frame so the
// format can evolve without breaking readers of older entries.
const frameVersion = 1

// MAC is a fixed-size 6 byte hardware address, kept as a value type so
// Frame can be copied and compared without allocation.
type MAC [6]byte

// MACFromBytes builds a MAC from a slice, which must be exactly 6 bytes.
func MACFromBytes(b []byte) (MAC, error) {
	var m MAC
	if len(b) != 6 {
		return m, fmt.Errorf("wire: mac must be 6 bytes, got %d", len(b))
	}
	copy(m[:], b)
	return m, nil
}

// String renders the MAC in standard colon-hex notation.
func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsBroadcast reports whether m is the all-ones broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// IsMulticast reports whether the group bit of the first octet is set.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 == 0x01
}

// OUI returns the first three octets, the vendor-identifying prefix.
func (m MAC) OUI() [3]byte {
	return [3]byte{m[0], m[1], m[2]}
}

// VLANTag holds a parsed 802.1Q tag.
type VLANTag struct {
	ID       uint16 // 12 bits
	Priority uint8  // 3 bits
	DEI      bool
}

// VLANFromTCI decodes a 16-bit Tag Control Information field.
func VLANFromTCI(tci uint16) VLANTag {
	return VLANTag{
		ID:       tci & 0x0FFF,
		Priority: uint8((tci >> 13) & 0x07),
		DEI:      (tci>>12)&0x01 == 1,
	}
}

// TCP flag bits, the six low-order bits of the flags byte.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

// Frame is the decoder's canonical, allocation-free representation of a
// single captured frame. It is produced by internal/decode and consumed
// by the aggregator's in-memory model.
type Frame struct {
	Timestamp time.Time
	Interface string

	SrcMAC MAC
	DstMAC MAC

	EtherType uint16

	HasVLAN    bool
	VLAN       VLANTag // inner tag if HasOuterVLAN, else the sole tag
	HasOuterVLAN bool
	OuterVLAN  VLANTag

	HasIPv4  bool
	SrcIP    [4]byte
	DstIP    [4]byte
	IPProto  uint8
	TTL      uint8

	HasL4    bool
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8 // only meaningful when IPProto == 6

	FrameSize   uint32
	PayloadSize uint32
}

// VLANID returns the inner VLAN id (or the sole tag's id) and whether one
// is present, matching the flow key's vlan_id field from the data model.
func (f *Frame) VLANID() (uint16, bool) {
	if !f.HasVLAN {
		return 0, false
	}
	return f.VLAN.ID, true
}

// OuterVLANID returns the outer (service) VLAN id for QinQ frames.
func (f *Frame) OuterVLANID() (uint16, bool) {
	if !f.HasOuterVLAN {
		return 0, false
	}
	return f.OuterVLAN.ID, true
}

// Encode appends the self-describing binary encoding of f to buf and
// returns the extended slice. The layout is fixed-width and versioned so
// that the batch stream can evolve; it is never used to derive struct
// tags or reflection-based decoding, matching the decoder's
// allocation-conscious style.
func (f *Frame) Encode(buf []byte) []byte {
	buf = append(buf, frameVersion)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(f.Timestamp.UnixMicro()))
	buf = append(buf, tsBuf[:]...)

	buf = appendString(buf, f.Interface)

	buf = append(buf, f.SrcMAC[:]...)
	buf = append(buf, f.DstMAC[:]...)

	var u16Buf [2]byte
	binary.BigEndian.PutUint16(u16Buf[:], f.EtherType)
	buf = append(buf, u16Buf[:]...)

	buf = append(buf, boolByte(f.HasVLAN))
	buf = appendVLAN(buf, f.VLAN)
	buf = append(buf, boolByte(f.HasOuterVLAN))
	buf = appendVLAN(buf, f.OuterVLAN)

	buf = append(buf, boolByte(f.HasIPv4))
	buf = append(buf, f.SrcIP[:]...)
	buf = append(buf, f.DstIP[:]...)
	buf = append(buf, f.IPProto, f.TTL)

	buf = append(buf, boolByte(f.HasL4))
	binary.BigEndian.PutUint16(u16Buf[:], f.SrcPort)
	buf = append(buf, u16Buf[:]...)
	binary.BigEndian.PutUint16(u16Buf[:], f.DstPort)
	buf = append(buf, u16Buf[:]...)
	buf = append(buf, f.TCPFlags)

	var u32Buf [4]byte
	binary.BigEndian.PutUint32(u32Buf[:], f.FrameSize)
	buf = append(buf, u32Buf[:]...)
	binary.BigEndian.PutUint32(u32Buf[:], f.PayloadSize)
	buf = append(buf, u32Buf[:]...)

	return buf
}

// DecodeFrame reads one encoded Frame from buf and returns the number of
// bytes consumed. It rejects unknown versions rather than guessing at a
// layout it does not understand.
func DecodeFrame(buf []byte) (Frame, int, error) {
	var f Frame
	if len(buf) < 1 {
		return f, 0, fmt.Errorf("wire: empty buffer")
	}
	if buf[0] != frameVersion {
		return f, 0, fmt.Errorf("wire: unsupported frame version %d", buf[0])
	}
	off := 1

	if len(buf) < off+8 {
		return f, 0, fmt.Errorf("wire: truncated timestamp")
	}
	f.Timestamp = time.UnixMicro(int64(binary.BigEndian.Uint64(buf[off : off+8]))).UTC()
	off += 8

	iface, n, err := readString(buf[off:])
	if err != nil {
		return f, 0, fmt.Errorf("wire: interface name: %w", err)
	}
	f.Interface = iface
	off += n

	if len(buf) < off+12 {
		return f, 0, fmt.Errorf("wire: truncated mac pair")
	}
	copy(f.SrcMAC[:], buf[off:off+6])
	off += 6
	copy(f.DstMAC[:], buf[off:off+6])
	off += 6

	if len(buf) < off+2 {
		return f, 0, fmt.Errorf("wire: truncated ethertype")
	}
	f.EtherType = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2

	var n2 int
	f.HasVLAN, n2, err = readBool(buf[off:])
	if err != nil {
		return f, 0, err
	}
	off += n2
	f.VLAN, n2, err = readVLAN(buf[off:])
	if err != nil {
		return f, 0, err
	}
	off += n2

	f.HasOuterVLAN, n2, err = readBool(buf[off:])
	if err != nil {
		return f, 0, err
	}
	off += n2
	f.OuterVLAN, n2, err = readVLAN(buf[off:])
	if err != nil {
		return f, 0, err
	}
	off += n2

	f.HasIPv4, n2, err = readBool(buf[off:])
	if err != nil {
		return f, 0, err
	}
	off += n2

	if len(buf) < off+6 {
		return f, 0, fmt.Errorf("wire: truncated ipv4 fields")
	}
	copy(f.SrcIP[:], buf[off:off+4])
	off += 4
	copy(f.DstIP[:], buf[off:off+4])
	off += 4
	f.IPProto = buf[off]
	f.TTL = buf[off+1]
	off += 2

	f.HasL4, n2, err = readBool(buf[off:])
	if err != nil {
		return f, 0, err
	}
	off += n2

	if len(buf) < off+5 {
		return f, 0, fmt.Errorf("wire: truncated l4 fields")
	}
	f.SrcPort = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	f.DstPort = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	f.TCPFlags = buf[off]
	off++

	if len(buf) < off+8 {
		return f, 0, fmt.Errorf("wire: truncated size fields")
	}
	f.FrameSize = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	f.PayloadSize = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	return f, off, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func readBool(buf []byte) (bool, int, error) {
	if len(buf) < 1 {
		return false, 0, fmt.Errorf("wire: truncated bool")
	}
	return buf[0] != 0, 1, nil
}

func appendVLAN(buf []byte, v VLANTag) []byte {
	var u16Buf [2]byte
	binary.BigEndian.PutUint16(u16Buf[:], v.ID)
	buf = append(buf, u16Buf[:]...)
	buf = append(buf, v.Priority, boolByte(v.DEI))
	return buf
}

func readVLAN(buf []byte) (VLANTag, int, error) {
	var v VLANTag
	if len(buf) < 4 {
		return v, 0, fmt.Errorf("wire: truncated vlan tag")
	}
	v.ID = binary.BigEndian.Uint16(buf[0:2])
	v.Priority = buf[2]
	v.DEI = buf[3] != 0
	return v, 4, nil
}

func appendString(buf []byte, s string) []byte {
	var u16Buf [2]byte
	binary.BigEndian.PutUint16(u16Buf[:], uint16(len(s)))
	buf = append(buf, u16Buf[:]...)
	return append(buf, s...)
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, fmt.Errorf("wire: truncated string length")
	}
	l := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+l {
		return "", 0, fmt.Errorf("wire: truncated string body")
	}
	return string(buf[2 : 2+l]), 2 + l, nil
}
