// Package decode turns raw Ethernet frame slices into wire.Frame values.
// Parsing is byte-exact and total: no field is populated unless its
// header was fully validated, and decoding never allocates beyond the
// fixed-size wire.Frame it returns.
package decode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/netsentinel/netsentinel/internal/wire"
)

const (
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
	etherTypeIPv4 = 0x0800

	ipProtoICMP = 1
	ipProtoTCP  = 6
	ipProtoUDP  = 17
	ipProtoGRE  = 47
	ipProtoESP  = 50
	ipProtoOSPF = 89
)

// Reason tags a dropped or malformed frame by the layer that rejected it,
// matching the malformed/short_l2 counters from the decoding contract.
type Reason string

const (
	ReasonShortL2 Reason = "short_l2"
	ReasonVLAN    Reason = "vlan"
	ReasonIPv4    Reason = "ipv4"
	ReasonL4      Reason = "l4"
)

// Error reports a decode failure along with the layer responsible, so
// callers can increment a per-layer malformed counter.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Frame decodes one raw Ethernet II frame captured on iface at ts into a
// canonical wire.Frame. data must not be retained past the call: the
// caller owns the backing ring slice.
func Frame(data []byte, iface string, ts time.Time) (wire.Frame, error) {
	var f wire.Frame

	if len(data) < 14 {
		return f, &Error{ReasonShortL2, fmt.Errorf("frame too short: %d bytes", len(data))}
	}

	f.Timestamp = ts
	f.Interface = iface
	f.FrameSize = uint32(len(data))

	copy(f.DstMAC[:], data[0:6])
	copy(f.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	cursor := 14

	switch etherType {
	case etherTypeVLAN:
		tag, next, err := readTag(data, cursor)
		if err != nil {
			return f, &Error{ReasonVLAN, err}
		}
		f.HasVLAN = true
		f.VLAN = tag
		etherType = binary.BigEndian.Uint16(data[next-2 : next])
		cursor = next

	case etherTypeQinQ:
		outer, next, err := readTag(data, cursor)
		if err != nil {
			return f, &Error{ReasonVLAN, err}
		}
		cursor = next

		if len(data) >= cursor+2 && binary.BigEndian.Uint16(data[cursor-2:cursor]) == etherTypeVLAN {
			inner, next2, err := readTag(data, cursor)
			if err != nil {
				return f, &Error{ReasonVLAN, err}
			}
			f.HasOuterVLAN = true
			f.OuterVLAN = outer
			f.HasVLAN = true
			f.VLAN = inner
			etherType = binary.BigEndian.Uint16(data[next2-2 : next2])
			cursor = next2
		} else {
			// No inner tag: treat the outer tag as a single VLAN.
			f.HasVLAN = true
			f.VLAN = outer
			etherType = binary.BigEndian.Uint16(data[cursor-2 : cursor])
		}
	}

	f.EtherType = etherType
	f.PayloadSize = uint32(len(data) - cursor)

	if etherType != etherTypeIPv4 {
		return f, nil
	}

	if err := decodeIPv4(data, cursor, &f); err != nil {
		return f, &Error{ReasonIPv4, err}
	}

	return f, nil
}

// readTag parses a 4-byte 802.1Q tag (2-byte TCI, 2-byte inner EtherType)
// starting at off and returns the tag plus the offset just past it.
func readTag(data []byte, off int) (wire.VLANTag, int, error) {
	if len(data) < off+4 {
		return wire.VLANTag{}, 0, fmt.Errorf("truncated vlan tag at offset %d", off)
	}
	tci := binary.BigEndian.Uint16(data[off : off+2])
	return wire.VLANFromTCI(tci), off + 4, nil
}

func decodeIPv4(data []byte, off int, f *wire.Frame) error {
	if len(data) < off+20 {
		return fmt.Errorf("truncated ipv4 header at offset %d", off)
	}
	versionIHL := data[off]
	version := versionIHL >> 4
	ihl := int(versionIHL & 0x0F)

	if version != 4 {
		return fmt.Errorf("unexpected ip version %d", version)
	}
	if ihl < 5 {
		return fmt.Errorf("ihl too small: %d", ihl)
	}

	totalLength := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
	headerLen := ihl * 4
	if totalLength < headerLen {
		return fmt.Errorf("total length %d shorter than header %d", totalLength, headerLen)
	}
	if len(data) < off+headerLen {
		return fmt.Errorf("frame shorter than declared ipv4 header length %d", headerLen)
	}

	f.HasIPv4 = true
	f.TTL = data[off+8]
	f.IPProto = data[off+9]
	copy(f.SrcIP[:], data[off+12:off+16])
	copy(f.DstIP[:], data[off+16:off+20])

	l4Off := off + headerLen

	switch f.IPProto {
	case ipProtoTCP:
		if len(data) < l4Off+14 {
			return fmt.Errorf("truncated tcp header at offset %d", l4Off)
		}
		f.HasL4 = true
		f.SrcPort = binary.BigEndian.Uint16(data[l4Off : l4Off+2])
		f.DstPort = binary.BigEndian.Uint16(data[l4Off+2 : l4Off+4])
		f.TCPFlags = data[l4Off+13] & 0x3F

	case ipProtoUDP:
		if len(data) < l4Off+4 {
			return fmt.Errorf("truncated udp header at offset %d", l4Off)
		}
		f.HasL4 = true
		f.SrcPort = binary.BigEndian.Uint16(data[l4Off : l4Off+2])
		f.DstPort = binary.BigEndian.Uint16(data[l4Off+2 : l4Off+4])

	case ipProtoICMP, ipProtoGRE, ipProtoESP, ipProtoOSPF:
		// recorded at L3 only, per the decoding contract

	}

	return nil
}
