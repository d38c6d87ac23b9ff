package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsentinel/netsentinel/internal/wire"
)

func ethHeader(dst, src [6]byte, etherType uint16) []byte {
	b := make([]byte, 14)
	copy(b[0:6], dst[:])
	copy(b[6:12], src[:])
	b[12] = byte(etherType >> 8)
	b[13] = byte(etherType)
	return b
}

func ipv4Header(totalLength int, proto byte, src, dst [4]byte) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5
	b[2] = byte(totalLength >> 8)
	b[3] = byte(totalLength)
	b[8] = 64 // TTL
	b[9] = proto
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	return b
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := Frame([]byte{1, 2, 3}, "eth0", time.Now())
	require.Error(t, err)
	var decErr *Error
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ReasonShortL2, decErr.Reason)
}

func TestDecodePlainEthernet(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, 0x0806) // ARP

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	assert.Equal(t, wire.MAC(dst), f.DstMAC)
	assert.Equal(t, wire.MAC(src), f.SrcMAC)
	assert.Equal(t, uint16(0x0806), f.EtherType)
	assert.False(t, f.HasVLAN)
	assert.False(t, f.HasIPv4)
}

func TestDecodeIPv4TCP(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeIPv4)

	ip := ipv4Header(40, ipProtoTCP, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	raw = append(raw, ip...)

	tcp := make([]byte, 20)
	tcp[0], tcp[1] = 0x1f, 0x90 // src port 8080
	tcp[2], tcp[3] = 0x00, 0x50 // dst port 80
	tcp[13] = 0x12              // SYN|ACK
	raw = append(raw, tcp...)

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	require.True(t, f.HasIPv4)
	assert.Equal(t, [4]byte{10, 0, 0, 1}, f.SrcIP)
	assert.Equal(t, [4]byte{10, 0, 0, 2}, f.DstIP)
	assert.Equal(t, uint8(ipProtoTCP), f.IPProto)
	require.True(t, f.HasL4)
	assert.Equal(t, uint16(8080), f.SrcPort)
	assert.Equal(t, uint16(80), f.DstPort)
	assert.Equal(t, wire.TCPFlagSYN|wire.TCPFlagACK, f.TCPFlags)
}

func TestDecodeIPv4UDP(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeIPv4)
	ip := ipv4Header(28, ipProtoUDP, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	raw = append(raw, ip...)

	udp := make([]byte, 8)
	udp[0], udp[1] = 0x00, 0x35 // src port 53
	udp[2], udp[3] = 0x13, 0x88 // dst port 5000
	raw = append(raw, udp...)

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	require.True(t, f.HasL4)
	assert.Equal(t, uint16(53), f.SrcPort)
	assert.Equal(t, uint16(5000), f.DstPort)
}

func TestDecodeIPv4ICMPRecordedAtL3Only(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeIPv4)
	ip := ipv4Header(20, ipProtoICMP, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	raw = append(raw, ip...)

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	assert.True(t, f.HasIPv4)
	assert.False(t, f.HasL4)
	assert.Equal(t, uint8(ipProtoICMP), f.IPProto)
}

func TestDecodeRejectsShortIPv4Header(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeIPv4)
	raw = append(raw, make([]byte, 10)...) // too short for a 20-byte header

	_, err := Frame(raw, "eth0", time.Now())
	require.Error(t, err)
	var decErr *Error
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, ReasonIPv4, decErr.Reason)
}

func TestDecodeRejectsBadIPVersion(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeIPv4)
	ip := ipv4Header(20, ipProtoTCP, [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 2})
	ip[0] = 0x65 // version 6, IHL 5
	raw = append(raw, ip...)

	_, err := Frame(raw, "eth0", time.Now())
	require.Error(t, err)
}

func TestDecode8021QVLAN(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeVLAN)

	tag := make([]byte, 4)
	tci := uint16(100) // vid=100, priority=0, dei=0
	tag[0] = byte(tci >> 8)
	tag[1] = byte(tci)
	tag[2] = 0x08
	tag[3] = 0x06 // inner ethertype ARP, no further payload to decode
	raw = append(raw, tag...)

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	require.True(t, f.HasVLAN)
	assert.Equal(t, uint16(100), f.VLAN.ID)
	assert.Equal(t, uint16(0x0806), f.EtherType)
	assert.False(t, f.HasOuterVLAN)
}

func TestDecode8021adQinQ(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeQinQ)

	outer := make([]byte, 4)
	outerTCI := uint16(10)
	outer[0] = byte(outerTCI >> 8)
	outer[1] = byte(outerTCI)
	outer[2] = 0x81
	outer[3] = 0x00
	raw = append(raw, outer...)

	inner := make([]byte, 4)
	innerTCI := uint16(200)
	inner[0] = byte(innerTCI >> 8)
	inner[1] = byte(innerTCI)
	inner[2] = 0x08
	inner[3] = 0x06 // inner ethertype ARP, no further payload to decode
	raw = append(raw, inner...)

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	require.True(t, f.HasOuterVLAN)
	require.True(t, f.HasVLAN)
	assert.Equal(t, uint16(10), f.OuterVLAN.ID)
	assert.Equal(t, uint16(200), f.VLAN.ID)
	assert.Equal(t, uint16(0x0806), f.EtherType)
}

func TestDecode8021adWithoutInnerTagTreatedAsSingleVLAN(t *testing.T) {
	dst := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	src := [6]byte{1, 2, 3, 4, 5, 6}
	raw := ethHeader(dst, src, etherTypeQinQ)

	outer := make([]byte, 4)
	outerTCI := uint16(10)
	outer[0] = byte(outerTCI >> 8)
	outer[1] = byte(outerTCI)
	outer[2] = 0x08 // not 0x8100: no inner tag
	outer[3] = 0x06 // ethertype ARP, no further payload to decode
	raw = append(raw, outer...)

	f, err := Frame(raw, "eth0", time.Now())
	require.NoError(t, err)
	assert.False(t, f.HasOuterVLAN)
	require.True(t, f.HasVLAN)
	assert.Equal(t, uint16(10), f.VLAN.ID)
	assert.Equal(t, uint16(0x0806), f.EtherType)
}
