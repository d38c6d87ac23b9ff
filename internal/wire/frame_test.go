package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	f := Frame{
		Timestamp: time.UnixMicro(1700000000000000).UTC(),
		Interface: "eth0",
		SrcMAC:    MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:    MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		EtherType: 0x0800,
		HasVLAN:   true,
		VLAN:      VLANTag{ID: 100, Priority: 3, DEI: true},
		HasIPv4:   true,
		SrcIP:     [4]byte{192, 168, 1, 10},
		DstIP:     [4]byte{192, 168, 1, 20},
		IPProto:   6,
		TTL:       64,
		HasL4:     true,
		SrcPort:   443,
		DstPort:   51000,
		TCPFlags:  TCPFlagSYN | TCPFlagACK,
		FrameSize: 74,
		PayloadSize: 20,
	}

	encoded := f.Encode(nil)
	decoded, n, err := DecodeFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)

	assert.Equal(t, f.Timestamp, decoded.Timestamp)
	assert.Equal(t, f.Interface, decoded.Interface)
	assert.Equal(t, f.SrcMAC, decoded.SrcMAC)
	assert.Equal(t, f.DstMAC, decoded.DstMAC)
	assert.Equal(t, f.EtherType, decoded.EtherType)
	assert.True(t, decoded.HasVLAN)
	assert.Equal(t, f.VLAN, decoded.VLAN)
	assert.False(t, decoded.HasOuterVLAN)
	assert.True(t, decoded.HasIPv4)
	assert.Equal(t, f.SrcIP, decoded.SrcIP)
	assert.Equal(t, f.DstIP, decoded.DstIP)
	assert.Equal(t, f.IPProto, decoded.IPProto)
	assert.Equal(t, f.TTL, decoded.TTL)
	assert.True(t, decoded.HasL4)
	assert.Equal(t, f.SrcPort, decoded.SrcPort)
	assert.Equal(t, f.DstPort, decoded.DstPort)
	assert.Equal(t, f.TCPFlags, decoded.TCPFlags)
	assert.Equal(t, f.FrameSize, decoded.FrameSize)
	assert.Equal(t, f.PayloadSize, decoded.PayloadSize)
}

func TestEncodeDecodeFrameQinQ(t *testing.T) {
	f := Frame{
		Timestamp:    time.Now().UTC(),
		Interface:    "eth1",
		SrcMAC:       MAC{1, 2, 3, 4, 5, 6},
		DstMAC:       MAC{7, 8, 9, 10, 11, 12},
		EtherType:    0x8100,
		HasVLAN:      true,
		VLAN:         VLANTag{ID: 200},
		HasOuterVLAN: true,
		OuterVLAN:    VLANTag{ID: 10},
	}

	encoded := f.Encode(nil)
	decoded, _, err := DecodeFrame(encoded)
	require.NoError(t, err)

	id, ok := decoded.VLANID()
	assert.True(t, ok)
	assert.Equal(t, uint16(200), id)

	outer, ok := decoded.OuterVLANID()
	assert.True(t, ok)
	assert.Equal(t, uint16(10), outer)
}

func TestDecodeFrameRejectsUnknownVersion(t *testing.T) {
	_, _, err := DecodeFrame([]byte{99, 0, 0})
	assert.Error(t, err)
}

func TestDecodeFrameRejectsTruncatedBuffer(t *testing.T) {
	f := Frame{Interface: "eth0"}
	encoded := f.Encode(nil)
	_, _, err := DecodeFrame(encoded[:len(encoded)-1])
	assert.Error(t, err)
}

func TestVLANFromTCI(t *testing.T) {
	// priority=5 (101), dei=1, vid=0x064 (100)
	tci := uint16(0b101_1_000001100100)
	v := VLANFromTCI(tci)
	assert.Equal(t, uint16(100), v.ID)
	assert.Equal(t, uint8(5), v.Priority)
	assert.True(t, v.DEI)
}

func TestMACHelpers(t *testing.T) {
	broadcast := MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	assert.True(t, broadcast.IsBroadcast())
	assert.True(t, broadcast.IsMulticast())

	unicast := MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	assert.False(t, unicast.IsBroadcast())
	assert.False(t, unicast.IsMulticast())

	multicast := MAC{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	assert.True(t, multicast.IsMulticast())
	assert.False(t, multicast.IsBroadcast())
}
