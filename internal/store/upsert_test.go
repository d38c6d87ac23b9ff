package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/netsentinel/netsentinel/internal/aggregator"
)

func TestIPValueRendersZeroSentinelAsNull(t *testing.T) {
	assert.Nil(t, ipValue([4]byte{}))
}

func TestIPValueRendersRealAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.1", ipValue([4]byte{10, 0, 0, 1}))
}

func TestTCPFlagCountOnlyCountsFlowsCarryingTheBit(t *testing.T) {
	const synBit, rstBit uint8 = 0x02, 0x04

	assert.Equal(t, uint64(5), tcpFlagCount(synBit, synBit, 5))
	assert.Equal(t, uint64(0), tcpFlagCount(synBit, rstBit, 5))
	assert.Equal(t, uint64(0), tcpFlagCount(0, synBit, 5))
}

func TestOUIPrefixStringFormatsAsColonHex(t *testing.T) {
	assert.Equal(t, "AA:BB:CC", ouiPrefixString([3]byte{0xAA, 0xBB, 0xCC}))
}

func TestFlowEntityIDIsStableForIdenticalKeys(t *testing.T) {
	d := aggregator.FlowDelta{
		SrcMAC: "aa:aa:aa:00:00:01", DstMAC: "bb:bb:bb:00:00:01",
		SrcPort: 5000, DstPort: 80, VLANID: 10, IPProto: 6,
	}
	assert.Equal(t, flowEntityID(d), flowEntityID(d))

	other := d
	other.SrcPort = 5001
	assert.NotEqual(t, flowEntityID(d), flowEntityID(other))
}
