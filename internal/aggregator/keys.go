package aggregator

import (
	"fmt"
	"net"

	"github.com/netsentinel/netsentinel/internal/wire"
)

func macFromString(s string) (wire.MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return wire.MAC{}, err
	}
	return wire.MACFromBytes(hw)
}

// flowKeyString renders a FlowKey for event payloads and log fields; it
// is never parsed back, only displayed.
func flowKeyString(k FlowKey) string {
	return fmt.Sprintf("%s>%s %d.%d.%d.%d:%d->%d.%d.%d.%d:%d vlan=%d proto=%d",
		k.SrcMAC, k.DstMAC,
		k.SrcIP[0], k.SrcIP[1], k.SrcIP[2], k.SrcIP[3], k.SrcPort,
		k.DstIP[0], k.DstIP[1], k.DstIP[2], k.DstIP[3], k.DstPort,
		k.VLANID, k.IPProto)
}
