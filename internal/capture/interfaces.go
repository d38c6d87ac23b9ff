package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// InterfaceInfo describes one link available for binding, surfaced via
// the --list-interfaces CLI flag.
type InterfaceInfo struct {
	Name        string
	Description string
	Addresses   []string
	Up          bool
}

// ListInterfaces enumerates the host's network interfaces the way
// pcap.FindAllDevs does, without requiring any of them to already be
// bound.
func ListInterfaces() ([]InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate interfaces: %w", err)
	}

	infos := make([]InterfaceInfo, 0, len(devs))
	for _, dev := range devs {
		info := InterfaceInfo{
			Name:        dev.Name,
			Description: dev.Description,
			Up:          dev.Flags != 0,
		}
		for _, addr := range dev.Addresses {
			if addr.IP != nil {
				info.Addresses = append(info.Addresses, addr.IP.String())
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}
