// Package oui resolves the IEEE-assigned vendor name for the OUI (first
// three octets) of a MAC address. The lookup table is a small static
// snapshot of common network and consumer-device vendors; it is a
// best-effort enrichment for the Device catalog's oui_vendor field, not
// an authoritative or exhaustive registry.
package oui

import "fmt"

// vendors maps an OUI prefix (uppercase, colon-separated) to a vendor name.
var vendors = map[string]string{
	"00:1A:2B": "Cisco Systems",
	"00:50:56": "VMware",
	"00:0C:29": "VMware",
	"00:05:69": "VMware",
	"08:00:27": "Oracle VirtualBox",
	"52:54:00": "QEMU/KVM",
	"00:15:5D": "Microsoft Hyper-V",
	"B8:27:EB": "Raspberry Pi Foundation",
	"DC:A6:32": "Raspberry Pi Foundation",
	"E4:5F:01": "Raspberry Pi Foundation",
	"00:1B:63": "Apple",
	"A4:83:E7": "Apple",
	"F0:18:98": "Apple",
	"3C:15:C2": "Apple",
	"00:17:88": "Philips Lighting",
	"EC:B5:FA": "Belkin",
	"C0:56:27": "Samsung Electronics",
	"00:26:B0": "Samsung Electronics",
	"F4:F5:D8": "Google",
	"DA:A1:19": "Google",
	"18:B4:30": "Nest Labs",
	"64:16:66": "Amazon Technologies",
	"AC:63:BE": "Amazon Technologies",
	"00:04:F2": "Polycom",
	"00:1D:D8": "Microsoft",
	"00:E0:4C": "Realtek",
	"00:90:A9": "Western Digital",
	"00:11:32": "Synology",
	"00:0D:B9": "Ubiquiti Networks",
	"24:A4:3C": "Ubiquiti Networks",
	"F0:9F:C2": "Ubiquiti Networks",
	"00:15:6D": "Ubiquiti Networks",
	"00:E0:0C": "Curtiss-Wright (SCADA/PLC)",
	"00:0F:8C": "GE Fanuc (SCADA/PLC)",
	"00:1D:9C": "Siemens (PLC/HMI)",
	"08:00:06": "Siemens",
	"00:1C:06": "Rockwell Automation (PLC)",
}

// Lookup returns the vendor name for a MAC's OUI prefix, and whether one
// was found in the static table.
func Lookup(oui [3]byte) (string, bool) {
	key := fmt.Sprintf("%02X:%02X:%02X", oui[0], oui[1], oui[2])
	name, ok := vendors[key]
	return name, ok
}

// Prefix renders the OUI prefix as a colon-separated hex string, the
// format stored in the Device catalog's oui_prefix column.
func Prefix(oui [3]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X", oui[0], oui[1], oui[2])
}
