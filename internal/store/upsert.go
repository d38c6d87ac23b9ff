package store

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/netsentinel/netsentinel/internal/aggregator"
)

// UpsertDevices additively upserts one row per delta, keyed on mac.
// Counters are summed into the existing row; last_seen takes the
// maximum and first_seen the minimum, matching the persister's merge
// rule.
func (db *DB) UpsertDevices(ctx context.Context, deltas []aggregator.DeviceDelta) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		for _, d := range deltas {
			_, err := tx.Exec(ctx, `
				INSERT INTO devices (mac, oui_vendor, oui_prefix, first_seen, last_seen,
					packets_sent, packets_received, bytes_sent, bytes_received)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (mac) DO UPDATE SET
					oui_vendor = EXCLUDED.oui_vendor,
					oui_prefix = EXCLUDED.oui_prefix,
					first_seen = LEAST(devices.first_seen, EXCLUDED.first_seen),
					last_seen = GREATEST(devices.last_seen, EXCLUDED.last_seen),
					packets_sent = devices.packets_sent + EXCLUDED.packets_sent,
					packets_received = devices.packets_received + EXCLUDED.packets_received,
					bytes_sent = devices.bytes_sent + EXCLUDED.bytes_sent,
					bytes_received = devices.bytes_received + EXCLUDED.bytes_received
			`, d.MAC, d.OUIVendor, ouiPrefixString(d.OUIPrefix), d.FirstSeen, d.LastSeen,
				d.PacketsSent, d.PacketsRecv, d.BytesSent, d.BytesRecv)
			if err != nil {
				return fmt.Errorf("store: upsert device %s: %w", d.MAC, err)
			}
		}
		return nil
	})
}

// UpsertDeviceIPs additively upserts one row per delta, keyed on
// (device_mac, ip, COALESCE(vlan_id, -1)).
func (db *DB) UpsertDeviceIPs(ctx context.Context, deltas []aggregator.DeviceIPDelta) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		for _, d := range deltas {
			var vlan interface{}
			if d.VLANID != 0 {
				vlan = int32(d.VLANID)
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO device_ips (device_mac, ip, vlan_id, first_seen, last_seen, packets, bytes)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (device_mac, ip, (COALESCE(vlan_id, -1))) DO UPDATE SET
					first_seen = LEAST(device_ips.first_seen, EXCLUDED.first_seen),
					last_seen = GREATEST(device_ips.last_seen, EXCLUDED.last_seen),
					packets = device_ips.packets + EXCLUDED.packets,
					bytes = device_ips.bytes + EXCLUDED.bytes
			`, d.MAC, ipString(d.IP), vlan, d.FirstSeen, d.LastSeen, d.PacketCount, d.ByteCount)
			if err != nil {
				return fmt.Errorf("store: upsert device_ip %s/%s: %w", d.MAC, ipString(d.IP), err)
			}
		}
		return nil
	})
}

// UpsertVLANs additively upserts one row per delta, keyed on (vlan_id,
// COALESCE(outer_vlan_id, -1)).
func (db *DB) UpsertVLANs(ctx context.Context, deltas []aggregator.VLANDelta) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		for _, d := range deltas {
			var outer interface{}
			if d.OuterVLANID != 0 {
				outer = int32(d.OuterVLANID)
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO vlans (vlan_id, outer_vlan_id, first_seen, last_seen, packets, bytes)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (vlan_id, (COALESCE(outer_vlan_id, -1))) DO UPDATE SET
					first_seen = LEAST(vlans.first_seen, EXCLUDED.first_seen),
					last_seen = GREATEST(vlans.last_seen, EXCLUDED.last_seen),
					packets = vlans.packets + EXCLUDED.packets,
					bytes = vlans.bytes + EXCLUDED.bytes
			`, int32(d.VLANID), outer, d.FirstSeen, d.LastSeen, d.PacketCount, d.ByteCount)
			if err != nil {
				return fmt.Errorf("store: upsert vlan %d: %w", d.VLANID, err)
			}
		}
		return nil
	})
}

// UpsertFlows additively upserts one row per delta, keyed on the 8-tuple
// unique constraint. tcp_flags_seen is merged with a bitwise OR.
func (db *DB) UpsertFlows(ctx context.Context, deltas []aggregator.FlowDelta) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		for _, d := range deltas {
			var outer interface{}
			if d.OuterVLANID != 0 {
				outer = int32(d.OuterVLANID)
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO flows (src_mac, dst_mac, src_ip, dst_ip, src_port, dst_port, vlan_id,
					outer_vlan_id, ip_protocol, first_seen, last_seen, packet_count, byte_count, tcp_flags_seen,
					src_device_mac, dst_device_mac)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $1, $2)
				ON CONFLICT (src_mac, dst_mac, src_ip, dst_ip, src_port, dst_port, vlan_id, ip_protocol)
				DO UPDATE SET
					first_seen = LEAST(flows.first_seen, EXCLUDED.first_seen),
					last_seen = GREATEST(flows.last_seen, EXCLUDED.last_seen),
					packet_count = flows.packet_count + EXCLUDED.packet_count,
					byte_count = flows.byte_count + EXCLUDED.byte_count,
					tcp_flags_seen = flows.tcp_flags_seen | EXCLUDED.tcp_flags_seen,
					outer_vlan_id = EXCLUDED.outer_vlan_id
			`, d.SrcMAC, d.DstMAC, ipValue(d.SrcIP), ipValue(d.DstIP), int32(d.SrcPort), int32(d.DstPort),
				int32(d.VLANID), outer, int32(d.IPProto), d.FirstSeen, d.LastSeen, d.PacketCount, d.ByteCount, int16(d.TCPFlagsSeen))
			if err != nil {
				return fmt.Errorf("store: upsert flow %s->%s: %w", d.SrcMAC, d.DstMAC, err)
			}
		}
		return nil
	})
}

// UpsertProtocols additively upserts one row per delta, keyed on
// (ethertype, COALESCE(ip_protocol, -1)).
func (db *DB) UpsertProtocols(ctx context.Context, deltas []aggregator.ProtocolDelta) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		for _, d := range deltas {
			var ipProto interface{}
			if d.HasIPProto {
				ipProto = int32(d.IPProto)
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO protocols (ethertype, ip_protocol, first_seen, last_seen, packet_count, byte_count)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (ethertype, (COALESCE(ip_protocol, -1))) DO UPDATE SET
					first_seen = LEAST(protocols.first_seen, EXCLUDED.first_seen),
					last_seen = GREATEST(protocols.last_seen, EXCLUDED.last_seen),
					packet_count = protocols.packet_count + EXCLUDED.packet_count,
					byte_count = protocols.byte_count + EXCLUDED.byte_count
			`, int32(d.EtherType), ipProto, d.FirstSeen, d.LastSeen, d.PacketCount, d.ByteCount)
			if err != nil {
				return fmt.Errorf("store: upsert protocol %d/%v: %w", d.EtherType, ipProto, err)
			}
		}
		return nil
	})
}

// UpsertTrafficMetrics derives bucketed rows for (device_in, device_out,
// flow) from the same snapshot and additively upserts them into the
// traffic_metrics hypertable, keyed on (bucket, entity_id, metric_type).
// Rows whose bucket is older than maxBucketLookback are the caller's
// responsibility to have already excluded; this method trusts bucket as
// given.
func (db *DB) UpsertTrafficMetrics(ctx context.Context, bucket time.Time, snap aggregator.Snapshot) error {
	type row struct {
		entityID    string
		metricType  string
		packetCount uint64
		byteCount   uint64
		size        uint32
		tcpSyn      uint64
		tcpRst      uint64
		tcpFin      uint64
	}
	var rows []row

	for _, d := range snap.Devices {
		if d.PacketsSent > 0 || d.BytesSent > 0 {
			rows = append(rows, row{entityID: d.MAC, metricType: "device_out", packetCount: d.PacketsSent, byteCount: d.BytesSent})
		}
		if d.PacketsRecv > 0 || d.BytesRecv > 0 {
			rows = append(rows, row{entityID: d.MAC, metricType: "device_in", packetCount: d.PacketsRecv, byteCount: d.BytesRecv})
		}
	}
	for _, d := range snap.Flows {
		avgSize := uint32(0)
		if d.PacketCount > 0 {
			avgSize = uint32(d.ByteCount / d.PacketCount)
		}
		rows = append(rows, row{
			entityID: flowEntityID(d), metricType: "flow",
			packetCount: d.PacketCount, byteCount: d.ByteCount, size: avgSize,
			tcpSyn: tcpFlagCount(d.TCPFlagsSeen, 0x02, d.PacketCount),
			tcpRst: tcpFlagCount(d.TCPFlagsSeen, 0x04, d.PacketCount),
			tcpFin: tcpFlagCount(d.TCPFlagsSeen, 0x01, d.PacketCount),
		})
	}

	if len(rows) == 0 {
		return nil
	}

	return db.withTx(ctx, func(tx pgx.Tx) error {
		for _, r := range rows {
			_, err := tx.Exec(ctx, `
				INSERT INTO traffic_metrics (bucket, entity_id, metric_type, packet_count, byte_count,
					min_pkt_size, max_pkt_size, sum_pkt_size, pkt_count, tcp_syn_count, tcp_rst_count, tcp_fin_count)
				VALUES ($1, $2, $3, $4, $5, $6, $6, $6 * $9, $9, $7, $8, $10)
				ON CONFLICT (bucket, entity_id, metric_type) DO UPDATE SET
					packet_count = traffic_metrics.packet_count + EXCLUDED.packet_count,
					byte_count = traffic_metrics.byte_count + EXCLUDED.byte_count,
					min_pkt_size = LEAST(traffic_metrics.min_pkt_size, EXCLUDED.min_pkt_size),
					max_pkt_size = GREATEST(traffic_metrics.max_pkt_size, EXCLUDED.max_pkt_size),
					sum_pkt_size = traffic_metrics.sum_pkt_size + EXCLUDED.sum_pkt_size,
					pkt_count = traffic_metrics.pkt_count + EXCLUDED.pkt_count,
					tcp_syn_count = traffic_metrics.tcp_syn_count + EXCLUDED.tcp_syn_count,
					tcp_rst_count = traffic_metrics.tcp_rst_count + EXCLUDED.tcp_rst_count,
					tcp_fin_count = traffic_metrics.tcp_fin_count + EXCLUDED.tcp_fin_count
			`, bucket, r.entityID, r.metricType, r.packetCount, r.byteCount, int32(r.size),
				r.tcpSyn, r.tcpRst, r.packetCount, r.tcpFin)
			if err != nil {
				return fmt.Errorf("store: upsert traffic_metrics %s/%s: %w", r.entityID, r.metricType, err)
			}
		}
		return nil
	})
}

// tcpFlagCount approximates the per-bucket sub-count for one TCP flag
// bit from the OR'd flags-seen byte: since A2 only tracks the union of
// observed bits rather than a per-packet histogram, any flow delta that
// carries the bit contributes its whole packet_count to that sub-count.
func tcpFlagCount(flagsSeen uint8, bit uint8, packetCount uint64) uint64 {
	if flagsSeen&bit != 0 {
		return packetCount
	}
	return 0
}

func flowEntityID(d aggregator.FlowDelta) string {
	return fmt.Sprintf("%s/%s:%d>%s/%s:%d/%d/%d",
		d.SrcMAC, ipString(d.SrcIP), d.SrcPort, d.DstMAC, ipString(d.DstIP), d.DstPort, d.VLANID, d.IPProto)
}

func ouiPrefixString(b [3]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X", b[0], b[1], b[2])
}

func ipString(b [4]byte) string {
	return net.IP(b[:]).String()
}

// ipValue renders b as a nullable INET parameter: the Flow data model
// uses the zero address as the "absent" sentinel for non-IPv4 flows, and
// that sentinel must be stored as NULL rather than the literal address
// 0.0.0.0.
func ipValue(b [4]byte) interface{} {
	if b == ([4]byte{}) {
		return nil
	}
	return net.IP(b[:]).String()
}

func (db *DB) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
