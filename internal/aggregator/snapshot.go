package aggregator

import "time"

// DeviceDelta is one Device row's drained delta, ready for an additive
// upsert into the durable store.
type DeviceDelta struct {
	MAC         MACString
	OUIVendor   string
	OUIPrefix   [3]byte
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketsSent uint64
	PacketsRecv uint64
	BytesSent   uint64
	BytesRecv   uint64
}

// MACString is the canonical colon-hex form of a MAC, used as the
// persister-facing key so internal/store never imports internal/wire.
type MACString = string

// DeviceIPDelta is one Device-IP row's drained delta.
type DeviceIPDelta struct {
	MAC         MACString
	IP          [4]byte
	VLANID      uint16
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount uint64
	ByteCount   uint64
}

// VLANDelta is one VLAN catalog row's drained delta.
type VLANDelta struct {
	VLANID      uint16
	OuterVLANID uint16
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount uint64
	ByteCount   uint64
}

// FlowDelta is one Flow row's drained delta. OuterVLANID is a plain
// attribute, not part of the flow's identity key.
type FlowDelta struct {
	SrcMAC       MACString
	DstMAC       MACString
	SrcIP        [4]byte
	DstIP        [4]byte
	SrcPort      uint16
	DstPort      uint16
	VLANID       uint16
	OuterVLANID  uint16
	IPProto      uint8
	FirstSeen    time.Time
	LastSeen     time.Time
	PacketCount  uint64
	ByteCount    uint64
	TCPFlagsSeen uint8
}

// ProtocolDelta is one Protocol bucket row's drained delta.
type ProtocolDelta struct {
	EtherType   uint16
	IPProto     uint8
	HasIPProto  bool
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount uint64
	ByteCount   uint64
}

// Snapshot is the full set of drained deltas for one persistence cycle,
// in the fixed transaction order Devices -> Device-IPs -> VLANs -> Flows
// -> Protocols (Traffic-Metrics are derived from the Flow/Device deltas
// by the Store's UpsertTrafficMetrics, see internal/store/upsert.go).
type Snapshot struct {
	Devices   []DeviceDelta
	DeviceIPs []DeviceIPDelta
	VLANs     []VLANDelta
	Flows     []FlowDelta
	Protocols []ProtocolDelta
}

// Snapshot atomically drains the delta half of every dirty record across
// all shards, plus any flows evicted by the flow_cap LRU path since the
// last snapshot, and returns them as a Snapshot for the persister to
// commit. Cumulative counters and live map membership are untouched.
func (m *Model) Snapshot() Snapshot {
	var snap Snapshot

	for _, shard := range m.devices {
		shard.mu.Lock()
		for _, rec := range shard.data {
			sent, recv := rec.PacketsSent.drain(), rec.PacketsRecv.drain()
			bSent, bRecv := rec.BytesSent.drain(), rec.BytesRecv.drain()
			if sent == 0 && recv == 0 && bSent == 0 && bRecv == 0 {
				continue
			}
			snap.Devices = append(snap.Devices, DeviceDelta{
				MAC: rec.MAC.String(), OUIVendor: rec.OUIVendor, OUIPrefix: rec.OUIPrefix,
				FirstSeen: rec.FirstSeen, LastSeen: rec.LastSeen,
				PacketsSent: sent, PacketsRecv: recv, BytesSent: bSent, BytesRecv: bRecv,
			})
		}
		shard.mu.Unlock()
	}

	for _, shard := range m.deviceIPs {
		shard.mu.Lock()
		for _, rec := range shard.data {
			pc, bc := rec.PacketCount.drain(), rec.ByteCount.drain()
			if pc == 0 && bc == 0 {
				continue
			}
			snap.DeviceIPs = append(snap.DeviceIPs, DeviceIPDelta{
				MAC: rec.Key.MAC.String(), IP: rec.Key.IP, VLANID: rec.Key.VLANID,
				FirstSeen: rec.FirstSeen, LastSeen: rec.LastSeen,
				PacketCount: pc, ByteCount: bc,
			})
		}
		shard.mu.Unlock()
	}

	for _, shard := range m.vlans {
		shard.mu.Lock()
		for _, rec := range shard.data {
			pc, bc := rec.PacketCount.drain(), rec.ByteCount.drain()
			if pc == 0 && bc == 0 {
				continue
			}
			snap.VLANs = append(snap.VLANs, VLANDelta{
				VLANID: rec.Key.VLANID, OuterVLANID: rec.Key.OuterVLANID,
				FirstSeen: rec.FirstSeen, LastSeen: rec.LastSeen,
				PacketCount: pc, ByteCount: bc,
			})
		}
		shard.mu.Unlock()
	}

	for _, shard := range m.flows {
		shard.mu.Lock()
		for _, rec := range shard.data {
			pc, bc := rec.PacketCount.drain(), rec.ByteCount.drain()
			flags := rec.TCPFlagsSeen
			rec.TCPFlagsSeen = 0
			if pc == 0 && bc == 0 && flags == 0 {
				continue
			}
			snap.Flows = append(snap.Flows, flowRecordToDelta(rec, pc, bc, flags))
		}
		shard.mu.Unlock()
	}

	m.evictMu.Lock()
	evicted := m.evictedFlows
	m.evictedFlows = nil
	m.evictMu.Unlock()
	for _, rec := range evicted {
		pc, bc := rec.PacketCount.drain(), rec.ByteCount.drain()
		flags := rec.TCPFlagsSeen
		snap.Flows = append(snap.Flows, flowRecordToDelta(rec, pc, bc, flags))
	}

	for _, shard := range m.protocols {
		shard.mu.Lock()
		for _, rec := range shard.data {
			pc, bc := rec.PacketCount.drain(), rec.ByteCount.drain()
			if pc == 0 && bc == 0 {
				continue
			}
			snap.Protocols = append(snap.Protocols, ProtocolDelta{
				EtherType: rec.Key.EtherType, IPProto: rec.Key.IPProto, HasIPProto: rec.Key.HasIPProto,
				FirstSeen: rec.FirstSeen, LastSeen: rec.LastSeen,
				PacketCount: pc, ByteCount: bc,
			})
		}
		shard.mu.Unlock()
	}

	return snap
}

func flowRecordToDelta(rec *FlowRecord, packetCount, byteCount uint64, flags uint8) FlowDelta {
	return FlowDelta{
		SrcMAC: rec.Key.SrcMAC.String(), DstMAC: rec.Key.DstMAC.String(),
		SrcIP: rec.Key.SrcIP, DstIP: rec.Key.DstIP,
		SrcPort: rec.Key.SrcPort, DstPort: rec.Key.DstPort,
		VLANID: rec.Key.VLANID, OuterVLANID: rec.OuterVLANID, IPProto: rec.Key.IPProto,
		FirstSeen: rec.FirstSeen, LastSeen: rec.LastSeen,
		PacketCount: packetCount, ByteCount: byteCount, TCPFlagsSeen: flags,
	}
}

// Restore folds a snapshot back into the live model after a failed
// persistence attempt, per the commit failure rule: restored deltas are
// summed with anything that accumulated in the meantime rather than
// overwriting it. Evicted flows that have no live record to restore into
// are re-queued for the next cycle's persistence attempt directly.
func (m *Model) Restore(snap Snapshot) {
	for _, d := range snap.Devices {
		mac, err := macFromString(d.MAC)
		if err != nil {
			continue
		}
		shard := m.deviceShardFor(mac)
		shard.mu.Lock()
		if rec, ok := shard.data[mac]; ok {
			rec.PacketsSent.restore(d.PacketsSent)
			rec.PacketsRecv.restore(d.PacketsRecv)
			rec.BytesSent.restore(d.BytesSent)
			rec.BytesRecv.restore(d.BytesRecv)
		}
		shard.mu.Unlock()
	}

	for _, d := range snap.DeviceIPs {
		mac, err := macFromString(d.MAC)
		if err != nil {
			continue
		}
		key := DeviceIPKey{MAC: mac, IP: d.IP, VLANID: d.VLANID}
		shard := m.deviceIPShardFor(key)
		shard.mu.Lock()
		if rec, ok := shard.data[key]; ok {
			rec.PacketCount.restore(d.PacketCount)
			rec.ByteCount.restore(d.ByteCount)
		}
		shard.mu.Unlock()
	}

	for _, d := range snap.VLANs {
		key := VLANKey{VLANID: d.VLANID, OuterVLANID: d.OuterVLANID}
		shard := m.vlanShardFor(key)
		shard.mu.Lock()
		if rec, ok := shard.data[key]; ok {
			rec.PacketCount.restore(d.PacketCount)
			rec.ByteCount.restore(d.ByteCount)
		}
		shard.mu.Unlock()
	}

	for _, d := range snap.Flows {
		srcMAC, err1 := macFromString(d.SrcMAC)
		dstMAC, err2 := macFromString(d.DstMAC)
		if err1 != nil || err2 != nil {
			continue
		}
		key := FlowKey{
			SrcMAC: srcMAC, DstMAC: dstMAC, SrcIP: d.SrcIP, DstIP: d.DstIP,
			SrcPort: d.SrcPort, DstPort: d.DstPort, VLANID: d.VLANID, IPProto: d.IPProto,
		}
		shard := m.flowShardFor(key)
		shard.mu.Lock()
		rec, ok := shard.data[key]
		shard.mu.Unlock()
		if ok {
			shard.mu.Lock()
			rec.PacketCount.restore(d.PacketCount)
			rec.ByteCount.restore(d.ByteCount)
			rec.TCPFlagsSeen |= d.TCPFlagsSeen
			shard.mu.Unlock()
			continue
		}

		// Record was evicted before the failed attempt; requeue it whole.
		restored := &FlowRecord{
			Key: key, OuterVLANID: d.OuterVLANID, FirstSeen: d.FirstSeen, LastSeen: d.LastSeen,
			TCPFlagsSeen: d.TCPFlagsSeen,
		}
		restored.PacketCount.restore(d.PacketCount)
		restored.ByteCount.restore(d.ByteCount)
		m.evictMu.Lock()
		m.evictedFlows = append(m.evictedFlows, restored)
		m.evictMu.Unlock()
	}

	for _, d := range snap.Protocols {
		key := ProtocolKey{EtherType: d.EtherType, IPProto: d.IPProto, HasIPProto: d.HasIPProto}
		shard := m.protocolShardFor(key)
		shard.mu.Lock()
		if rec, ok := shard.data[key]; ok {
			rec.PacketCount.restore(d.PacketCount)
			rec.ByteCount.restore(d.ByteCount)
		}
		shard.mu.Unlock()
	}
}
