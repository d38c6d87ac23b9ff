// Package aggregator implements the aggregation pipeline: consuming the
// frame stream (A1), maintaining a sharded in-memory model of devices,
// flows and protocol counters (A2), periodically persisting deltas into
// the relational store (A3), and publishing domain events (A4).
package aggregator

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/netsentinel/netsentinel/internal/oui"
	"github.com/netsentinel/netsentinel/internal/wire"
)

const shardCount = 256

// counterPair holds a persisted-mirror cumulative counter alongside the
// delta accumulated since the last persistence cycle. Both are updated
// together; only delta is zeroed on drain.
type counterPair struct {
	cumulative uint64
	delta      uint64
}

func (c *counterPair) add(n uint64) {
	c.cumulative += n
	c.delta += n
}

func (c *counterPair) drain() uint64 {
	d := c.delta
	c.delta = 0
	return d
}

// restore adds n back into the delta after a failed persistence attempt,
// without touching cumulative (which was never rolled back).
func (c *counterPair) restore(n uint64) {
	c.delta += n
}

// DeviceIPKey identifies one (device, IP, VLAN) tuple. VLANID is 0 when
// the frame carried no VLAN tag, matching the sentinel convention used
// throughout the data model's unique keys.
type DeviceIPKey struct {
	MAC    wire.MAC
	IP     [4]byte
	VLANID uint16
}

// VLANKey identifies one VLAN catalog entry. OuterVLANID is 0 outside
// 802.1ad QinQ frames.
type VLANKey struct {
	VLANID      uint16
	OuterVLANID uint16
}

// FlowKey is the 8-tuple that uniquely identifies a directional flow.
type FlowKey struct {
	SrcMAC  wire.MAC
	DstMAC  wire.MAC
	SrcIP   [4]byte
	DstIP   [4]byte
	SrcPort uint16
	DstPort uint16
	VLANID  uint16
	IPProto uint8
}

// ProtocolKey identifies one protocol bucket. HasIPProto is false for
// non-IPv4 ethertypes, matching the (ethertype, ip_protocol|nil) key.
type ProtocolKey struct {
	EtherType  uint16
	IPProto    uint8
	HasIPProto bool
}

// DeviceRecord is the in-memory mirror of one durable Device row.
type DeviceRecord struct {
	MAC        wire.MAC
	OUIVendor  string
	OUIPrefix  [3]byte
	FirstSeen  time.Time
	LastSeen   time.Time
	PacketsSent counterPair
	PacketsRecv counterPair
	BytesSent   counterPair
	BytesRecv   counterPair
	IsGateway  bool
	IsFlagged  bool
}

// IsActive reports whether the device has been seen within window of now,
// the derived activity flag from the data model.
func (d *DeviceRecord) IsActive(now time.Time, window time.Duration) bool {
	return now.Sub(d.LastSeen) < window
}

// DeviceIPRecord is the in-memory mirror of one Device-IP row.
type DeviceIPRecord struct {
	Key         DeviceIPKey
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount counterPair
	ByteCount   counterPair
}

// VLANRecord is the in-memory mirror of one VLAN catalog row.
type VLANRecord struct {
	Key         VLANKey
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount counterPair
	ByteCount   counterPair
}

// FlowRecord is the in-memory mirror of one Flow row. OuterVLANID is not
// part of the key: it is a QinQ attribute of the flow, not a
// discriminator, so it rides along on the record the same way VLANID's
// own outer tag rides on VLANRecord.
type FlowRecord struct {
	Key           FlowKey
	OuterVLANID   uint16
	FirstSeen     time.Time
	LastSeen      time.Time
	PacketCount   counterPair
	ByteCount     counterPair
	TCPFlagsSeen  uint8
}

// ProtocolRecord is the in-memory mirror of one Protocol bucket row.
type ProtocolRecord struct {
	Key         ProtocolKey
	FirstSeen   time.Time
	LastSeen    time.Time
	PacketCount counterPair
	ByteCount   counterPair
}

// deviceShard, deviceIPShard, vlanShard, flowShard and protocolShard each
// pair a map with the mutex guarding it: one lock domain per shard, never
// a global lock held across a full frame update.
type deviceShard struct {
	mu   sync.Mutex
	data map[wire.MAC]*DeviceRecord
}

type deviceIPShard struct {
	mu   sync.Mutex
	data map[DeviceIPKey]*DeviceIPRecord
}

type vlanShard struct {
	mu   sync.Mutex
	data map[VLANKey]*VLANRecord
}

type flowShard struct {
	mu   sync.Mutex
	data map[FlowKey]*FlowRecord
}

type protocolShard struct {
	mu   sync.Mutex
	data map[ProtocolKey]*ProtocolRecord
}

// NewEvent describes a newly created Device or Flow, handed to A4.
type NewEvent struct {
	Kind      string // "new_device" or "new_flow"
	Key       string
	FirstSeen time.Time
}

// EventSink receives NewEvent notifications from the model. It must not
// block the caller for long: Model.ProcessFrame calls it synchronously
// on the hot ingest path.
type EventSink interface {
	Notify(NewEvent)
}

// Model is the A2 in-memory model: sharded concurrent maps for Devices,
// Device-IPs, VLANs, Flows and Protocols, each entry carrying a
// cumulative/delta counter pair that the persister drains on each
// successful cycle.
type Model struct {
	devices   []*deviceShard
	deviceIPs []*deviceIPShard
	vlans     []*vlanShard
	flows     []*flowShard
	protocols []*protocolShard

	flowCap int

	evictMu      sync.Mutex
	evictedFlows []*FlowRecord
	flowsEvicted uint64

	sink EventSink
}

// NewModel constructs an empty Model. flowCap bounds the number of
// tracked flows; 0 disables the LRU eviction path.
func NewModel(flowCap int, sink EventSink) *Model {
	m := &Model{
		devices:   make([]*deviceShard, shardCount),
		deviceIPs: make([]*deviceIPShard, shardCount),
		vlans:     make([]*vlanShard, shardCount),
		flows:     make([]*flowShard, shardCount),
		protocols: make([]*protocolShard, shardCount),
		flowCap:   flowCap,
		sink:      sink,
	}
	for i := 0; i < shardCount; i++ {
		m.devices[i] = &deviceShard{data: make(map[wire.MAC]*DeviceRecord)}
		m.deviceIPs[i] = &deviceIPShard{data: make(map[DeviceIPKey]*DeviceIPRecord)}
		m.vlans[i] = &vlanShard{data: make(map[VLANKey]*VLANRecord)}
		m.flows[i] = &flowShard{data: make(map[FlowKey]*FlowRecord)}
		m.protocols[i] = &protocolShard{data: make(map[ProtocolKey]*ProtocolRecord)}
	}
	return m
}

func shardIndex(b []byte) uint32 {
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32() % shardCount
}

func (m *Model) deviceShardFor(mac wire.MAC) *deviceShard {
	return m.devices[shardIndex(mac[:])]
}

func (m *Model) deviceIPShardFor(k DeviceIPKey) *deviceIPShard {
	return m.deviceIPs[shardIndex(k.MAC[:])]
}

func (m *Model) vlanShardFor(k VLANKey) *vlanShard {
	var b [4]byte
	b[0], b[1] = byte(k.VLANID>>8), byte(k.VLANID)
	b[2], b[3] = byte(k.OuterVLANID>>8), byte(k.OuterVLANID)
	return m.vlans[shardIndex(b[:])]
}

func (m *Model) flowShardFor(k FlowKey) *flowShard {
	return m.flows[shardIndex(k.SrcMAC[:])]
}

func (m *Model) protocolShardFor(k ProtocolKey) *protocolShard {
	b := []byte{byte(k.EtherType >> 8), byte(k.EtherType), k.IPProto}
	return m.protocols[shardIndex(b)]
}

// ProcessFrame applies the update rule for one Canonical Frame: touch or
// create the source and destination Devices and their Device-IPs, touch
// or create the Flow, touch or create the Protocol bucket, and fold in
// the frame's VLAN contribution when present.
func (m *Model) ProcessFrame(f *wire.Frame) {
	now := f.Timestamp
	vlanID, hasVLAN := f.VLANID()
	outerVLANID, _ := f.OuterVLANID()

	srcIsNew := m.touchDevice(f.SrcMAC, f.SrcIP, f.HasIPv4, vlanID, f.FrameSize, now, true)
	if srcIsNew {
		m.notifyNew("new_device", f.SrcMAC.String(), now)
	}

	// Destination devices are only tracked when the destination MAC is a
	// real endpoint: broadcast and multicast destinations do not denote
	// inventory, per the data model's recommended ingress filter.
	if !f.DstMAC.IsBroadcast() && !f.DstMAC.IsMulticast() {
		dstIsNew := m.touchDevice(f.DstMAC, f.DstIP, f.HasIPv4, vlanID, f.FrameSize, now, false)
		if dstIsNew {
			m.notifyNew("new_device", f.DstMAC.String(), now)
		}
	}

	flowKey := FlowKey{
		SrcMAC: f.SrcMAC, DstMAC: f.DstMAC,
		SrcIP: f.SrcIP, DstIP: f.DstIP,
		SrcPort: f.SrcPort, DstPort: f.DstPort,
		VLANID: vlanID, IPProto: f.IPProto,
	}
	flowIsNew := m.touchFlow(flowKey, outerVLANID, f.FrameSize, f.TCPFlags, now)
	if flowIsNew {
		m.notifyNew("new_flow", flowKeyString(flowKey), now)
	}

	m.touchProtocol(f.EtherType, f.IPProto, f.HasIPv4, f.FrameSize, now)

	if hasVLAN {
		m.touchVLAN(vlanID, outerVLANID, f.FrameSize, now)
	}
}

func (m *Model) notifyNew(kind, key string, ts time.Time) {
	if m.sink == nil {
		return
	}
	m.sink.Notify(NewEvent{Kind: kind, Key: key, FirstSeen: ts})
}

func (m *Model) touchDevice(mac wire.MAC, ip [4]byte, hasIP bool, vlanID uint16, frameSize uint32, now time.Time, isSource bool) bool {
	shard := m.deviceShardFor(mac)

	shard.mu.Lock()
	rec, ok := shard.data[mac]
	isNew := !ok
	if !ok {
		vendor, _ := oui.Lookup(mac.OUI())
		rec = &DeviceRecord{
			MAC:       mac,
			OUIVendor: vendor,
			OUIPrefix: mac.OUI(),
			FirstSeen: now,
		}
		shard.data[mac] = rec
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	if isSource {
		rec.PacketsSent.add(1)
		rec.BytesSent.add(uint64(frameSize))
	} else {
		rec.PacketsRecv.add(1)
		rec.BytesRecv.add(uint64(frameSize))
	}
	shard.mu.Unlock()

	if hasIP {
		m.touchDeviceIP(mac, ip, vlanID, frameSize, now)
	}

	return isNew
}

func (m *Model) touchDeviceIP(mac wire.MAC, ip [4]byte, vlanID uint16, frameSize uint32, now time.Time) {
	key := DeviceIPKey{MAC: mac, IP: ip, VLANID: vlanID}
	shard := m.deviceIPShardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.data[key]
	if !ok {
		rec = &DeviceIPRecord{Key: key, FirstSeen: now}
		shard.data[key] = rec
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	rec.PacketCount.add(1)
	rec.ByteCount.add(uint64(frameSize))
}

func (m *Model) touchFlow(key FlowKey, outerVLANID uint16, frameSize uint32, tcpFlags uint8, now time.Time) bool {
	shard := m.flowShardFor(key)

	shard.mu.Lock()
	rec, ok := shard.data[key]
	isNew := !ok
	if !ok {
		rec = &FlowRecord{Key: key, OuterVLANID: outerVLANID, FirstSeen: now}
		shard.data[key] = rec
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	rec.PacketCount.add(1)
	rec.ByteCount.add(uint64(frameSize))
	rec.TCPFlagsSeen |= tcpFlags
	shard.mu.Unlock()

	if isNew {
		m.enforceFlowCap()
	}
	return isNew
}

func (m *Model) touchProtocol(etherType uint16, ipProto uint8, hasIPProto bool, frameSize uint32, now time.Time) {
	key := ProtocolKey{EtherType: etherType, IPProto: ipProto, HasIPProto: hasIPProto}
	shard := m.protocolShardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.data[key]
	if !ok {
		rec = &ProtocolRecord{Key: key, FirstSeen: now}
		shard.data[key] = rec
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	rec.PacketCount.add(1)
	rec.ByteCount.add(uint64(frameSize))
}

func (m *Model) touchVLAN(vlanID, outerVLANID uint16, frameSize uint32, now time.Time) {
	key := VLANKey{VLANID: vlanID, OuterVLANID: outerVLANID}
	shard := m.vlanShardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.data[key]
	if !ok {
		rec = &VLANRecord{Key: key, FirstSeen: now}
		shard.data[key] = rec
	}
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	rec.PacketCount.add(1)
	rec.ByteCount.add(uint64(frameSize))
}

// enforceFlowCap evicts the globally oldest flow by last_seen when the
// number of tracked flows exceeds flowCap. Eviction is infrequent
// relative to ingest, so a full shard scan to find the minimum is
// acceptable; the evicted record is queued for the next persistence
// cycle rather than dropped.
func (m *Model) enforceFlowCap() {
	if m.flowCap <= 0 {
		return
	}

	total := 0
	for _, shard := range m.flows {
		shard.mu.Lock()
		total += len(shard.data)
		shard.mu.Unlock()
	}
	if total <= m.flowCap {
		return
	}

	var (
		oldestShard *flowShard
		oldestKey   FlowKey
		oldestTime  time.Time
		found       bool
	)
	for _, shard := range m.flows {
		shard.mu.Lock()
		for k, rec := range shard.data {
			if !found || rec.LastSeen.Before(oldestTime) {
				oldestShard, oldestKey, oldestTime, found = shard, k, rec.LastSeen, true
			}
		}
		shard.mu.Unlock()
	}
	if !found {
		return
	}

	oldestShard.mu.Lock()
	rec, ok := oldestShard.data[oldestKey]
	if ok {
		delete(oldestShard.data, oldestKey)
	}
	oldestShard.mu.Unlock()
	if !ok {
		return
	}

	m.evictMu.Lock()
	m.evictedFlows = append(m.evictedFlows, rec)
	m.flowsEvicted++
	m.evictMu.Unlock()
}

// FlowsEvicted reports the cumulative count of flows evicted by the
// flow_cap LRU path.
func (m *Model) FlowsEvicted() uint64 {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()
	return m.flowsEvicted
}

// Counts reports the number of distinct devices and flows currently
// tracked, for the gauge metrics.
func (m *Model) Counts() (devices, flows int) {
	for _, shard := range m.devices {
		shard.mu.Lock()
		devices += len(shard.data)
		shard.mu.Unlock()
	}
	for _, shard := range m.flows {
		shard.mu.Lock()
		flows += len(shard.data)
		shard.mu.Unlock()
	}
	return devices, flows
}

// ActiveDeviceCount reports how many tracked devices are active per
// DeviceRecord.IsActive against the given window, evaluated at now.
func (m *Model) ActiveDeviceCount(now time.Time, window time.Duration) int {
	var active int
	for _, shard := range m.devices {
		shard.mu.Lock()
		for _, rec := range shard.data {
			if rec.IsActive(now, window) {
				active++
			}
		}
		shard.mu.Unlock()
	}
	return active
}
