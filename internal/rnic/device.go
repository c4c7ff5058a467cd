package rnic

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/rnicsim/internal/latency"
	"github.com/piwi3910/rnicsim/internal/metrics"
	"github.com/piwi3910/rnicsim/internal/tiering"
	"github.com/piwi3910/rnicsim/pkg/simtypes"
)

// Config bounds the device-resident resource tables. The middle cache for
// each kind is sized at twice the device tier.
type Config struct {
	MaxConnections int
	MaxQPs         int
	MaxCQs         int
	MaxMRs         int
	MaxPDs         int
}

// DefaultConfig returns the capacities of the reference device.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 1024,
		MaxQPs:         256,
		MaxCQs:         256,
		MaxMRs:         1024,
		MaxPDs:         64,
	}
}

const maintenanceInterval = 100 * time.Millisecond

// Device simulates one RNIC instance. All public operations are synchronous
// and safe for concurrent use from multiple goroutines.
//
// Lock order, applied on every path: local QP mutex, local CQ mutex, remote
// QP mutex, remote CQ mutex, registry mutex. MR and PD mutexes are never
// held together with any of these.
type Device struct {
	id       string
	cfg      Config
	model    *latency.Model
	registry *Registry

	qpMu sync.Mutex
	cqMu sync.Mutex
	mrMu sync.Mutex
	pdMu sync.Mutex

	qps *tiering.Store[QP]
	cqs *tiering.Store[CQ]
	mrs *tiering.Store[MR]
	pds *tiering.Store[PD]

	nextQPNum    atomic.Uint32
	nextCQNum    atomic.Uint32
	nextMRKey    atomic.Uint32
	nextPDHandle atomic.Uint32

	createdAt time.Time
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewDevice creates a device and starts its maintenance goroutine. Devices
// that should exchange payloads must share the same registry; devices that
// should share simulation parameters must share the same latency model.
func NewDevice(cfg Config, model *latency.Model, registry *Registry) *Device {
	d := &Device{
		id:        uuid.New().String(),
		cfg:       cfg,
		model:     model,
		registry:  registry,
		qps:       tiering.NewStore[QP]("qp", cfg.MaxQPs, 2*cfg.MaxQPs, model),
		cqs:       tiering.NewStore[CQ]("cq", cfg.MaxCQs, 2*cfg.MaxCQs, model),
		mrs:       tiering.NewStore[MR]("mr", cfg.MaxMRs, 2*cfg.MaxMRs, model),
		pds:       tiering.NewStore[PD]("pd", cfg.MaxPDs, 2*cfg.MaxPDs, model),
		createdAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go d.maintenanceLoop()

	metrics.DevicesTotal.Inc()
	log.Info().
		Str("device", d.id).
		Int("max_qps", cfg.MaxQPs).
		Int("max_cqs", cfg.MaxCQs).
		Int("max_mrs", cfg.MaxMRs).
		Int("max_pds", cfg.MaxPDs).
		Msg("Device opened")

	return d
}

// ID returns the device's process-unique identifier.
func (d *Device) ID() string {
	return d.id
}

// maintenanceLoop runs for the lifetime of the device. It currently has no
// required work; the tick is reserved for future asynchronous event
// processing. Close joins it before releasing resources.
func (d *Device) maintenanceLoop() {
	defer close(d.done)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
	}
}

// Close stops the maintenance goroutine, waits for it, unregisters every
// live QP and drops all resources. Safe to call more than once.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.done

		d.qpMu.Lock()
		for qpNum := d.nextQPNum.Load(); qpNum >= 1; qpNum-- {
			if _, ok := d.qps.TierOf(qpNum); ok {
				d.qps.Remove(qpNum)
				d.registry.Unregister(qpNum)
			}
		}
		d.qpMu.Unlock()

		metrics.Resources.DeletePartialMatch(map[string]string{"device": d.id})
		metrics.DevicesTotal.Dec()
		log.Info().Str("device", d.id).Msg("Device closed")
	})
}

// CreateQP allocates a queue pair bound to the given send and recv
// completion queues. Both CQ ids must resolve (through any tier) or the
// call fails with 0. The new QP starts in RESET.
func (d *Device) CreateQP(maxSendWR, maxRecvWR, sendCQ, recvCQ uint32) uint32 {
	_ = maxSendWR
	_ = maxRecvWR

	d.qpMu.Lock()
	defer d.qpMu.Unlock()

	d.cqMu.Lock()
	_, _, sendOK := d.cqs.Get(sendCQ)
	_, _, recvOK := d.cqs.Get(recvCQ)
	d.cqMu.Unlock()

	if !sendOK || !recvOK {
		log.Debug().
			Str("device", d.id).
			Uint32("send_cq", sendCQ).
			Uint32("recv_cq", recvCQ).
			Msg("CreateQP rejected: completion queue not found")

		return 0
	}

	qpNum := d.nextQPNum.Add(1)
	qp := QP{
		QPNum:     qpNum,
		PortNum:   1,
		PSN:       rand.Uint32() & 0xffffff,
		MTU:       1024,
		State:     StateReset,
		SendCQ:    sendCQ,
		RecvCQ:    recvCQ,
		CreatedAt: time.Now(),
	}

	tier := d.qps.Put(qpNum, qp)
	metrics.ResourceIDsAllocated.WithLabelValues(d.id, "qp").Inc()
	metrics.Resources.WithLabelValues(d.id, "qp", tier.String()).Inc()

	return qpNum
}

// CreateCQ allocates a completion queue of the given depth. Zero depth is
// invalid and fails with 0.
func (d *Device) CreateCQ(depth uint32) uint32 {
	if depth == 0 {
		return 0
	}

	d.cqMu.Lock()
	defer d.cqMu.Unlock()

	cqNum := d.nextCQNum.Add(1)
	tier := d.cqs.Put(cqNum, CQ{CQNum: cqNum, Capacity: depth})
	metrics.ResourceIDsAllocated.WithLabelValues(d.id, "cq").Inc()
	metrics.Resources.WithLabelValues(d.id, "cq", tier.String()).Inc()

	return cqNum
}

// RegisterMR registers a caller-owned buffer and returns its local key.
// A nil buffer is invalid and fails with 0. The rkey equals the lkey, as on
// the simulated hardware there is no separate remote-access table.
func (d *Device) RegisterMR(buf []byte, accessFlags uint32) uint32 {
	if buf == nil {
		return 0
	}

	d.mrMu.Lock()
	defer d.mrMu.Unlock()

	lkey := d.nextMRKey.Add(1)
	mr := MR{
		LKey:        lkey,
		RKey:        lkey,
		Buf:         buf,
		Length:      uint64(len(buf)),
		AccessFlags: accessFlags,
	}

	tier := d.mrs.Put(lkey, mr)
	metrics.ResourceIDsAllocated.WithLabelValues(d.id, "mr").Inc()
	metrics.Resources.WithLabelValues(d.id, "mr", tier.String()).Inc()

	return lkey
}

// CreatePD allocates a protection domain.
func (d *Device) CreatePD() uint32 {
	d.pdMu.Lock()
	defer d.pdMu.Unlock()

	handle := d.nextPDHandle.Add(1)
	tier := d.pds.Put(handle, PD{Handle: handle, Resources: make(map[string][]uint32)})
	metrics.ResourceIDsAllocated.WithLabelValues(d.id, "pd").Inc()
	metrics.Resources.WithLabelValues(d.id, "pd", tier.String()).Inc()

	return handle
}

// AddPDResource associates a resource with a protection domain. Membership
// is an association table only; it is not enforced on the data path.
func (d *Device) AddPDResource(handle uint32, kind string, id uint32) bool {
	d.pdMu.Lock()
	defer d.pdMu.Unlock()

	pd, _, ok := d.pds.Get(handle)
	if !ok {
		return false
	}

	pd.Resources[kind] = append(pd.Resources[kind], id)

	return d.pds.Update(handle, pd)
}

// RemovePDResource drops a resource association from a protection domain.
func (d *Device) RemovePDResource(handle uint32, kind string, id uint32) bool {
	d.pdMu.Lock()
	defer d.pdMu.Unlock()

	pd, _, ok := d.pds.Get(handle)
	if !ok {
		return false
	}

	members := pd.Resources[kind]
	for i, member := range members {
		if member == id {
			pd.Resources[kind] = append(members[:i], members[i+1:]...)
			break
		}
	}

	return d.pds.Update(handle, pd)
}

// ModifyQPState validates and applies a state transition. On success the
// updated QP is written back into the tier that already held it.
func (d *Device) ModifyQPState(qpNum uint32, newState QPState) bool {
	d.qpMu.Lock()
	defer d.qpMu.Unlock()

	qp, _, ok := d.qps.Get(qpNum)
	if !ok {
		return false
	}

	if !validTransition(qp.State, newState) {
		log.Debug().
			Str("device", d.id).
			Uint32("qp", qpNum).
			Str("from", qp.State.String()).
			Str("to", newState.String()).
			Msg("Rejected QP state transition")

		return false
	}

	qp.State = newState

	return d.qps.Update(qpNum, qp)
}

// ConnectQP installs the peer's connection parameters on a local QP. The
// parameters normally come from the control channel exchange.
func (d *Device) ConnectQP(qpNum uint32, remote ConnParams) bool {
	d.qpMu.Lock()
	defer d.qpMu.Unlock()

	qp, _, ok := d.qps.Get(qpNum)
	if !ok {
		return false
	}

	qp.DestQPNum = remote.QPNum
	qp.RemoteLID = remote.LID
	qp.RemotePSN = remote.PSN
	qp.RemoteGID = remote.GID

	if !d.qps.Update(qpNum, qp) {
		return false
	}

	log.Debug().
		Str("device", d.id).
		Uint32("qp", qpNum).
		Uint32("dest_qp", remote.QPNum).
		Msg("QP connected to peer")

	return true
}

// ConnParams returns the local connection parameters a peer needs to reach
// this QP, for handing to the control channel.
func (d *Device) ConnParams(qpNum uint32) (ConnParams, bool) {
	qp, ok := d.GetQPInfo(qpNum)
	if !ok {
		return ConnParams{}, false
	}

	return ConnParams{
		QPNum:       qp.QPNum,
		DestQPNum:   qp.DestQPNum,
		LID:         qp.LID,
		RemoteLID:   qp.RemoteLID,
		PortNum:     qp.PortNum,
		AccessFlags: qp.AccessFlags,
		PSN:         qp.PSN,
		RemotePSN:   qp.RemotePSN,
		GID:         qp.GID,
		RemoteGID:   qp.RemoteGID,
		MTU:         qp.MTU,
		State:       qp.State,
	}, true
}

// DestroyQP removes a queue pair from whichever tier holds it and
// invalidates its registry entry.
func (d *Device) DestroyQP(qpNum uint32) {
	d.qpMu.Lock()
	tier, ok := d.qps.Remove(qpNum)
	d.qpMu.Unlock()

	d.registry.Unregister(qpNum)

	if ok {
		metrics.Resources.WithLabelValues(d.id, "qp", tier.String()).Dec()
	}
}

// DestroyCQ removes a completion queue, dropping any undelivered
// completions with it.
func (d *Device) DestroyCQ(cqNum uint32) {
	d.cqMu.Lock()
	defer d.cqMu.Unlock()

	if tier, ok := d.cqs.Remove(cqNum); ok {
		metrics.Resources.WithLabelValues(d.id, "cq", tier.String()).Dec()
	}
}

// DeregisterMR removes a memory region. The underlying buffer stays with
// the caller.
func (d *Device) DeregisterMR(lkey uint32) {
	d.mrMu.Lock()
	defer d.mrMu.Unlock()

	if tier, ok := d.mrs.Remove(lkey); ok {
		metrics.Resources.WithLabelValues(d.id, "mr", tier.String()).Dec()
	}
}

// DestroyPD removes a protection domain.
func (d *Device) DestroyPD(handle uint32) {
	d.pdMu.Lock()
	defer d.pdMu.Unlock()

	if tier, ok := d.pds.Remove(handle); ok {
		metrics.Resources.WithLabelValues(d.id, "pd", tier.String()).Dec()
	}
}

// GetQPInfo returns a copy of a queue pair's current attributes.
func (d *Device) GetQPInfo(qpNum uint32) (QP, bool) {
	d.qpMu.Lock()
	defer d.qpMu.Unlock()

	qp, _, ok := d.qps.Get(qpNum)

	return qp, ok
}

// GetCQInfo returns a copy of a completion queue, including a snapshot of
// its undelivered completions.
func (d *Device) GetCQInfo(cqNum uint32) (CQ, bool) {
	d.cqMu.Lock()
	defer d.cqMu.Unlock()

	cq, _, ok := d.cqs.Get(cqNum)
	if !ok {
		return CQ{}, false
	}

	snapshot := cq
	snapshot.Completions = append([]CompletionEntry(nil), cq.Completions...)

	return snapshot, true
}

// GetMRInfo returns a copy of a memory region's attributes.
func (d *Device) GetMRInfo(lkey uint32) (MR, bool) {
	d.mrMu.Lock()
	defer d.mrMu.Unlock()

	mr, _, ok := d.mrs.Get(lkey)

	return mr, ok
}

// Stats reports per-kind tier occupancy for the admin API.
func (d *Device) Stats() simtypes.DeviceStatus {
	status := simtypes.DeviceStatus{
		ID:        d.id,
		CreatedAt: d.createdAt,
	}

	d.qpMu.Lock()
	status.QPs = occupancy(d.qps)
	d.qpMu.Unlock()

	d.cqMu.Lock()
	status.CQs = occupancy(d.cqs)
	d.cqMu.Unlock()

	d.mrMu.Lock()
	status.MRs = occupancy(d.mrs)
	d.mrMu.Unlock()

	d.pdMu.Lock()
	status.PDs = occupancy(d.pds)
	d.pdMu.Unlock()

	return status
}

func occupancy[T any](s *tiering.Store[T]) simtypes.ResourceStats {
	return simtypes.ResourceStats{
		Total: s.Len(),
		Tiers: simtypes.TierOccupancy{
			Device: s.TierLen(latency.TierDevice),
			Middle: s.TierLen(latency.TierMiddle),
			Host:   s.TierLen(latency.TierHost),
		},
	}
}
