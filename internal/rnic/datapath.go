package rnic

import (
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/rnicsim/internal/metrics"
)

// PostSend consumes a send work request. The QP must be in RTS. A signaled
// request appends a completion to the QP's send CQ before delivery is
// attempted; SEND and RDMA_WRITE payloads are then delivered to the peer QP
// resolved through the registry. Returns false without side effects if the
// QP cannot be resolved or is not in RTS.
//
// If the send CQ cannot be resolved in any tier the send still counts as
// attempted and the completion is dropped; the gap is observable via the
// rnicsim_delivery_gaps_total metric.
func (d *Device) PostSend(qpNum uint32, wr WorkRequest) bool {
	d.qpMu.Lock()
	defer d.qpMu.Unlock()

	qp, _, ok := d.qps.Get(qpNum)
	if !ok {
		metrics.WorkRequests.WithLabelValues("send", "not_found").Inc()
		return false
	}

	// Participating in a send makes the QP reachable for peers.
	d.registry.Register(qpNum, d)

	if qp.State != StateRTS {
		metrics.WorkRequests.WithLabelValues("send", "invalid_state").Inc()
		log.Debug().
			Str("device", d.id).
			Uint32("qp", qpNum).
			Str("state", qp.State.String()).
			Msg("PostSend rejected: QP not in RTS")

		return false
	}

	n := wr.byteLen()

	if wr.Signaled {
		d.appendCompletion(qp.SendCQ, CompletionEntry{
			WRID:    wr.WRID,
			Status:  StatusOK,
			Opcode:  wr.Opcode,
			Length:  uint32(n),
			ImmData: wr.ImmData,
		}, "send")
	}

	if wr.Opcode == OpSend || wr.Opcode == OpRDMAWrite {
		d.deliver(qp.DestQPNum, wr.LocalBuf[:n])
	}

	metrics.WorkRequests.WithLabelValues("send", "ok").Inc()

	return true
}

// deliver moves payload bytes to the destination QP, wherever it lives.
// The caller holds the local QP mutex; for a cross-device destination the
// destination's QP mutex is acquired on top of it, per the fixed lock
// order. The destination QP is resolved through its device's tiers at time
// of use — never through a captured pointer.
func (d *Device) deliver(destQPNum uint32, payload []byte) {
	ep, ok := d.registry.Lookup(destQPNum)
	if !ok {
		log.Debug().
			Str("device", d.id).
			Uint32("dest_qp", destQPNum).
			Msg("Destination QP not registered, payload dropped")

		return
	}

	dest := ep.dev
	if dest != d {
		dest.qpMu.Lock()
		defer dest.qpMu.Unlock()
	}

	destQP, _, ok := dest.qps.Get(destQPNum)
	if !ok {
		return
	}

	if destQP.RecvBuf != nil {
		n := copy(destQP.RecvBuf, payload)

		dest.appendCompletion(destQP.RecvCQ, CompletionEntry{
			WRID:   0,
			Status: StatusOK,
			Opcode: OpRecv,
			Length: uint32(n),
		}, "recv")

		destQP.RecvBuf = nil
		dest.qps.Update(destQPNum, destQP)
		metrics.PayloadBytes.Add(float64(n))

		return
	}

	// No receive outstanding: buffer the payload. Capacity is one blob;
	// an unconsumed predecessor is overwritten.
	if destQP.PendingData != nil {
		metrics.PendingPayloadOverwrites.Inc()
		log.Debug().
			Str("device", dest.id).
			Uint32("qp", destQPNum).
			Msg("Overwriting unconsumed pending payload")
	}

	destQP.PendingData = append([]byte(nil), payload...)
	dest.qps.Update(destQPNum, destQP)
}

// PostRecv consumes a receive work request. The QP must be in RTR or RTS.
// The buffer becomes the QP's outstanding receive buffer; if a payload is
// already pending it is consumed immediately and a completion appended to
// the recv CQ.
func (d *Device) PostRecv(qpNum uint32, wr WorkRequest) bool {
	d.qpMu.Lock()
	defer d.qpMu.Unlock()

	qp, _, ok := d.qps.Get(qpNum)
	if !ok {
		metrics.WorkRequests.WithLabelValues("recv", "not_found").Inc()
		return false
	}

	if qp.State != StateRTR && qp.State != StateRTS {
		metrics.WorkRequests.WithLabelValues("recv", "invalid_state").Inc()
		log.Debug().
			Str("device", d.id).
			Uint32("qp", qpNum).
			Str("state", qp.State.String()).
			Msg("PostRecv rejected: QP not in RTR or RTS")

		return false
	}

	qp.RecvBuf = wr.LocalBuf[:wr.byteLen()]

	if len(qp.PendingData) > 0 {
		n := copy(qp.RecvBuf, qp.PendingData)

		d.appendCompletion(qp.RecvCQ, CompletionEntry{
			WRID:   wr.WRID,
			Status: StatusOK,
			Opcode: OpRecv,
			Length: uint32(n),
		}, "recv")

		qp.PendingData = nil
		qp.RecvBuf = nil
		metrics.PayloadBytes.Add(float64(n))
	}

	if !d.qps.Update(qpNum, qp) {
		return false
	}

	d.registry.Register(qpNum, d)
	metrics.WorkRequests.WithLabelValues("recv", "ok").Inc()

	return true
}

// appendCompletion appends one entry to a CQ resolved through this
// device's tiers. A CQ that resolves in no tier swallows the entry and
// records a delivery gap.
func (d *Device) appendCompletion(cqNum uint32, entry CompletionEntry, direction string) {
	d.cqMu.Lock()
	defer d.cqMu.Unlock()

	cq, _, ok := d.cqs.Get(cqNum)
	if !ok {
		metrics.DeliveryGaps.Inc()
		log.Debug().
			Str("device", d.id).
			Uint32("cq", cqNum).
			Msg("Dropped completion: CQ not found in any tier")

		return
	}

	cq.Completions = append(cq.Completions, entry)
	d.cqs.Update(cqNum, cq)
	metrics.Completions.WithLabelValues(direction).Inc()
}

// PollCQ dequeues up to maxEntries completions from the front of a CQ.
// It never blocks; found is false when the CQ is missing or empty, and the
// caller owns any retry loop.
func (d *Device) PollCQ(cqNum uint32, maxEntries int) ([]CompletionEntry, bool) {
	if maxEntries <= 0 {
		return nil, false
	}

	d.cqMu.Lock()
	defer d.cqMu.Unlock()

	cq, _, ok := d.cqs.Get(cqNum)
	if !ok || len(cq.Completions) == 0 {
		return nil, false
	}

	n := maxEntries
	if len(cq.Completions) < n {
		n = len(cq.Completions)
	}

	out := append([]CompletionEntry(nil), cq.Completions[:n]...)
	cq.Completions = append([]CompletionEntry(nil), cq.Completions[n:]...)
	d.cqs.Update(cqNum, cq)

	return out, true
}

// ReqNotifyCQ arms completion notification on a CQ. Event channels are not
// modeled; the call is a pure existence check.
func (d *Device) ReqNotifyCQ(cqNum uint32, solicitedOnly bool) bool {
	_ = solicitedOnly

	d.cqMu.Lock()
	defer d.cqMu.Unlock()

	_, _, ok := d.cqs.Get(cqNum)

	return ok
}
