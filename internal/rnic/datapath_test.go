package rnic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/rnicsim/internal/latency"
)

// bringUpQP creates a CQ pair and a QP on d and drives the QP to RTS.
func bringUpQP(t *testing.T, d *Device) uint32 {
	t.Helper()

	sendCQ := d.CreateCQ(16)
	recvCQ := d.CreateCQ(16)
	require.NotZero(t, sendCQ)
	require.NotZero(t, recvCQ)

	qpNum := d.CreateQP(16, 16, sendCQ, recvCQ)
	require.NotZero(t, qpNum)

	for _, state := range []QPState{StateInit, StateRTR, StateRTS} {
		require.True(t, d.ModifyQPState(qpNum, state))
	}

	return qpNum
}

// newConnectedPair builds two devices on a shared registry with one QP each,
// both in RTS and pointed at each other. An extra QP is burned on b so the
// two live QP numbers are distinct in the shared registry.
func newConnectedPair(t *testing.T) (a, b *Device, aQP, bQP uint32) {
	t.Helper()

	model := latency.NewModel()
	registry := NewRegistry()

	a = NewDevice(DefaultConfig(), model, registry)
	b = NewDevice(DefaultConfig(), model, registry)
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	aQP = bringUpQP(t, a)
	_ = bringUpQP(t, b)
	bQP = bringUpQP(t, b)
	require.NotEqual(t, aQP, bQP)

	aParams, ok := a.ConnParams(aQP)
	require.True(t, ok)
	bParams, ok := b.ConnParams(bQP)
	require.True(t, ok)

	require.True(t, a.ConnectQP(aQP, bParams))
	require.True(t, b.ConnectQP(bQP, aParams))

	return a, b, aQP, bQP
}

// drainRecvCQ discards whatever sits on a QP's recv CQ.
func drainRecvCQ(t *testing.T, d *Device, qpNum uint32) {
	t.Helper()

	qp, ok := d.GetQPInfo(qpNum)
	require.True(t, ok)

	for {
		if _, found := d.PollCQ(qp.RecvCQ, 16); !found {
			return
		}
	}
}

func TestSendDeliversToPostedRecv(t *testing.T) {
	a, b, aQP, bQP := newConnectedPair(t)

	payload := []byte("hello rnic")
	recvBuf := make([]byte, 64)

	require.True(t, b.PostRecv(bQP, WorkRequest{
		Opcode:   OpRecv,
		LocalBuf: recvBuf,
		WRID:     77,
	}))

	require.True(t, a.PostSend(aQP, WorkRequest{
		Opcode:   OpSend,
		LocalBuf: payload,
		Signaled: true,
		WRID:     11,
	}))

	aInfo, ok := a.GetQPInfo(aQP)
	require.True(t, ok)
	bInfo, ok := b.GetQPInfo(bQP)
	require.True(t, ok)

	// Sender side: exactly one signaled completion with the caller's wr id.
	sendEntries, found := a.PollCQ(aInfo.SendCQ, 10)
	require.True(t, found)
	require.Len(t, sendEntries, 1)
	assert.Equal(t, uint64(11), sendEntries[0].WRID)
	assert.Equal(t, OpSend, sendEntries[0].Opcode)
	assert.Equal(t, StatusOK, sendEntries[0].Status)
	assert.Equal(t, uint32(len(payload)), sendEntries[0].Length)

	// Receiver side: one completion, wr id zero, buffer holds the bytes.
	recvEntries, found := b.PollCQ(bInfo.RecvCQ, 10)
	require.True(t, found)
	require.Len(t, recvEntries, 1)
	assert.Equal(t, uint64(0), recvEntries[0].WRID)
	assert.Equal(t, OpRecv, recvEntries[0].Opcode)
	assert.Equal(t, uint32(len(payload)), recvEntries[0].Length)
	assert.Equal(t, payload, recvBuf[:len(payload)])

	// The receive buffer was consumed.
	bInfo, ok = b.GetQPInfo(bQP)
	require.True(t, ok)
	assert.Nil(t, bInfo.RecvBuf)
}

func TestSendBeforeRecvIsBuffered(t *testing.T) {
	a, b, aQP, bQP := newConnectedPair(t)

	// One completed exchange so bQP is registered for peers.
	warmup := make([]byte, 8)
	require.True(t, b.PostRecv(bQP, WorkRequest{Opcode: OpRecv, LocalBuf: warmup}))
	require.True(t, a.PostSend(aQP, WorkRequest{Opcode: OpSend, LocalBuf: []byte("warmup!!")}))
	drainRecvCQ(t, b, bQP)

	payload := []byte("early bytes")
	require.True(t, a.PostSend(aQP, WorkRequest{
		Opcode:   OpSend,
		LocalBuf: payload,
		Signaled: true,
		WRID:     21,
	}))

	bInfo, ok := b.GetQPInfo(bQP)
	require.True(t, ok)

	// Nothing on the recv CQ yet.
	_, found := b.PollCQ(bInfo.RecvCQ, 10)
	require.False(t, found)

	recvBuf := make([]byte, 64)
	require.True(t, b.PostRecv(bQP, WorkRequest{
		Opcode:   OpRecv,
		LocalBuf: recvBuf,
		WRID:     88,
	}))

	// The pending payload is consumed immediately, once, with the
	// receiver's wr id.
	entries, found := b.PollCQ(bInfo.RecvCQ, 10)
	require.True(t, found)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(88), entries[0].WRID)
	assert.Equal(t, uint32(len(payload)), entries[0].Length)
	assert.Equal(t, payload, recvBuf[:len(payload)])

	_, found = b.PollCQ(bInfo.RecvCQ, 10)
	assert.False(t, found, "pending payload delivered twice")
}

func TestSecondPendingSendOverwritesFirst(t *testing.T) {
	a, b, aQP, bQP := newConnectedPair(t)

	warmup := make([]byte, 8)
	require.True(t, b.PostRecv(bQP, WorkRequest{Opcode: OpRecv, LocalBuf: warmup}))
	require.True(t, a.PostSend(aQP, WorkRequest{Opcode: OpSend, LocalBuf: []byte("warmup!!")}))
	drainRecvCQ(t, b, bQP)

	require.True(t, a.PostSend(aQP, WorkRequest{Opcode: OpSend, LocalBuf: []byte("first")}))
	require.True(t, a.PostSend(aQP, WorkRequest{Opcode: OpSend, LocalBuf: []byte("second")}))

	recvBuf := make([]byte, 64)
	require.True(t, b.PostRecv(bQP, WorkRequest{Opcode: OpRecv, LocalBuf: recvBuf, WRID: 5}))

	bInfo, ok := b.GetQPInfo(bQP)
	require.True(t, ok)

	entries, found := b.PollCQ(bInfo.RecvCQ, 10)
	require.True(t, found)
	require.Len(t, entries, 1)
	assert.Equal(t, uint32(len("second")), entries[0].Length)
	assert.Equal(t, []byte("second"), recvBuf[:len("second")])
}

func TestSameDeviceDelivery(t *testing.T) {
	d := newTestDevice(t, DefaultConfig())

	left := bringUpQP(t, d)
	right := bringUpQP(t, d)

	leftParams, ok := d.ConnParams(left)
	require.True(t, ok)
	rightParams, ok := d.ConnParams(right)
	require.True(t, ok)

	require.True(t, d.ConnectQP(left, rightParams))
	require.True(t, d.ConnectQP(right, leftParams))

	recvBuf := make([]byte, 32)
	require.True(t, d.PostRecv(right, WorkRequest{Opcode: OpRecv, LocalBuf: recvBuf}))
	require.True(t, d.PostSend(left, WorkRequest{Opcode: OpSend, LocalBuf: []byte("loop")}))

	rightInfo, ok := d.GetQPInfo(right)
	require.True(t, ok)

	entries, found := d.PollCQ(rightInfo.RecvCQ, 10)
	require.True(t, found)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("loop"), recvBuf[:4])
}

func TestRDMAWriteDeliversPayload(t *testing.T) {
	a, b, aQP, bQP := newConnectedPair(t)

	recvBuf := make([]byte, 32)
	require.True(t, b.PostRecv(bQP, WorkRequest{Opcode: OpRecv, LocalBuf: recvBuf}))
	require.True(t, a.PostSend(aQP, WorkRequest{Opcode: OpRDMAWrite, LocalBuf: []byte("written")}))

	bInfo, ok := b.GetQPInfo(bQP)
	require.True(t, ok)

	entries, found := b.PollCQ(bInfo.RecvCQ, 10)
	require.True(t, found)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("written"), recvBuf[:7])
}

func TestPostSendRequiresRTS(t *testing.T) {
	d := newTestDevice(t, DefaultConfig())

	cq := d.CreateCQ(16)
	qpNum := d.CreateQP(16, 16, cq, cq)
	require.NotZero(t, qpNum)

	assert.False(t, d.PostSend(qpNum, WorkRequest{Opcode: OpSend, LocalBuf: []byte("x")}))

	// No completion may have been produced.
	_, found := d.PollCQ(cq, 10)
	assert.False(t, found)
}

func TestPostRecvRequiresRTROrRTS(t *testing.T) {
	d := newTestDevice(t, DefaultConfig())

	cq := d.CreateCQ(16)
	qpNum := d.CreateQP(16, 16, cq, cq)
	require.NotZero(t, qpNum)

	buf := make([]byte, 8)
	assert.False(t, d.PostRecv(qpNum, WorkRequest{Opcode: OpRecv, LocalBuf: buf}))

	require.True(t, d.ModifyQPState(qpNum, StateInit))
	assert.False(t, d.PostRecv(qpNum, WorkRequest{Opcode: OpRecv, LocalBuf: buf}))

	require.True(t, d.ModifyQPState(qpNum, StateRTR))
	assert.True(t, d.PostRecv(qpNum, WorkRequest{Opcode: OpRecv, LocalBuf: buf}))
}

func TestUnsignaledSendProducesNoSendCompletion(t *testing.T) {
	a, b, aQP, bQP := newConnectedPair(t)

	recvBuf := make([]byte, 16)
	require.True(t, b.PostRecv(bQP, WorkRequest{Opcode: OpRecv, LocalBuf: recvBuf}))
	require.True(t, a.PostSend(aQP, WorkRequest{Opcode: OpSend, LocalBuf: []byte("quiet")}))

	aInfo, ok := a.GetQPInfo(aQP)
	require.True(t, ok)

	_, found := a.PollCQ(aInfo.SendCQ, 10)
	assert.False(t, found)
}

func TestPollCQHonorsMaxEntries(t *testing.T) {
	a, b, aQP, bQP := newConnectedPair(t)

	recvBuf := make([]byte, 16)
	for i := uint64(1); i <= 3; i++ {
		require.True(t, b.PostRecv(bQP, WorkRequest{Opcode: OpRecv, LocalBuf: recvBuf}))
		require.True(t, a.PostSend(aQP, WorkRequest{
			Opcode:   OpSend,
			LocalBuf: []byte("abc"),
			Signaled: true,
			WRID:     i,
		}))
	}

	aInfo, ok := a.GetQPInfo(aQP)
	require.True(t, ok)

	entries, found := a.PollCQ(aInfo.SendCQ, 2)
	require.True(t, found)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].WRID)
	assert.Equal(t, uint64(2), entries[1].WRID)

	entries, found = a.PollCQ(aInfo.SendCQ, 2)
	require.True(t, found)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(3), entries[0].WRID)

	// Drained: polling again reports nothing.
	_, found = a.PollCQ(aInfo.SendCQ, 2)
	assert.False(t, found)

	_, found = a.PollCQ(aInfo.SendCQ, 0)
	assert.False(t, found)
}

func TestReqNotifyCQ(t *testing.T) {
	d := newTestDevice(t, DefaultConfig())

	cq := d.CreateCQ(16)
	require.NotZero(t, cq)

	assert.True(t, d.ReqNotifyCQ(cq, false))
	assert.True(t, d.ReqNotifyCQ(cq, true))
	assert.False(t, d.ReqNotifyCQ(9999, false))
}
