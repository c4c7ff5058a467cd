// Package rnic simulates the resource model and data path of an RDMA-capable
// network interface (RNIC).
//
// A Device owns tiered tables for queue pairs, completion queues, memory
// regions and protection domains, enforces the QP state machine, and moves
// payload bytes between queue pairs — including queue pairs owned by other
// Device instances in the same process — without any real network transport.
// Peer queue pairs are located through a shared Registry.
//
// Access latency is simulated per storage tier, so exhausting the on-NIC
// resource tables produces a measurable performance cliff.
package rnic

import (
	"errors"
	"time"
)

// Package errors. The resource API itself reports failure with zero ids and
// false booleans; these are used by the surrounding plumbing.
var (
	ErrDeviceClosed  = errors.New("device closed")
	ErrQPNotFound    = errors.New("queue pair not found")
	ErrCQNotFound    = errors.New("completion queue not found")
	ErrInvalidState  = errors.New("invalid queue pair state")
	ErrInvalidParams = errors.New("invalid connection parameters")
)

// Opcode identifies an RDMA operation.
type Opcode uint8

const (
	OpSend Opcode = iota
	OpRecv
	OpRDMAWrite
	OpRDMARead
	OpAtomicCmpAndSwp
	OpAtomicFetchAndAdd
)

// String returns the opcode name used in logs and metric labels.
func (o Opcode) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	case OpRDMAWrite:
		return "rdma_write"
	case OpRDMARead:
		return "rdma_read"
	case OpAtomicCmpAndSwp:
		return "atomic_cmp_swp"
	case OpAtomicFetchAndAdd:
		return "atomic_fetch_add"
	default:
		return "unknown"
	}
}

// QPState is the connection state of a queue pair.
type QPState uint8

const (
	StateReset QPState = iota
	StateInit
	StateRTR // Ready to Receive
	StateRTS // Ready to Send
	StateSQD // Send Queue Drain
	StateSQE // Send Queue Error
	StateErr
)

// String returns the canonical verbs name of the state.
func (s QPState) String() string {
	switch s {
	case StateReset:
		return "RESET"
	case StateInit:
		return "INIT"
	case StateRTR:
		return "RTR"
	case StateRTS:
		return "RTS"
	case StateSQD:
		return "SQD"
	case StateSQE:
		return "SQE"
	case StateErr:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// Completion status codes.
const (
	StatusOK uint32 = 0
)

// CompletionEntry is one completion queue element. Exactly one entry is
// produced per signaled work request that completes locally, and one per
// successful payload delivery on the receiving side.
type CompletionEntry struct {
	WRID    uint64 `json:"wrId"`
	Status  uint32 `json:"status"`
	Opcode  Opcode `json:"opcode"`
	Length  uint32 `json:"length"`
	ImmData uint32 `json:"immData"`
}

// WorkRequest is a caller-constructed send or receive descriptor. It is
// consumed synchronously by PostSend/PostRecv; the buffer it references
// stays owned by the caller.
type WorkRequest struct {
	Opcode     Opcode
	LocalBuf   []byte
	LKey       uint32
	Length     uint32
	RemoteAddr uint64
	RKey       uint32
	ImmData    uint32
	Signaled   bool
	WRID       uint64
}

// byteLen returns the effective payload length: the explicit Length when
// set, capped by the buffer that backs it.
func (wr *WorkRequest) byteLen() int {
	n := len(wr.LocalBuf)
	if wr.Length > 0 && int(wr.Length) < n {
		n = int(wr.Length)
	}

	return n
}

// QP is a queue pair. A QP lives in exactly one storage tier at a time and
// its number is unique within its device for the QP's lifetime.
type QP struct {
	QPNum       uint32
	DestQPNum   uint32
	LID         uint16
	RemoteLID   uint16
	PortNum     uint8
	AccessFlags uint32
	PSN         uint32
	RemotePSN   uint32
	GID         [16]byte
	RemoteGID   [16]byte
	MTU         uint32
	State       QPState
	SendCQ      uint32
	RecvCQ      uint32
	CreatedAt   time.Time

	// RecvBuf is the caller's outstanding receive buffer, exclusively
	// owned by the QP until a delivery consumes it. nil when no receive
	// is posted.
	RecvBuf []byte

	// PendingData buffers at most one payload that arrived before a
	// receive was posted. A later send overwrites it.
	PendingData []byte
}

// CQ is a completion queue. Completions is strictly FIFO: entries are
// appended on completion and dequeued from the front by PollCQ.
type CQ struct {
	CQNum       uint32
	Capacity    uint32
	Completions []CompletionEntry
}

// MR is a registered memory region. Buf references caller-owned memory;
// the simulator never allocates or frees it.
type MR struct {
	LKey        uint32
	RKey        uint32
	Buf         []byte
	Length      uint64
	AccessFlags uint32
}

// PD is a protection domain. Resources is an association table from
// resource kind ("qp", "cq", "mr") to member ids; membership is tracked
// but not enforced at creation time.
type PD struct {
	Handle    uint32
	Resources map[string][]uint32
}

// ConnParams carries the out-of-band connection parameters exchanged over
// the control channel before ConnectQP.
type ConnParams struct {
	QPNum       uint32
	DestQPNum   uint32
	LID         uint16
	RemoteLID   uint16
	PortNum     uint8
	AccessFlags uint32
	PSN         uint32
	RemotePSN   uint32
	GID         [16]byte
	RemoteGID   [16]byte
	MTU         uint32
	State       QPState
}
