// Package control implements the TCP control channel two peers use to
// exchange queue pair connection parameters before ConnectQP.
//
// The wire format is fixed: every message is a 4-byte big-endian length
// followed by the payload; the payload is a 1-byte message type, the QP
// parameter block, a 1-byte accept flag and a length-prefixed error string.
// All multi-byte fields are big-endian.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/piwi3910/rnicsim/internal/rnic"
)

// MsgType identifies a control message.
type MsgType uint8

const (
	MsgConnectRequest MsgType = iota
	MsgConnectResponse
	MsgReady
	MsgError
)

// String returns the message type name used in logs.
func (t MsgType) String() string {
	switch t {
	case MsgConnectRequest:
		return "CONNECT_REQUEST"
	case MsgConnectResponse:
		return "CONNECT_RESPONSE"
	case MsgReady:
		return "READY"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// paramBlockLen is the encoded size of the QP parameter block:
// qp_num(4) dest_qp_num(4) lid(2) remote_lid(2) port_num(1)
// access_flags(4) psn(4) remote_psn(4) gid(16) remote_gid(16)
// mtu(4) state(1).
const paramBlockLen = 62

// minMessageLen is type(1) + param block + accept(1) + error_len(4).
const minMessageLen = 1 + paramBlockLen + 1 + 4

// maxErrorLen bounds the error string so a corrupt length prefix cannot
// force a huge allocation.
const maxErrorLen = 1 << 16

var (
	ErrShortMessage   = errors.New("control message truncated")
	ErrMessageTooLong = errors.New("control message exceeds maximum size")
)

// Message is one decoded control channel message. Every message carries a
// full parameter block; READY and ERROR simply leave it zeroed.
type Message struct {
	Type     MsgType
	Params   rnic.ConnParams
	Accept   bool
	ErrorMsg string
}

// encode serializes the message payload (without the outer length prefix).
func (m *Message) encode() []byte {
	buf := make([]byte, 0, minMessageLen+len(m.ErrorMsg))

	buf = append(buf, byte(m.Type))

	buf = binary.BigEndian.AppendUint32(buf, m.Params.QPNum)
	buf = binary.BigEndian.AppendUint32(buf, m.Params.DestQPNum)
	buf = binary.BigEndian.AppendUint16(buf, m.Params.LID)
	buf = binary.BigEndian.AppendUint16(buf, m.Params.RemoteLID)
	buf = append(buf, m.Params.PortNum)
	buf = binary.BigEndian.AppendUint32(buf, m.Params.AccessFlags)
	buf = binary.BigEndian.AppendUint32(buf, m.Params.PSN)
	buf = binary.BigEndian.AppendUint32(buf, m.Params.RemotePSN)
	buf = append(buf, m.Params.GID[:]...)
	buf = append(buf, m.Params.RemoteGID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, m.Params.MTU)
	buf = append(buf, byte(m.Params.State))

	if m.Accept {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.ErrorMsg)))
	buf = append(buf, m.ErrorMsg...)

	return buf
}

// decodeMessage parses one payload produced by encode.
func decodeMessage(data []byte) (Message, error) {
	if len(data) < minMessageLen {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))
	}

	var m Message
	m.Type = MsgType(data[0])

	p := data[1:]
	m.Params.QPNum = binary.BigEndian.Uint32(p[0:4])
	m.Params.DestQPNum = binary.BigEndian.Uint32(p[4:8])
	m.Params.LID = binary.BigEndian.Uint16(p[8:10])
	m.Params.RemoteLID = binary.BigEndian.Uint16(p[10:12])
	m.Params.PortNum = p[12]
	m.Params.AccessFlags = binary.BigEndian.Uint32(p[13:17])
	m.Params.PSN = binary.BigEndian.Uint32(p[17:21])
	m.Params.RemotePSN = binary.BigEndian.Uint32(p[21:25])
	copy(m.Params.GID[:], p[25:41])
	copy(m.Params.RemoteGID[:], p[41:57])
	m.Params.MTU = binary.BigEndian.Uint32(p[57:61])
	m.Params.State = rnic.QPState(p[61])

	m.Accept = p[62] != 0

	errLen := binary.BigEndian.Uint32(p[63:67])
	if errLen > maxErrorLen {
		return Message{}, fmt.Errorf("%w: error string %d bytes", ErrMessageTooLong, errLen)
	}

	rest := p[67:]
	if uint32(len(rest)) < errLen {
		return Message{}, fmt.Errorf("%w: error string truncated", ErrShortMessage)
	}
	m.ErrorMsg = string(rest[:errLen])

	return m, nil
}
