package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/piwi3910/rnicsim/internal/rnic"
)

// ConnState is the lifecycle state of a channel.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name used in logs.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = errors.New("control channel not connected")
	ErrBadState     = errors.New("control channel in wrong state")
	ErrTimeout      = errors.New("control channel timeout")
	ErrRejected     = errors.New("peer rejected connection")
)

// Channel is one end of the TCP control connection used to exchange QP
// connection parameters. A channel is either the accepting side
// (StartServer then Accept) or the dialing side (Connect); both then speak
// the same framed message protocol. Safe for concurrent use.
type Channel struct {
	mu       sync.Mutex
	state    ConnState
	listener *net.TCPListener
	conn     net.Conn
	peerAddr string
	peerPort uint16
}

// NewChannel returns a disconnected channel.
func NewChannel() *Channel {
	return &Channel{state: StateDisconnected}
}

// StartServer binds a listening socket. Port 0 picks an ephemeral port,
// retrievable via Port. The channel moves to connecting until Accept
// completes.
func (c *Channel) StartServer(port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return fmt.Errorf("%w: %s", ErrBadState, c.state)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(port))))
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("start control server: %w", err)
	}

	c.listener = listener.(*net.TCPListener)
	c.state = StateConnecting

	log.Debug().
		Str("addr", listener.Addr().String()).
		Msg("Control channel listening")

	return nil
}

// Port returns the bound listening port, or 0 when not listening.
func (c *Channel) Port() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener == nil {
		return 0
	}

	return uint16(c.listener.Addr().(*net.TCPAddr).Port)
}

// Accept waits up to timeout for one peer connection. Zero means wait
// forever.
func (c *Channel) Accept(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting || c.listener == nil {
		return fmt.Errorf("%w: %s", ErrBadState, c.state)
	}

	if timeout > 0 {
		if err := c.listener.SetDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set accept deadline: %w", err)
		}
	}

	conn, err := c.listener.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return ErrTimeout
		}
		c.state = StateFailed
		return fmt.Errorf("accept control connection: %w", err)
	}

	addr := conn.RemoteAddr().(*net.TCPAddr)
	c.conn = conn
	c.peerAddr = addr.IP.String()
	c.peerPort = uint16(addr.Port)
	c.state = StateConnected

	log.Debug().
		Str("peer", addr.String()).
		Msg("Control channel accepted peer")

	return nil
}

// Connect dials the peer's control server.
func (c *Channel) Connect(host string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return fmt.Errorf("%w: %s", ErrBadState, c.state)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("connect control channel: %w", err)
	}

	c.conn = conn
	c.peerAddr = host
	c.peerPort = port
	c.state = StateConnected

	log.Debug().
		Str("peer", conn.RemoteAddr().String()).
		Msg("Control channel connected")

	return nil
}

// SendConnectRequest sends the local QP parameters to open the handshake.
func (c *Channel) SendConnectRequest(params rnic.ConnParams) error {
	return c.Send(Message{Type: MsgConnectRequest, Params: params})
}

// SendConnectResponse answers a connect request, carrying the responder's
// own QP parameters.
func (c *Channel) SendConnectResponse(params rnic.ConnParams, accept bool) error {
	return c.Send(Message{Type: MsgConnectResponse, Params: params, Accept: accept})
}

// SendReady signals the handshake is complete on this side.
func (c *Channel) SendReady() error {
	return c.Send(Message{Type: MsgReady})
}

// SendError reports a fatal handshake error and marks the channel failed.
func (c *Channel) SendError(msg string) error {
	err := c.Send(Message{Type: MsgError, ErrorMsg: msg})

	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()

	return err
}

// Send writes one framed message.
func (c *Channel) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return ErrNotConnected
	}

	payload := m.encode()
	frame := make([]byte, 0, 4+len(payload))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)

	if _, err := c.conn.Write(frame); err != nil {
		c.state = StateFailed
		return fmt.Errorf("send %s: %w", m.Type, err)
	}

	return nil
}

// Receive reads one framed message, waiting up to timeout. Zero means wait
// forever.
func (c *Channel) Receive(timeout time.Duration) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return Message{}, ErrNotConnected
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, fmt.Errorf("set read deadline: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return Message{}, c.receiveFailed(err)
	}

	msgLen := binary.BigEndian.Uint32(lenBuf[:])
	if msgLen < minMessageLen || msgLen > minMessageLen+maxErrorLen {
		c.state = StateFailed
		return Message{}, fmt.Errorf("%w: frame length %d", ErrShortMessage, msgLen)
	}

	payload := make([]byte, msgLen)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return Message{}, c.receiveFailed(err)
	}

	m, err := decodeMessage(payload)
	if err != nil {
		c.state = StateFailed
		return Message{}, err
	}

	return m, nil
}

func (c *Channel) receiveFailed(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}

	c.state = StateFailed

	return fmt.Errorf("receive control message: %w", err)
}

// State returns the channel's lifecycle state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// PeerAddr returns the remote address once connected.
func (c *Channel) PeerAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peerAddr
}

// PeerPort returns the remote port once connected.
func (c *Channel) PeerPort() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peerPort
}

// Close tears down the connection and any listener and returns the channel
// to disconnected. Safe to call in any state.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}

	if c.listener != nil {
		if err := c.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.listener = nil
	}

	c.state = StateDisconnected

	return firstErr
}
