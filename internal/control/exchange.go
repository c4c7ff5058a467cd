package control

import (
	"errors"
	"fmt"
	"time"

	"github.com/piwi3910/rnicsim/internal/rnic"
)

// ErrProtocol is returned when the peer sends an unexpected message type
// during the handshake.
var ErrProtocol = errors.New("control channel protocol violation")

// ExchangeAsClient runs the dialing side of the parameter handshake: send
// the local QP parameters, wait for the peer's response, confirm with
// READY. Returns the peer's parameters, ready to pass to ConnectQP.
func (c *Channel) ExchangeAsClient(local rnic.ConnParams, timeout time.Duration) (rnic.ConnParams, error) {
	if err := c.SendConnectRequest(local); err != nil {
		return rnic.ConnParams{}, err
	}

	resp, err := c.Receive(timeout)
	if err != nil {
		return rnic.ConnParams{}, err
	}

	switch resp.Type {
	case MsgConnectResponse:
	case MsgError:
		return rnic.ConnParams{}, fmt.Errorf("%w: %s", ErrRejected, resp.ErrorMsg)
	default:
		return rnic.ConnParams{}, fmt.Errorf("%w: got %s, want CONNECT_RESPONSE", ErrProtocol, resp.Type)
	}

	if !resp.Accept {
		return rnic.ConnParams{}, ErrRejected
	}

	if err := c.SendReady(); err != nil {
		return rnic.ConnParams{}, err
	}

	return resp.Params, nil
}

// ExchangeAsServer runs the accepting side: wait for the peer's request,
// answer with the local QP parameters, wait for READY. Returns the peer's
// parameters.
func (c *Channel) ExchangeAsServer(local rnic.ConnParams, timeout time.Duration) (rnic.ConnParams, error) {
	req, err := c.Receive(timeout)
	if err != nil {
		return rnic.ConnParams{}, err
	}

	if req.Type != MsgConnectRequest {
		return rnic.ConnParams{}, fmt.Errorf("%w: got %s, want CONNECT_REQUEST", ErrProtocol, req.Type)
	}

	if err := c.SendConnectResponse(local, true); err != nil {
		return rnic.ConnParams{}, err
	}

	ready, err := c.Receive(timeout)
	if err != nil {
		return rnic.ConnParams{}, err
	}

	if ready.Type != MsgReady {
		return rnic.ConnParams{}, fmt.Errorf("%w: got %s, want READY", ErrProtocol, ready.Type)
	}

	return req.Params, nil
}
