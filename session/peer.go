package session

import (
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/messages"
)

// Sender delivers outbound events to a connection. Send must not block.
type Sender interface {
	Send(msg *messages.ServerMessage)
}

// Peer is the authenticated connection an inbound event arrived on
type Peer struct {
	ConnectionID string
	Identity     auth.Identity
	Out          Sender
}

func (p Peer) send(msg *messages.ServerMessage) {
	if p.Out != nil {
		p.Out.Send(msg)
	}
}

func (p Peer) fail(sessionID string, err error, fallback string) {
	p.send(messages.FromError(sessionID, err, fallback))
}

func (p Peer) reject(sessionID, code, message string) {
	p.send(messages.NewErrorMessage(sessionID, code, message))
}
