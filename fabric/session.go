package fabric

import (
	"time"

	"github.com/opd-ai/headlink/address"
	"github.com/opd-ai/headlink/transport"
)

// Session is one paired head: an addressable entity owning a UDP channel that
// listens on a leased port and sends to the head's port.
type Session struct {
	*address.Handle

	channel     *transport.UDPChannel
	created     time.Time
	unsubscribe func()
}

// Channel returns the session's UDP channel.
func (s *Session) Channel() *transport.UDPChannel {
	return s.channel
}

// Created returns when the session was paired.
func (s *Session) Created() time.Time {
	return s.created
}

// Info returns the JSON view of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Address:    s.Address().String(),
		ListenPort: s.channel.ListenPort(),
		SendPort:   s.channel.SendPort(),
		State:      s.channel.State().String(),
		Restarts:   s.channel.Restarts(),
		Created:    s.created,
	}
}

// SessionInfo describes a session in API responses.
type SessionInfo struct {
	Address    string    `json:"address"`
	ListenPort int       `json:"listen_port"`
	SendPort   int       `json:"send_port"`
	State      string    `json:"state,omitempty"`
	Restarts   int64     `json:"restarts"`
	Created    time.Time `json:"created"`
}
