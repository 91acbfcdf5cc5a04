package session

import (
	"fmt"

	"github.com/google/uuid"
)

// HandshakeChoice selects between a fresh session (0) and resuming a prior
// one by presenting its (client_uuid, server_uuid) pair (1), per spec.md
// §6:
//
//	Handshake = choose {
//	  0 => send client_uuid; recv server_uuid;
//	  1 => send (client_uuid, server_uuid);
//	}
type HandshakeChoice uint8

const (
	HandshakeFresh  HandshakeChoice = 0
	HandshakeResume HandshakeChoice = 1
)

type handshakeMsg struct {
	Choice     HandshakeChoice `json:"choice"`
	ClientUUID string          `json:"client_uuid"`
	ServerUUID string          `json:"server_uuid,omitempty"`
}

// ClientHandshakeFresh opens a brand new session: sends a freshly generated
// client_uuid and waits for the server's server_uuid.
func (s *Session) ClientHandshakeFresh() error {
	s.ClientUUID = uuid.NewString()
	if err := s.Send(handshakeMsg{Choice: HandshakeFresh, ClientUUID: s.ClientUUID}); err != nil {
		return err
	}
	var reply struct {
		ServerUUID string `json:"server_uuid"`
	}
	if err := s.Recv(&reply); err != nil {
		return err
	}
	s.ServerUUID = reply.ServerUUID
	return nil
}

// ClientHandshakeResume presents a prior (client_uuid, server_uuid) pair to
// resume a session the transport previously lost.
func (s *Session) ClientHandshakeResume(clientUUID, serverUUID string) error {
	s.ClientUUID = clientUUID
	s.ServerUUID = serverUUID
	return s.Send(handshakeMsg{
		Choice:     HandshakeResume,
		ClientUUID: clientUUID,
		ServerUUID: serverUUID,
	})
}

// ResumptionStore is the narrow interface the server-side handshake needs
// to look up and register in-flight sessions by client/server uuid pair,
// independent of how the merchant daemon actually tracks live sessions
// (e.g. an in-memory map keyed by client_uuid).
type ResumptionStore interface {
	// Lookup returns whether a session previously existed for clientUUID
	// and, if so, the server_uuid it was assigned.
	Lookup(clientUUID string) (serverUUID string, ok bool)
	// Register assigns and persists a fresh server_uuid for clientUUID.
	Register(clientUUID string) (serverUUID string)
}

// ServerHandshake accepts either branch of the client's handshake choice
// and reports whether the client resumed an earlier session; the resolved
// identifiers are stored in s.ClientUUID and s.ServerUUID.
func (s *Session) ServerHandshake(store ResumptionStore) (resumed bool, err error) {
	var msg handshakeMsg
	if err := s.Recv(&msg); err != nil {
		return false, err
	}
	s.ClientUUID = msg.ClientUUID

	switch msg.Choice {
	case HandshakeFresh:
		s.ServerUUID = store.Register(msg.ClientUUID)
		if err := s.Send(struct {
			ServerUUID string `json:"server_uuid"`
		}{s.ServerUUID}); err != nil {
			return false, err
		}
		return false, nil

	case HandshakeResume:
		existing, ok := store.Lookup(msg.ClientUUID)
		if !ok || existing != msg.ServerUUID {
			return false, ErrTransport{Detail: "resume presented unknown or mismatched session pair"}
		}
		s.ServerUUID = existing
		return true, nil

	default:
		return false, fmt.Errorf("session: unknown handshake choice %d", msg.Choice)
	}
}
