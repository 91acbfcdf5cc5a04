package session

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"

	"github.com/cenkalti/backoff/v4"
)

// Choice is the top-level session kind selected at the start of every
// session (spec.md §6): `choose { 0=>Parameters | 1=>Establish | 2=>Pay |
// 3=>Close }`.
type Choice uint8

const (
	ChoiceParameters Choice = 0
	ChoiceEstablish  Choice = 1
	ChoicePay        Choice = 2
	ChoiceClose      Choice = 3
)

func (c Choice) String() string {
	switch c {
	case ChoiceParameters:
		return "Parameters"
	case ChoiceEstablish:
		return "Establish"
	case ChoicePay:
		return "Pay"
	case ChoiceClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Session wraps one established, handshaken connection. It offers typed
// Send/Recv of arbitrary JSON-encodable payloads over the length-delimited
// frame layer, plus the Choose/Offer primitives every protocol step uses.
//
// A hand-rolled JSON encoding is used rather than protobuf/gob: the
// protocol packages define their own small step-local structs, and JSON
// keeps this transport's payload format independent of any generated code.
type Session struct {
	conn   net.Conn
	reader *FrameReader
	writer *FrameWriter

	ClientUUID string
	ServerUUID string

	timeouts Timeouts
}

// NewSession wraps conn with a frame size limit of maxFrameLen (0 selects
// the default). Run ClientHandshakeFresh, ClientHandshakeResume, or
// ServerHandshake before calling Send/Recv/Choose/Offer.
func NewSession(conn net.Conn, maxFrameLen uint32) *Session {
	return &Session{
		conn:   conn,
		reader: NewFrameReader(conn, maxFrameLen),
		writer: NewFrameWriter(conn, maxFrameLen),
	}
}

// Dial opens a TLS connection to address and wraps it in a Session. The
// caller still owns the handshake: call ClientHandshakeFresh or
// ClientHandshakeResume before Send/Recv/Choose/Offer.
func Dial(address string, tlsConfig *tls.Config, maxFrameLen uint32) (*Session, error) {
	conn, err := tls.Dial("tcp", address, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", address, err)
	}
	return NewSession(conn, maxFrameLen), nil
}

// DialWithRetry is Dial with retry the transport error class spec.md §7
// describes ("transport errors: retry on the next tick/attempt"): a dial
// that fails is retried on policy's schedule before giving up. policy
// is spent by this call; build a fresh one (config.RetryConfig.Policy())
// per DialWithRetry invocation.
func DialWithRetry(address string, tlsConfig *tls.Config, maxFrameLen uint32, policy backoff.BackOff) (*Session, error) {
	var sess *Session
	operation := func() error {
		s, err := Dial(address, tlsConfig, maxFrameLen)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("session: dial %s after retries: %w", address, err)
	}
	return sess, nil
}

// Send JSON-encodes v and writes it as one frame. If Timeouts.Message is
// set, the write must complete within it or Send fails with a Timeout.
func (s *Session) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.conn.SetWriteDeadline(s.deadlineFor()); err != nil {
		return fmt.Errorf("session: set write deadline: %w", err)
	}
	if err := s.writer.WriteFrame(payload); err != nil {
		return asTimeout(err, "timed out while sending")
	}
	return nil
}

// Recv reads one frame and JSON-decodes it into v. If Timeouts.Message is
// set, the read must complete within it or Recv fails with a Timeout.
func (s *Session) Recv(v any) error {
	if err := s.conn.SetReadDeadline(s.deadlineFor()); err != nil {
		return fmt.Errorf("session: set read deadline: %w", err)
	}
	payload, err := s.reader.ReadFrame()
	if err != nil {
		if timeoutErr := asTimeout(err, "timed out while receiving"); timeoutErr != err {
			return timeoutErr
		}
		return ErrTransport{Detail: err.Error()}
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("session: decode: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// ChooseTopLevel sends the top-level session-kind choice (the first frame
// after the handshake completes, spec.md §6).
func (s *Session) ChooseTopLevel(c Choice) error {
	return s.Send(struct {
		Choice Choice `json:"choice"`
	}{c})
}

// OfferTopLevel is the server side of ChooseTopLevel.
func (s *Session) OfferTopLevel() (Choice, error) {
	var msg struct {
		Choice Choice `json:"choice"`
	}
	if err := s.Recv(&msg); err != nil {
		return 0, err
	}
	return msg.Choice, nil
}

// offerEnvelope is the wire shape of an `offer {0=>recv ErrorEnum; close |
// 1=>continue}` checkpoint (spec.md §6): the sender picks branch 0 to abort
// with a protocol error, or branch 1 to continue normally, optionally
// attaching the next step's payload.
type offerEnvelope struct {
	Continue bool            `json:"continue"`
	Error    *ErrorEnum      `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// OfferAbort sends branch 0 of an offer checkpoint, carrying err, then
// closes the session (spec.md §6, §7: a protocol abort finalizes the
// channel row in its last state and admits no further steps on this
// session).
func (s *Session) OfferAbort(err ProtocolError) error {
	enc := EncodeError(err)
	if sendErr := s.Send(offerEnvelope{Continue: false, Error: &enc}); sendErr != nil {
		return sendErr
	}
	return s.Close()
}

// OfferContinue sends branch 1 of an offer checkpoint with the next step's
// payload attached.
func (s *Session) OfferContinue(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("session: encode offer payload: %w", err)
	}
	return s.Send(offerEnvelope{Continue: true, Payload: raw})
}

// AwaitOffer is the receiving side of an offer checkpoint: on an abort it
// returns the decoded ProtocolError as abortErr; on continue it returns the
// raw payload (decode it with json.Unmarshal into the expected next-step
// type) and a nil abortErr. err is set only when the frame cannot be read.
func (s *Session) AwaitOffer() (payload json.RawMessage, abortErr ProtocolError, err error) {
	var env offerEnvelope
	if err := s.Recv(&env); err != nil {
		return nil, nil, err
	}
	if !env.Continue {
		if env.Error == nil {
			return nil, NewRejected("offer aborted with no error detail"), nil
		}
		return nil, DecodeError(*env.Error), nil
	}
	return env.Payload, nil, nil
}
