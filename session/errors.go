package session

import "fmt"

// ProtocolError is implemented by every protocol-abort error named in
// spec.md §7. It is a closed set (the concrete structs below); callers
// that need to dispatch on the specific abort reason use a type switch,
// the way lnwire frames its own typed wire errors as a closed message
// catalogue.
type ProtocolError interface {
	error
	protocolError()
}

// abortError is the embeddable base every concrete ProtocolError composes,
// carrying the human-readable detail alongside the discriminating type.
type abortError struct {
	Kind   string
	Detail string
}

func (e abortError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("session: %s", e.Kind)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Detail)
}

func (abortError) protocolError() {}

// The following constructors produce the exact taxonomy named in spec.md
// §7. Each wraps abortError with its own Kind so errors.As(err, &Rejected{})
// style matching works per concrete type.

type Rejected struct{ abortError }

func NewRejected(detail string) Rejected { return Rejected{abortError{"Rejected", detail}} }

type InvalidEstablishProof struct{ abortError }

func NewInvalidEstablishProof(detail string) InvalidEstablishProof {
	return InvalidEstablishProof{abortError{"InvalidEstablishProof", detail}}
}

type InvalidClosingSignature struct{ abortError }

func NewInvalidClosingSignature(detail string) InvalidClosingSignature {
	return InvalidClosingSignature{abortError{"InvalidClosingSignature", detail}}
}

type InvalidPayProof struct{ abortError }

func NewInvalidPayProof(detail string) InvalidPayProof {
	return InvalidPayProof{abortError{"InvalidPayProof", detail}}
}

type ReusedNonce struct{ abortError }

func NewReusedNonce(detail string) ReusedNonce { return ReusedNonce{abortError{"ReusedNonce", detail}} }

type ReusedRevocationLock struct{ abortError }

func NewReusedRevocationLock(detail string) ReusedRevocationLock {
	return ReusedRevocationLock{abortError{"ReusedRevocationLock", detail}}
}

type InvalidRevocationOpening struct{ abortError }

func NewInvalidRevocationOpening(detail string) InvalidRevocationOpening {
	return InvalidRevocationOpening{abortError{"InvalidRevocationOpening", detail}}
}

type InvalidPayToken struct{ abortError }

func NewInvalidPayToken(detail string) InvalidPayToken {
	return InvalidPayToken{abortError{"InvalidPayToken", detail}}
}

type KnownRevocationLock struct{ abortError }

func NewKnownRevocationLock(detail string) KnownRevocationLock {
	return KnownRevocationLock{abortError{"KnownRevocationLock", detail}}
}

type InvalidMerchantAuthorizationSignature struct{ abortError }

func NewInvalidMerchantAuthorizationSignature(detail string) InvalidMerchantAuthorizationSignature {
	return InvalidMerchantAuthorizationSignature{abortError{"InvalidMerchantAuthorizationSignature", detail}}
}

type UncloseableState struct{ abortError }

func NewUncloseableState(detail string) UncloseableState {
	return UncloseableState{abortError{"UncloseableState", detail}}
}

type InvalidParameters struct{ abortError }

func NewInvalidParameters(detail string) InvalidParameters {
	return InvalidParameters{abortError{"InvalidParameters", detail}}
}

type FailedVerifyOrigination struct{ abortError }

func NewFailedVerifyOrigination(detail string) FailedVerifyOrigination {
	return FailedVerifyOrigination{abortError{"FailedVerifyOrigination", detail}}
}

type FailedVerifyCustomerFunding struct{ abortError }

func NewFailedVerifyCustomerFunding(detail string) FailedVerifyCustomerFunding {
	return FailedVerifyCustomerFunding{abortError{"FailedVerifyCustomerFunding", detail}}
}

type FailedMerchantFunding struct{ abortError }

func NewFailedMerchantFunding(detail string) FailedMerchantFunding {
	return FailedMerchantFunding{abortError{"FailedMerchantFunding", detail}}
}

// Timeout is raised locally when a step's deadline (scaled from
// message_timeout, spec.md §5 "Cancellation/timeouts") elapses before the
// peer responds. It never crosses the wire the way the others do -- a
// stalled peer by definition isn't delivering frames -- but it implements
// ProtocolError so callers can fold it into the same type switch and so
// the FSM converges the row on the last completed step exactly as an
// aborted offer would.
type Timeout struct{ abortError }

func NewTimeout(detail string) Timeout { return Timeout{abortError{"Timeout", detail}} }

// ErrorEnum is the wire encoding of a ProtocolError sent across an offer's
// `0 => recv ErrorEnum; close` branch (spec.md §6).
type ErrorEnum struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// EncodeError converts a ProtocolError to its wire form.
func EncodeError(err ProtocolError) ErrorEnum {
	switch e := err.(type) {
	case Rejected:
		return ErrorEnum{"Rejected", e.Detail}
	case InvalidEstablishProof:
		return ErrorEnum{"InvalidEstablishProof", e.Detail}
	case InvalidClosingSignature:
		return ErrorEnum{"InvalidClosingSignature", e.Detail}
	case InvalidPayProof:
		return ErrorEnum{"InvalidPayProof", e.Detail}
	case ReusedNonce:
		return ErrorEnum{"ReusedNonce", e.Detail}
	case ReusedRevocationLock:
		return ErrorEnum{"ReusedRevocationLock", e.Detail}
	case InvalidRevocationOpening:
		return ErrorEnum{"InvalidRevocationOpening", e.Detail}
	case InvalidPayToken:
		return ErrorEnum{"InvalidPayToken", e.Detail}
	case KnownRevocationLock:
		return ErrorEnum{"KnownRevocationLock", e.Detail}
	case InvalidMerchantAuthorizationSignature:
		return ErrorEnum{"InvalidMerchantAuthorizationSignature", e.Detail}
	case UncloseableState:
		return ErrorEnum{"UncloseableState", e.Detail}
	case InvalidParameters:
		return ErrorEnum{"InvalidParameters", e.Detail}
	case FailedVerifyOrigination:
		return ErrorEnum{"FailedVerifyOrigination", e.Detail}
	case FailedVerifyCustomerFunding:
		return ErrorEnum{"FailedVerifyCustomerFunding", e.Detail}
	case FailedMerchantFunding:
		return ErrorEnum{"FailedMerchantFunding", e.Detail}
	default:
		return ErrorEnum{"Rejected", err.Error()}
	}
}

// DecodeError converts a wire ErrorEnum back to the concrete ProtocolError.
func DecodeError(e ErrorEnum) ProtocolError {
	switch e.Kind {
	case "Rejected":
		return NewRejected(e.Detail)
	case "InvalidEstablishProof":
		return NewInvalidEstablishProof(e.Detail)
	case "InvalidClosingSignature":
		return NewInvalidClosingSignature(e.Detail)
	case "InvalidPayProof":
		return NewInvalidPayProof(e.Detail)
	case "ReusedNonce":
		return NewReusedNonce(e.Detail)
	case "ReusedRevocationLock":
		return NewReusedRevocationLock(e.Detail)
	case "InvalidRevocationOpening":
		return NewInvalidRevocationOpening(e.Detail)
	case "InvalidPayToken":
		return NewInvalidPayToken(e.Detail)
	case "KnownRevocationLock":
		return NewKnownRevocationLock(e.Detail)
	case "InvalidMerchantAuthorizationSignature":
		return NewInvalidMerchantAuthorizationSignature(e.Detail)
	case "UncloseableState":
		return NewUncloseableState(e.Detail)
	case "InvalidParameters":
		return NewInvalidParameters(e.Detail)
	case "FailedVerifyOrigination":
		return NewFailedVerifyOrigination(e.Detail)
	case "FailedVerifyCustomerFunding":
		return NewFailedVerifyCustomerFunding(e.Detail)
	case "FailedMerchantFunding":
		return NewFailedMerchantFunding(e.Detail)
	default:
		return NewRejected(e.Detail)
	}
}

// ErrTransport is returned when the transport cannot deliver or resume a
// session after exhausting reconnect-resume retries (spec.md §7).
type ErrTransport struct {
	Detail string
}

func (e ErrTransport) Error() string {
	return fmt.Sprintf("session: transport error: %s", e.Detail)
}
