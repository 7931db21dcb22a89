// Package calypsoerr implements the error taxonomy engine operations
// report. Each kind is a distinct Go type wrapping a lower-level cause with
// %w, discriminated at the caller boundary with errors.As rather than
// string matching or sentinel equality.
package calypsoerr

import "fmt"

// CardError is the common shape of every card-side protocol error: a status
// word (when one triggered it, 0 otherwise), a message, and an optional
// wrapped cause.
type CardError struct {
	Kind    string
	SW      uint16
	Message string
	Cause   error
}

func (e *CardError) Error() string {
	if e.SW != 0 {
		if e.Cause != nil {
			return fmt.Sprintf("calypso: %s (SW=%04X): %s: %v", e.Kind, e.SW, e.Message, e.Cause)
		}
		return fmt.Sprintf("calypso: %s (SW=%04X): %s", e.Kind, e.SW, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("calypso: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("calypso: %s: %s", e.Kind, e.Message)
}

func (e *CardError) Unwrap() error { return e.Cause }

func newCardError(kind, message string, sw uint16, cause error) *CardError {
	return &CardError{Kind: kind, SW: sw, Message: message, Cause: cause}
}

// NewCardIllegalParameter reports a malformed request to the card.
func NewCardIllegalParameter(message string, sw uint16) *CardError {
	return newCardError("CardIllegalParameter", message, sw, nil)
}

// NewCardDataAccess reports file-not-found, wrong EF type, or offset overflow.
func NewCardDataAccess(message string, sw uint16) *CardError {
	return newCardError("CardDataAccess", message, sw, nil)
}

// NewCardAccessForbidden reports never-access mode or a DF-invalidated card.
func NewCardAccessForbidden(message string, sw uint16) *CardError {
	return newCardError("CardAccessForbidden", message, sw, nil)
}

// NewCardSecurityContext reports unmet security preconditions: no session,
// wrong key, or encryption required but inactive.
func NewCardSecurityContext(message string, sw uint16) *CardError {
	return newCardError("CardSecurityContext", message, sw, nil)
}

// NewCardSecurityData reports a bad cryptogram or bad padding.
func NewCardSecurityData(message string, sw uint16) *CardError {
	return newCardError("CardSecurityData", message, sw, nil)
}

// NewCardSessionBufferOverflow reports an exhausted modifications buffer
// with multi-session disabled.
func NewCardSessionBufferOverflow(message string, sw uint16) *CardError {
	return newCardError("CardSessionBufferOverflow", message, sw, nil)
}

// NewCardTerminated reports a card whose transaction counter is exhausted.
func NewCardTerminated(message string, sw uint16) *CardError {
	return newCardError("CardTerminated", message, sw, nil)
}

// NewCardUnexpectedResponseLength reports a response whose length doesn't
// match the expected variant grammar.
func NewCardUnexpectedResponseLength(message string) *CardError {
	return newCardError("CardUnexpectedResponseLength", message, 0, nil)
}

// NewCardUnknownStatus reports an SW absent from the command's status table.
func NewCardUnknownStatus(sw uint16) *CardError {
	return newCardError("CardUnknownStatus", "unrecognized status word", sw, nil)
}

// TransportError reports a failure talking to the card or SAM reader.
type TransportError struct {
	Kind  string // "SamIO" or "ReaderIO"
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("calypso: %s: %v", e.Kind, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// NewSamIO wraps a transport failure talking to the SAM reader.
func NewSamIO(cause error) *TransportError { return &TransportError{Kind: "SamIO", Cause: cause} }

// NewReaderIO wraps a transport failure talking to the card reader.
func NewReaderIO(cause error) *TransportError {
	return &TransportError{Kind: "ReaderIO", Cause: cause}
}

// SignatureError reports a cryptographic verification failure.
type SignatureError struct {
	Kind string // "InvalidCardSignature", "InvalidSignature", "InvalidSvCardSignature"
}

func (e *SignatureError) Error() string { return "calypso: " + e.Kind }

// NewInvalidCardSignature reports a failed Close Secure Session MAC check.
func NewInvalidCardSignature() *SignatureError { return &SignatureError{Kind: "InvalidCardSignature"} }

// NewInvalidSignature reports a generic failed SAM signature verification.
func NewInvalidSignature() *SignatureError { return &SignatureError{Kind: "InvalidSignature"} }

// NewInvalidSvCardSignature reports a failed stored-value MAC check.
func NewInvalidSvCardSignature() *SignatureError {
	return &SignatureError{Kind: "InvalidSvCardSignature"}
}

// ProtocolError covers preconditions the engine itself enforces rather than
// the card: request/response count mismatches, disallowed keys, and session
// buffer exhaustion surfaced at the caller boundary.
type ProtocolError struct {
	Kind    string
	Message string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("calypso: %s: %s", e.Kind, e.Message) }

// NewInconsistentData reports a request/response count mismatch.
func NewInconsistentData(message string) *ProtocolError {
	return &ProtocolError{Kind: "InconsistentData", Message: message}
}

// NewUnauthorizedKey reports a KIF/KVC outside the caller-provided allow-list.
func NewUnauthorizedKey(message string) *ProtocolError {
	return &ProtocolError{Kind: "UnauthorizedKey", Message: message}
}

// NewSessionBufferOverflow is the caller-boundary alias of
// CardSessionBufferOverflow.
func NewSessionBufferOverflow(message string) *ProtocolError {
	return &ProtocolError{Kind: "SessionBufferOverflow", Message: message}
}

// IllegalStateError reports an operation invoked when the engine or a
// command is not in a state that permits it (e.g. a postponed counter read
// with no previously known value).
type IllegalStateError struct {
	Message string
}

func (e *IllegalStateError) Error() string { return "calypso: IllegalState: " + e.Message }

// NewIllegalState reports an operation invoked in an invalid state.
func NewIllegalState(message string) *IllegalStateError { return &IllegalStateError{Message: message} }
