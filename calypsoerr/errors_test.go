package calypsoerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCardErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := newCardError("CardDataAccess", "file not found", 0x6A82, cause)
	wrapped := fmt.Errorf("read record: %w", err)

	var ce *CardError
	if !errors.As(wrapped, &ce) {
		t.Fatal("expected errors.As to find the wrapped *CardError")
	}
	if ce.SW != 0x6A82 {
		t.Fatalf("SW: got %04X, want 6A82", ce.SW)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected the original cause to remain reachable via errors.Is")
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := NewReaderIO(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected ReaderIO to unwrap to its cause")
	}
}

func TestDistinctKindsAreDistinguishable(t *testing.T) {
	var sig *SignatureError
	err := error(NewInvalidSvCardSignature())
	if !errors.As(err, &sig) {
		t.Fatal("expected errors.As to match *SignatureError")
	}
	if sig.Kind != "InvalidSvCardSignature" {
		t.Fatalf("Kind: got %s, want InvalidSvCardSignature", sig.Kind)
	}
}
