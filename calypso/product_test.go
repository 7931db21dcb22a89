package calypso

import (
	"testing"

	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/tlv"
)

func buildFCI(dfName []byte, serial []byte, startup [7]byte) []byte {
	var prop []byte
	prop = append(prop, tlv.Marshal(tagApplicationSN, serial)...)
	prop = append(prop, tlv.Marshal(tagFCIIssuerData, startup[:])...)
	var inner []byte
	inner = append(inner, tlv.Marshal(tagDFName, dfName)...)
	inner = append(inner, tlv.Marshal(tagFCIProprietary, prop)...)
	return tlv.Marshal(0x6F, inner)
}

func TestDetectFromPowerOnData(t *testing.T) {
	atr := make([]byte, 20)
	copy(atr[6:12], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	copy(atr[12:16], []byte{0x01, 0x02, 0x03, 0x04})

	c, err := DetectFromPowerOnData(atr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ProductType != dictionaries.ProductPrimeRev1 {
		t.Fatalf("expected PRIME_REV_1, got %v", c.ProductType)
	}
	if c.ClassByte != 0x94 {
		t.Fatalf("expected LEGACY class, got %02X", c.ClassByte)
	}
	want := [8]byte{0, 0, 0, 0, 0x01, 0x02, 0x03, 0x04}
	if c.SerialNumber != want {
		t.Fatalf("serial number: got %X, want %X", c.SerialNumber, want)
	}
	if c.SessionModificationCapacity != 3 {
		t.Fatalf("expected modifications counter 3, got %d", c.SessionModificationCapacity)
	}
}

func TestDetectFromFCIPrimeRev3(t *testing.T) {
	startup := [7]byte{0x07, 0x00, 0x21, 0x01, 0x00, 0x00, 0x00}
	fci := buildFCI([]byte{0x32, 0x50, 0x41}, []byte{0, 0, 0, 0, 0, 0, 0, 0}, startup)

	c, err := DetectFromFCI(fci)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ProductType != dictionaries.ProductPrimeRev3 {
		t.Fatalf("expected PRIME_REV_3, got %v", c.ProductType)
	}
	if !c.Features.PIN {
		t.Fatal("expected PIN feature set from applicationType bit 0")
	}
	if c.SessionModificationCapacity != 23 {
		t.Fatalf("session modification capacity: got %d, want 23 (indicator 0x07)", c.SessionModificationCapacity)
	}
}

func TestDetectFromFCIRejectsZeroApplicationType(t *testing.T) {
	startup := [7]byte{0x07, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	fci := buildFCI(nil, nil, startup)
	if _, err := DetectFromFCI(fci); err == nil {
		t.Fatal("expected an error for applicationType == 0")
	}
}

func TestDetectFromFCIRejectsInvalidSubType(t *testing.T) {
	startup := [7]byte{0x07, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00}
	fci := buildFCI(nil, nil, startup)
	if _, err := DetectFromFCI(fci); err == nil {
		t.Fatal("expected an error for applicationSubType == 0x00")
	}
}

func TestHCEFlagFromSerial(t *testing.T) {
	startup := [7]byte{0x07, 0x00, 0x20, 0x01, 0x00, 0x00, 0x00}
	serial := []byte{0, 0, 0, 0x80, 0, 0, 0, 0}
	fci := buildFCI(nil, serial, startup)
	c, err := DetectFromFCI(fci)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.HCE {
		t.Fatal("expected HCE flag set from high bit of serial[3]")
	}
}
