package tlv

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestParseSiblings(t *testing.T) {
	// 84 03 AABBCC, C7 02 0102
	elems, err := Parse(mustHex(t, "8403AABBCCC7020102"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(elems) != 2 {
		t.Fatalf("got %d elements, want 2", len(elems))
	}
	if elems[0].Tag != 0x84 || !bytes.Equal(elems[0].Value, mustHex(t, "AABBCC")) {
		t.Fatalf("first element = %02X %X", elems[0].Tag, elems[0].Value)
	}
	if elems[1].Tag != 0xC7 || !bytes.Equal(elems[1].Value, mustHex(t, "0102")) {
		t.Fatalf("second element = %02X %X", elems[1].Tag, elems[1].Value)
	}
}

func TestParseTwoByteTag(t *testing.T) {
	// BF0C 03 010203 — FCI issuer discretionary template tag
	elems, err := Parse(mustHex(t, "BF0C03010203"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(elems) != 1 || elems[0].Tag != 0xBF0C {
		t.Fatalf("elements = %+v, want one BF0C", elems)
	}
	if !elems[0].Constructed() {
		t.Fatal("BF0C should be constructed")
	}
}

func TestParseLongFormLengths(t *testing.T) {
	long := make([]byte, 0x90)
	buf := Marshal(0x53, long)
	if buf[1] != 0x81 || buf[2] != 0x90 {
		t.Fatalf("expected 81 90 length encoding, got % X", buf[:3])
	}
	elems, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(elems[0].Value) != 0x90 {
		t.Fatalf("value length = %d, want 0x90", len(elems[0].Value))
	}

	longer := make([]byte, 0x120)
	buf = Marshal(0x53, longer)
	if buf[1] != 0x82 || buf[2] != 0x01 || buf[3] != 0x20 {
		t.Fatalf("expected 82 01 20 length encoding, got % X", buf[:4])
	}
	if elems, err = Parse(buf); err != nil || len(elems[0].Value) != 0x120 {
		t.Fatalf("Parse of 82-length element: %v, len %d", err, len(elems[0].Value))
	}
}

func TestParseSkipsPadding(t *testing.T) {
	elems, err := Parse(mustHex(t, "008403AABBCCFFFF00"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(elems) != 1 || elems[0].Tag != 0x84 {
		t.Fatalf("elements = %+v, want one 84", elems)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"truncated value":    "84050102",
		"indefinite length":  "6F80AABB0000",
		"three-byte tag":     "BF8C0C00",
		"truncated length81": "5381",
		"length form 83":     "53830000",
	}
	for name, in := range cases {
		if _, err := Parse(mustHex(t, in)); err == nil {
			t.Errorf("%s: expected an error for % X", name, in)
		}
	}
}

func TestFindDescendsIntoTemplates(t *testing.T) {
	// 6F [ 84 len AID, A5 [ C7 len serial, 53 len startup ] ]
	aid := mustHex(t, "325041592E5359532E4444463031")
	serial := mustHex(t, "0000000000000001")
	startup := mustHex(t, "07002001000000")

	var prop []byte
	prop = append(prop, Marshal(0xC7, serial)...)
	prop = append(prop, Marshal(0x53, startup)...)
	var inner []byte
	inner = append(inner, Marshal(0x84, aid)...)
	inner = append(inner, Marshal(0xA5, prop)...)
	fci := Marshal(0x6F, inner)

	for tag, want := range map[uint16][]byte{0x84: aid, 0xC7: serial, 0x53: startup} {
		got, ok := Find(fci, tag)
		if !ok || !bytes.Equal(got, want) {
			t.Fatalf("Find(%02X) = %X %v, want %X", tag, got, ok, want)
		}
	}
	if _, ok := Find(fci, 0x9F); ok {
		t.Fatal("Find of an absent tag should report false")
	}
}

func TestFindDoesNotDescendIntoPrimitives(t *testing.T) {
	// 53's value happens to contain bytes that look like an 84 element;
	// a primitive element must be treated as opaque.
	buf := Marshal(0x53, mustHex(t, "8401AA"))
	if _, ok := Find(buf, 0x84); ok {
		t.Fatal("Find descended into a primitive element's value")
	}
}

func TestFindToleratesMalformedInput(t *testing.T) {
	if _, ok := Find(mustHex(t, "84FF"), 0x84); ok {
		t.Fatal("Find on malformed input should report absent, not panic")
	}
}

func TestParseFlat(t *testing.T) {
	var buf []byte
	buf = append(buf, Marshal(0xC7, mustHex(t, "01020304"))...)
	buf = append(buf, Marshal(0x47, mustHex(t, "AA"))...)
	m := ParseFlat(buf)
	if len(m) != 2 {
		t.Fatalf("map size = %d, want 2", len(m))
	}
	if !bytes.Equal(m[0xC7], mustHex(t, "01020304")) || !bytes.Equal(m[0x47], mustHex(t, "AA")) {
		t.Fatalf("map content wrong: %v", m)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, tag := range []uint16{0x84, 0xA5, 0xBF0C} {
		value := mustHex(t, "DEADBEEF")
		elems, err := Parse(Marshal(tag, value))
		if err != nil {
			t.Fatalf("tag %02X: %v", tag, err)
		}
		if len(elems) != 1 || elems[0].Tag != tag || !bytes.Equal(elems[0].Value, value) {
			t.Fatalf("tag %02X round trip = %+v", tag, elems)
		}
	}
}

func TestMarshalEmptyValue(t *testing.T) {
	buf := Marshal(0x84, nil)
	if !bytes.Equal(buf, mustHex(t, "8400")) {
		t.Fatalf("empty element = % X, want 84 00", buf)
	}
	elems, err := Parse(buf)
	if err != nil || len(elems) != 1 || len(elems[0].Value) != 0 {
		t.Fatalf("Parse of empty element: %v %+v", err, elems)
	}
}
