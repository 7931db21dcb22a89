package command

import (
	"bytes"
	"testing"

	"github.com/calypsonet/keyple-calypso-go/iso7816"
)

func TestEncodeReadRecordsSingleVsMultiple(t *testing.T) {
	single := EncodeReadRecords(iso7816.ClassISO, 1, 0x07, false, 29)
	if single.P2 != 0x07<<3 {
		t.Fatalf("single record P2 = %#x, want %#x", single.P2, byte(0x07<<3))
	}
	multi := EncodeReadRecords(iso7816.ClassISO, 1, 0x07, true, 29)
	if multi.P2 != 0x07<<3|ReadModeFromToLast {
		t.Fatalf("multi record P2 = %#x, want mode bit set", multi.P2)
	}
}

func TestEncodeUpdateRecordIsCase3(t *testing.T) {
	c := EncodeUpdateRecord(iso7816.ClassISO, 1, 0x08, bytes.Repeat([]byte{0x11}, 16))
	if c.Le != -1 {
		t.Fatalf("update record must be case 3 (no Le), got Le=%d", c.Le)
	}
	raw := c.Bytes()
	if len(raw) != 5+16 {
		t.Fatalf("encoded length = %d, want %d", len(raw), 5+16)
	}
	if raw[4] != 16 {
		t.Fatalf("Lc = %d, want 16", raw[4])
	}
}

func TestEncodeOpenSecureSessionRev3ExtendedPrependsLength(t *testing.T) {
	challenge := []byte{0x01, 0x02, 0x03}
	c := EncodeOpenSecureSessionRev3(iso7816.ClassISO, 1, 2, 0x07, true, challenge)
	if c.P2 != 0x07<<3|2 {
		t.Fatalf("extended P2 = %#x", c.P2)
	}
	if len(c.Data) != 4 || c.Data[0] != 3 {
		t.Fatalf("extended data-in = % X, want length-prefixed challenge", c.Data)
	}
}

func TestEncodeIncreasePostponedDropsLe(t *testing.T) {
	normal := EncodeIncrease(iso7816.ClassISO, 1, 0x19, [3]byte{0, 0, 10}, false)
	if normal.Le != 0 {
		t.Fatalf("non-postponed increase should carry Le=0, got %d", normal.Le)
	}
	postponed := EncodeIncrease(iso7816.ClassISO, 1, 0x19, [3]byte{0, 0, 10}, true)
	if postponed.Le != -1 {
		t.Fatalf("postponed increase must be re-encoded case 3, got Le=%d", postponed.Le)
	}
}

func TestDecodeOpenSessionRev3NonExtendedRatified(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC, 0x00, 0x10, 0x20, 0x02, 0xDE, 0xAD}
	d, err := DecodeOpenSessionRev3NonExtended(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !d.Ratified {
		t.Fatal("data[3]==0 must mean ratified")
	}
	if d.KIF != 0x10 || d.KVC != 0x20 {
		t.Fatalf("KIF/KVC = %02X/%02X", d.KIF, d.KVC)
	}
	if !bytes.Equal(d.RecordDataOut, []byte{0xDE, 0xAD}) {
		t.Fatalf("record data out = % X", d.RecordDataOut)
	}
}

func TestDecodeOpenSessionRev3ExtendedFlags(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC, 0x00, 0x00, 0x00, 0x05, 0x02, 0x10, 0x20, 0x00}
	d, err := DecodeOpenSessionRev3Extended(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !d.Ratified {
		t.Fatal("flags&1==0 must mean ratified")
	}
	if !d.ManageSecureSessionAllowed {
		t.Fatal("flags&2!=0 must allow manage-secure-session")
	}
	if d.TransactionCounter != 5 {
		t.Fatalf("transaction counter = %d, want 5", d.TransactionCounter)
	}
}

func TestDecodeOpenSessionRev24IllegalLength(t *testing.T) {
	if _, err := DecodeOpenSessionRev24(make([]byte, 6)); err == nil {
		t.Fatal("length 6 is not one of {5,34,7,36}, want error")
	}
}

func TestDecodeOpenSessionRev24RatifiedWithRecordData(t *testing.T) {
	data := make([]byte, 34)
	data[3], data[4] = 0x10, 0x20
	d, err := DecodeOpenSessionRev24(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !d.Ratified {
		t.Fatal("length 34 must be ratified")
	}
	if len(d.RecordDataOut) != 29 {
		t.Fatalf("record data len = %d, want 29", len(d.RecordDataOut))
	}
}

func TestDecodeOpenSessionRev10NotRatifiedNoRecordData(t *testing.T) {
	data := make([]byte, 6)
	data[3] = 0x30
	d, err := DecodeOpenSessionRev10(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Ratified {
		t.Fatal("length 6 must not be ratified")
	}
	if d.KVC != 0x30 {
		t.Fatalf("KVC = %#x", d.KVC)
	}
	if d.RecordDataOut != nil {
		t.Fatal("length 6 carries no record data")
	}
}

func TestDecodeSvGetResponseSignExtendsNegativeBalance(t *testing.T) {
	data := make([]byte, 17)
	data[3] = 0x7E         // KVC
	data[4], data[5] = 0, 42 // lastTNum = 42
	data[6], data[7], data[8] = 0xFF, 0xFF, 0x9C // -100 in 24-bit two's complement
	d, err := DecodeSvGetResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Balance != -100 {
		t.Fatalf("balance = %d, want -100", d.Balance)
	}
	if d.LastTNum != 42 {
		t.Fatalf("lastTNum = %d, want 42", d.LastTNum)
	}
}

func TestStatusTableUnknownSWYieldsUnknown(t *testing.T) {
	st := ReadRecordsStatusTable()
	p := st.Lookup(0x1234)
	if p.Kind != iso7816.StatusUnknown {
		t.Fatalf("kind = %v, want StatusUnknown", p.Kind)
	}
}

func TestCounterStatusTablePostponedWhitelists6200(t *testing.T) {
	st := CounterStatusTable(true)
	p := st.Lookup(0x6200)
	if !p.Successful {
		t.Fatal("0x6200 must be whitelisted as successful when postponed")
	}
	plain := CounterStatusTable(false)
	p2 := plain.Lookup(0x6200)
	if p2.Successful {
		t.Fatal("0x6200 must not be successful when not postponed")
	}
}

func TestPipelineDrainUpTo(t *testing.T) {
	var p Pipeline
	p.Push(&Command{Ref: RefReadRecords})
	p.Push(&Command{Ref: RefUpdateRecord})
	p.Push(&Command{Ref: RefCloseSecureSession})

	first := p.DrainUpTo(2)
	if len(first) != 2 || p.Len() != 1 {
		t.Fatalf("drained %d, remaining %d", len(first), p.Len())
	}
	rest := p.DrainAll()
	if len(rest) != 1 || p.Len() != 0 {
		t.Fatalf("drainAll left %d pending", p.Len())
	}
}
