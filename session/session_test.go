package session

import (
	"context"
	"testing"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/crypto"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/reader"
	"github.com/calypsonet/keyple-calypso-go/samsim"
)

func newTestCard() *calypso.CalypsoCard {
	c := calypso.New()
	c.ProductType = dictionaries.ProductPrimeRev3
	c.ClassByte = 0x00
	c.Features.ExtendedMode = false
	c.SessionModificationCapacity = 480
	return c
}

func testSAM() *samsim.SAM {
	return samsim.New(samsim.KeyEntry{KIF: 0x21, KVC: 0x79, Key: make([]byte, 16)})
}

// openSessionResponse builds a plausible rev3 non-extended Open Secure
// Session R-APDU: challenge(3) + ratified(1)=0x00 + KIF + KVC + dataLen(1)=0 + SW.
func openSessionResponse(kif, kvc byte) []byte {
	return []byte{0x11, 0x22, 0x33, 0x00, kif, kvc, 0x00, 0x90, 0x00}
}

func closeSessionResponse(mac [4]byte) []byte {
	return append(append([]byte{}, mac[:]...), 0x90, 0x00)
}

func TestOpenSecureSessionTransitionsIdleToOpen(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{openSessionResponse(0x21, 0x79)})
	m := New(card, sam, fr, Settings{})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	if m.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", m.State())
	}
}

// TestOpenRejectsUnauthorizedKey checks the KIF/KVC allow-list.
func TestOpenRejectsUnauthorizedKey(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{openSessionResponse(0x21, 0x79), {0x90, 0x00}})
	m := New(card, sam, fr, Settings{AllowedKIFKVC: map[[2]byte]bool{{0x30, 0x01}: true}})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen)
	if err == nil {
		t.Fatal("expected an UnauthorizedKey error for a KIF/KVC outside the allow-list")
	}
	pe, ok := err.(*calypsoerr.ProtocolError)
	if !ok || pe.Kind != "UnauthorizedKey" {
		t.Fatalf("expected ProtocolError/UnauthorizedKey, got %T: %v", err, err)
	}
}

// TestAbortAtomicity: a failure mid-session restores
// the file image exactly as it was before the session opened.
func TestAbortAtomicity(t *testing.T) {
	card := newTestCard()
	sam := testSAM()

	badSW := []byte{0x69, 0x82} // security conditions not fulfilled
	fr := reader.NewFakeReader(nil, [][]byte{
		openSessionResponse(0x21, 0x79),
		badSW, // Update Record fails
	})
	m := New(card, sam, fr, Settings{})

	if err := card.SetContent(0x07, 1, []byte{0xAA, 0xAA, 0xAA}, 0); err != nil {
		t.Fatalf("seed content: %v", err)
	}
	original := append([]byte{}, card.GetFileBySfi(0x07).Records[1]...)

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	if err := m.PrepareUpdateRecord(0x07, 1, []byte{0xBB, 0xBB, 0xBB}); err != nil {
		t.Fatalf("PrepareUpdateRecord: %v", err)
	}

	err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen)
	if err == nil {
		t.Fatalf("expected an error from the failing Update Record")
	}
	var cardErr *calypsoerr.CardError
	if !asCardError(err, &cardErr) {
		t.Fatalf("expected a *calypsoerr.CardError, got %T: %v", err, err)
	}

	if m.State() != StateAborted {
		t.Fatalf("state = %v, want ABORTED", m.State())
	}
	got := card.GetFileBySfi(0x07).Records[1]
	if string(got) != string(original) {
		t.Fatalf("file content not rolled back: got %x, want %x", got, original)
	}
}

func asCardError(err error, target **calypsoerr.CardError) bool {
	ce, ok := err.(*calypsoerr.CardError)
	if ok {
		*target = ce
	}
	return ok
}

// TestBufferOverflowWithoutMultiSessionFails: the
// buffer is exhausted by a BASIC-profile card with a tiny commands budget.
func TestBufferOverflowWithoutMultiSessionFails(t *testing.T) {
	card := newTestCard()
	card.ProductType = dictionaries.ProductBasic
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{openSessionResponse(0x21, 0x79)})
	m := New(card, sam, fr, Settings{BasicModificationsCounterMax: 1, MultiSessionEnabled: false})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands (open): %v", err)
	}

	if err := m.PrepareUpdateRecord(0x07, 1, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	err := m.PrepareUpdateRecord(0x08, 1, []byte{0x01, 0x02, 0x03})
	if err == nil {
		t.Fatalf("expected a session buffer overflow on the second update")
	}
	var protoErr *calypsoerr.ProtocolError
	pe, ok := err.(*calypsoerr.ProtocolError)
	if !ok {
		t.Fatalf("expected *calypsoerr.ProtocolError, got %T", err)
	}
	protoErr = pe
	if protoErr.Kind != "SessionBufferOverflow" {
		t.Fatalf("kind = %s, want SessionBufferOverflow", protoErr.Kind)
	}
}

// TestBufferOverflowWithMultiSessionSplits: with multi-session enabled
// the overflow silently inserts a
// Close+Open pair instead of failing.
func TestBufferOverflowWithMultiSessionSplits(t *testing.T) {
	card := newTestCard()
	card.ProductType = dictionaries.ProductBasic
	sam := testSAM()
	m := New(card, sam, nil, Settings{BasicModificationsCounterMax: 1, MultiSessionEnabled: true})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	// Directly force state Open without transmitting, to test buffer logic
	// in isolation from the crypto/transport round trip.
	m.state = StateOpen
	m.bufferUnit, m.bufferMax, m.remaining = dictionaries.UnitCommands, 1, 1

	if err := m.PrepareUpdateRecord(0x07, 1, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := m.PrepareUpdateRecord(0x08, 1, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("second update should trigger an auto close+open, not fail: %v", err)
	}
	// Pipeline should now hold: open, update, close, open, update.
	if m.pipeline.Len() != 5 {
		t.Fatalf("pipeline length = %d, want 5 (open/update/close/open/update)", m.pipeline.Len())
	}
}

// TestCounterPostponedRequiresKnownValue: a postponed counter operation
// needs a previously read value to anticipate its result.
func TestCounterPostponedRequiresKnownValue(t *testing.T) {
	card := newTestCard()
	card.Patch.CounterValuePostponed = true
	sam := testSAM()
	m := New(card, sam, nil, Settings{})
	m.state = StateOpen
	m.bufferUnit, m.bufferMax, m.remaining = dictionaries.UnitBytes, 430, 430

	err := m.PrepareIncrease(0x07, 1, 10)
	if err == nil {
		t.Fatalf("expected IllegalState: no known counter value")
	}
	if _, ok := err.(*calypsoerr.IllegalStateError); !ok {
		t.Fatalf("expected *calypsoerr.IllegalStateError, got %T", err)
	}

	m.rememberCounter(0x07, 1, 100)
	if err := m.PrepareIncrease(0x07, 1, 10); err != nil {
		t.Fatalf("PrepareIncrease after known value: %v", err)
	}
}

// TestReadRecordsPopulatesImage: a read's response lands in the image.
func TestReadRecordsPopulatesImage(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	recordResp := append([]byte{0x01, 0x02, 0x03, 0x04}, 0x90, 0x00)
	fr := reader.NewFakeReader(nil, [][]byte{recordResp})
	m := New(card, sam, fr, Settings{})

	if err := m.PrepareReadRecords(0x07, 1, 4); err != nil {
		t.Fatalf("PrepareReadRecords: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelCloseAfter); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	ef := card.GetFileBySfi(0x07)
	if ef == nil {
		t.Fatalf("expected file 0x07 to exist")
	}
	if got := ef.Records[1]; string(got) != "\x01\x02\x03\x04" {
		t.Fatalf("record content = %x, want 01020304", got)
	}
}

// TestWriteRecordORsIntoImage checks the Write Record preparer's OR
// semantics against an existing record.
func TestWriteRecordORsIntoImage(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{{0x90, 0x00}})
	m := New(card, sam, fr, Settings{})

	if err := card.SetContent(0x07, 1, []byte{0xF0, 0x0F, 0x00}, 0); err != nil {
		t.Fatalf("seed content: %v", err)
	}
	if err := m.PrepareWriteRecord(0x07, 1, []byte{0x0F, 0x0F, 0x01}); err != nil {
		t.Fatalf("PrepareWriteRecord: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	if got := card.GetFileBySfi(0x07).Records[1]; string(got) != "\xFF\x0F\x01" {
		t.Fatalf("record after write = %x, want ff0f01", got)
	}
}

// TestReadRecordsMultiplePopulatesSlices checks the from-to-last read mode
// splits the response into fixed-size records.
func TestReadRecordsMultiplePopulatesSlices(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	resp := append([]byte{1, 1, 1, 2, 2, 2, 3, 3, 3}, 0x90, 0x00)
	fr := reader.NewFakeReader(nil, [][]byte{resp})
	m := New(card, sam, fr, Settings{})

	if err := m.PrepareReadRecordsMultiple(0x07, 2, 3, 9); err != nil {
		t.Fatalf("PrepareReadRecordsMultiple: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	ef := card.GetFileBySfi(0x07)
	for rec, want := range map[int]string{2: "\x01\x01\x01", 3: "\x02\x02\x02", 4: "\x03\x03\x03"} {
		if got := ef.Records[rec]; string(got) != want {
			t.Fatalf("record %d = %x, want %x", rec, got, want)
		}
	}
}

// TestUpdateBinaryWritesAtOffset checks Update Binary lands at the right
// offset of record 1 with zero padding before it.
func TestUpdateBinaryWritesAtOffset(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{{0x90, 0x00}})
	m := New(card, sam, fr, Settings{})

	if err := m.PrepareUpdateBinary(0x05, 2, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("PrepareUpdateBinary: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	if got := card.GetFileBySfi(0x05).Records[1]; string(got) != "\x00\x00\xAA\xBB" {
		t.Fatalf("binary content = %x, want 0000aabb", got)
	}
}

// TestInvalidateSetsDFFlag checks the Invalidate/Rehabilitate image effect.
func TestInvalidateSetsDFFlag(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{{0x90, 0x00}, {0x90, 0x00}})
	m := New(card, sam, fr, Settings{})

	if err := m.PrepareInvalidate(); err != nil {
		t.Fatalf("PrepareInvalidate: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	if !card.DFInvalidated {
		t.Fatal("expected DFInvalidated after Invalidate")
	}

	if err := m.PrepareRehabilitate(); err != nil {
		t.Fatalf("PrepareRehabilitate: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands: %v", err)
	}
	if card.DFInvalidated {
		t.Fatal("expected DFInvalidated cleared after Rehabilitate")
	}
}

// TestSvDebitWithoutPrecedingGetFails: an SV modifying command must be
// immediately preceded by a matching SV Get.
func TestSvDebitWithoutPrecedingGetFails(t *testing.T) {
	card := newTestCard()
	card.Dynamic.SvBalance = 100
	sam := testSAM()
	m := New(card, sam, nil, Settings{})
	m.state = StateOpen

	err := m.PrepareSvDebit(10, [2]byte{}, [2]byte{}, [2]byte{})
	if err == nil {
		t.Fatalf("expected IllegalState: SV Debit without preceding matching SV Get")
	}
	if _, ok := err.(*calypsoerr.IllegalStateError); !ok {
		t.Fatalf("expected *calypsoerr.IllegalStateError, got %T", err)
	}
}

// TestSvPostponedIndexFollowsPostponedCounters: the SV modifying command's
// postponed-data slot comes after any postponed counters prepared earlier
// in the same session, so the close addresses the right deferred MAC.
func TestSvPostponedIndexFollowsPostponedCounters(t *testing.T) {
	card := newTestCard()
	card.Patch.CounterValuePostponed = true
	card.Dynamic.SvBalance = 1000
	card.Dynamic.HasSvBalance = true
	m := New(card, testSAM(), nil, Settings{})
	m.state = StateOpen
	m.bufferUnit, m.bufferMax, m.remaining = dictionaries.UnitBytes, 430, 430

	m.rememberCounter(0x19, 2, 1000)
	if err := m.PrepareDecrease(0x19, 2, 150); err != nil {
		t.Fatalf("PrepareDecrease: %v", err)
	}
	if m.postponedDataCount != 1 {
		t.Fatalf("postponedDataCount = %d after one postponed counter, want 1", m.postponedDataCount)
	}

	op := crypto.SvOperationDebit
	m.sv.lastGetOp = &op
	if err := m.PrepareSvDebit(150, [2]byte{}, [2]byte{}, [2]byte{}); err != nil {
		t.Fatalf("PrepareSvDebit: %v", err)
	}
	if m.sv.index != 1 {
		t.Fatalf("SV postponed index = %d, want 1 (one counter slot before it)", m.sv.index)
	}
	if m.postponedDataCount != 2 {
		t.Fatalf("postponedDataCount = %d, want 2", m.postponedDataCount)
	}
}

// TestSvDebitNegativeBalanceRequiresAuthorization covers the negative
// balance guard.
func TestSvDebitNegativeBalanceRequiresAuthorization(t *testing.T) {
	card := newTestCard()
	card.Dynamic.SvBalance = 5
	sam := testSAM()
	m := New(card, sam, nil, Settings{})
	m.state = StateOpen

	op := crypto.SvOperationDebit
	m.sv.lastGetOp = &op

	err := m.PrepareSvDebit(10, [2]byte{}, [2]byte{}, [2]byte{})
	if err == nil {
		t.Fatalf("expected CardDataAccess: SV balance would go negative")
	}
	if _, ok := err.(*calypsoerr.CardError); !ok {
		t.Fatalf("expected *calypsoerr.CardError, got %T", err)
	}
}

// TestEncryptionModeEnciphersWireData checks that with encryption active
// the transmitted data-in is ciphered while the image keeps the plaintext.
func TestEncryptionModeEnciphersWireData(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{
		openSessionResponse(0x21, 0x79),
		{0x90, 0x00}, // update record
	})
	m := New(card, sam, fr, Settings{})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands (open): %v", err)
	}
	if err := m.ActivateEncryption(); err != nil {
		t.Fatalf("ActivateEncryption: %v", err)
	}

	plain := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := m.PrepareUpdateRecord(0x07, 1, plain); err != nil {
		t.Fatalf("PrepareUpdateRecord: %v", err)
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		t.Fatalf("ProcessCommands (update): %v", err)
	}

	wire := fr.Sent[len(fr.Sent)-1]
	// 5-byte header + 16-byte plaintext padded to 24 bytes of ciphertext.
	if len(wire) != 5+24 {
		t.Fatalf("wire APDU length = %d, want 29", len(wire))
	}
	if string(wire[5:21]) == string(plain) {
		t.Fatal("data-in transmitted in plaintext despite encryption mode")
	}
	if got := card.GetFileBySfi(0x07).Records[1]; string(got) != string(plain) {
		t.Fatalf("image content = %x, want the plaintext", got)
	}
}

// TestPreOpenReuseMatchingLevel: a stashed pre-open
// response is reused, with no Open Secure Session command re-enqueued.
func TestPreOpenReuseMatchingLevel(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	m := New(card, sam, nil, Settings{})

	m.StashPreOpenData(calypso.AccessLevelDebit, openSessionResponse(0x21, 0x79)[:7])

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession (reuse): %v", err)
	}
	if m.State() != StateOpen {
		t.Fatalf("state = %v, want OPEN", m.State())
	}
	if m.pipeline.Len() != 0 {
		t.Fatalf("pipeline should stay empty when reusing pre-open data, got %d", m.pipeline.Len())
	}
}

// TestPreOpenDiscardedOnLevelMismatch covers the other half of property 9.
func TestPreOpenDiscardedOnLevelMismatch(t *testing.T) {
	card := newTestCard()
	sam := testSAM()
	fr := reader.NewFakeReader(nil, [][]byte{openSessionResponse(0x21, 0x79)})
	m := New(card, sam, fr, Settings{})

	m.StashPreOpenData(calypso.AccessLevelLoad, openSessionResponse(0x21, 0x79)[:7])

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		t.Fatalf("PrepareOpenSecureSession: %v", err)
	}
	if m.pipeline.Len() != 1 {
		t.Fatalf("expected a fresh Open Secure Session command, pipeline len = %d", m.pipeline.Len())
	}
}
