package fixture

import (
	"bytes"
	"context"
	"fmt"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/crypto"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
	"github.com/calypsonet/keyple-calypso-go/reader"
	"github.com/calypsonet/keyple-calypso-go/samsim"
	"github.com/calypsonet/keyple-calypso-go/session"
	"github.com/calypsonet/keyple-calypso-go/tlv"
)

const (
	testKIF byte = 0x21
	testKVC byte = 0x79
)

// testAID is the AID the scenarios select (the DF name
// 325041592E5359532E4444463031, "2PAY.SYS.DDF01").
var testAID = []byte{0x32, 0x50, 0x41, 0x59, 0x2E, 0x53, 0x59, 0x53, 0x2E, 0x44, 0x44, 0x46, 0x30, 0x31}

func newSAM() *samsim.SAM {
	return samsim.New(samsim.KeyEntry{KIF: testKIF, KVC: testKVC, Key: make([]byte, 16)})
}

// macRecorder wraps the samsim SAM and records every APDU streamed into the
// session MAC chain, for ordering assertions.
type macRecorder struct {
	*samsim.SAM
	updates [][]byte
}

func (r *macRecorder) UpdateTerminalSessionMac(apdu []byte) error {
	r.updates = append(r.updates, append([]byte{}, apdu...))
	return r.SAM.UpdateTerminalSessionMac(apdu)
}

func buildFCI(aid, serial []byte, startup [7]byte) []byte {
	var prop []byte
	prop = append(prop, tlv.Marshal(0xC7, serial)...)
	prop = append(prop, tlv.Marshal(0x53, startup[:])...)
	var inner []byte
	inner = append(inner, tlv.Marshal(0x84, aid)...)
	inner = append(inner, tlv.Marshal(0xA5, prop)...)
	return tlv.Marshal(0x6F, inner)
}

// selectAndDetect drives the card selection step against the simulated
// card: transmit a Select-by-DF-name, parse the FCI out of the response,
// classify the product.
func selectAndDetect(sim *simCard) (*calypso.CalypsoCard, error) {
	req := &reader.CardRequest{APDUs: [][]byte{command.EncodeSelectApplication(testAID).Bytes()}}
	resp, err := sim.TransmitCardRequest(context.Background(), req, reader.ChannelKeepOpen)
	if err != nil {
		return nil, err
	}
	parsed, err := iso7816.ParseResponseAPDU(resp.APDUs[0])
	if err != nil {
		return nil, err
	}
	if parsed.SW() != 0x9000 {
		return nil, fmt.Errorf("select application failed: SW=%04X", parsed.SW())
	}
	return calypso.DetectFromFCI(parsed.Data)
}

// runSimpleRead is scenario S1: select by AID, read one record, check the
// image mirrors the response and the product was classified from the FCI.
func runSimpleRead() (string, error) {
	record := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}
	sim := &simCard{
		fci:     buildFCI(testAID, make([]byte, 8), [7]byte{0x15, 0x00, 0x20, 0x01, 0x00, 0x00, 0x00}),
		records: map[[2]byte][]byte{{0x07, 1}: record},
		kif:     testKIF, kvc: testKVC,
	}

	card, err := selectAndDetect(sim)
	if err != nil {
		return "", err
	}
	if card.ProductType != dictionaries.ProductPrimeRev3 {
		return "", fmt.Errorf("product type = %v, want PRIME_REV_3", card.ProductType)
	}
	if !bytes.Equal(card.DFAID, testAID) {
		return "", fmt.Errorf("DF AID not taken from the FCI: %X", card.DFAID)
	}

	m := session.New(card, newSAM(), sim, session.Settings{})
	if err := m.PrepareReadRecords(0x07, 1, len(record)); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelCloseAfter); err != nil {
		return "", err
	}

	ef := card.GetFileBySfi(0x07)
	if ef == nil || !bytes.Equal(ef.Records[1], record) {
		return "", fmt.Errorf("image record mismatch: %X", ef.Records[1])
	}
	return fmt.Sprintf("record 1 of SFI 07 = %X", ef.Records[1]), nil
}

// runDebitSession is scenario S2: Open(DEBIT), read, 16-byte update, close.
// Checks the bytes-mode buffer arithmetic and the exact MAC chain ordering.
func runDebitSession() (string, error) {
	sim := &simCard{
		records: map[[2]byte][]byte{{0x08, 1}: make([]byte, 16)},
		kif:     testKIF, kvc: testKVC,
	}
	card := calypso.New()
	card.ProductType = dictionaries.ProductPrimeRev3
	card.ClassByte = iso7816.ClassISO
	card.SessionModificationCapacity = 430

	sam := &macRecorder{SAM: newSAM()}
	m := session.New(card, sam, sim, session.Settings{})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		return "", err
	}
	if err := m.PrepareReadRecords(0x08, 1, 16); err != nil {
		return "", err
	}
	update := []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F, 0x20}
	if err := m.PrepareUpdateRecord(0x08, 1, update); err != nil {
		return "", err
	}
	if got := m.BufferRemaining(); got != 430-(16+6) {
		return "", fmt.Errorf("buffer remaining = %d, want 408", got)
	}
	if err := m.PrepareCloseSecureSession(); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelCloseAfter); err != nil {
		return "", err
	}

	if len(sam.updates) != 6 {
		return "", fmt.Errorf("MAC chain saw %d APDUs, want 6 (3 C + 3 R)", len(sam.updates))
	}
	// The Read Records C-APDU is case 2: with Le stripped only the 4-byte
	// header reaches the digest.
	if len(sam.updates[0]) != 4 {
		return "", fmt.Errorf("read C-APDU fed to the digest with Le: %X", sam.updates[0])
	}
	return "remaining 408, MAC chain C1,R1,C2,R2,C3,R3", nil
}

// runSvDebit is scenario S3, widened to mix in postponed-counter mode: SV
// Get(DEBIT) then a postponed counter decrease then SV Debit 150 inside one
// session. Balance goes 1000 -> 850, transaction number 42 -> 43, and the
// close must address the SV MAC at postponed-data slot 1 (the counter
// claimed slot 0).
func runSvDebit() (string, error) {
	counters := []byte{0x00, 0x00, 0x10, 0x00, 0x03, 0xE8} // counter 2 = 1000
	sim := &simCard{
		kif: testKIF, kvc: testKVC,
		svBalance: 1000, svTNum: 42,
		records:          map[[2]byte][]byte{{0x19, 1}: counters},
		counterPostponed: true,
	}
	card := calypso.New()
	card.ProductType = dictionaries.ProductPrimeRev3
	card.ClassByte = iso7816.ClassISO
	card.SessionModificationCapacity = 430
	card.Features.SV = true
	card.Patch.CounterValuePostponed = true

	m := session.New(card, newSAM(), sim, session.Settings{})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		return "", err
	}
	if err := m.PrepareReadRecords(0x19, 1, len(counters)); err != nil {
		return "", err
	}
	if err := m.PrepareSvGet(crypto.SvOperationDebit); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		return "", err
	}
	if card.Dynamic.SvBalance != 1000 || card.Dynamic.SvLastTNum != 42 {
		return "", fmt.Errorf("SV Get parsed balance=%d tnum=%d, want 1000/42", card.Dynamic.SvBalance, card.Dynamic.SvLastTNum)
	}

	if err := m.PrepareDecrease(0x19, 2, 150); err != nil {
		return "", err
	}
	if err := m.PrepareSvDebit(150, [2]byte{}, [2]byte{}, [2]byte{}); err != nil {
		return "", err
	}
	if err := m.PrepareCloseSecureSession(); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelCloseAfter); err != nil {
		return "", err
	}

	if card.Dynamic.SvBalance != 850 {
		return "", fmt.Errorf("balance = %d, want 850", card.Dynamic.SvBalance)
	}
	if card.Dynamic.SvLastTNum != 43 {
		return "", fmt.Errorf("transaction number = %d, want 43", card.Dynamic.SvLastTNum)
	}
	if card.Dynamic.SvPostponedIndex != 1 {
		return "", fmt.Errorf("SV postponed index = %d, want 1", card.Dynamic.SvPostponedIndex)
	}

	// The close's data-in is the 4-byte terminal signature plus the SV
	// command's postponed-data slot.
	var closeData []byte
	for _, apdu := range sim.sent {
		if len(apdu) > 5 && apdu[1] == command.InsCloseSecureSession && apdu[2] == 0x00 {
			closeData = commandData(apdu)
		}
	}
	if len(closeData) != 5 {
		return "", fmt.Errorf("close data-in is %d bytes, want signature+index", len(closeData))
	}
	if closeData[4] != 1 {
		return "", fmt.Errorf("close addressed postponed slot %d, want 1", closeData[4])
	}
	return "balance 1000 -> 850, tnum 43, SV MAC at postponed slot 1", nil
}

// runMultiSessionSplit is scenario S4: bytes-mode max 215, twenty 29-byte
// updates. Each costs 35 units, so a Close+Open pair is auto-inserted after
// every sixth update.
func runMultiSessionSplit() (string, error) {
	sim := &simCard{kif: testKIF, kvc: testKVC}
	card := calypso.New()
	card.ProductType = dictionaries.ProductPrimeRev3
	card.ClassByte = iso7816.ClassISO
	card.SessionModificationCapacity = 215

	m := session.New(card, newSAM(), sim, session.Settings{MultiSessionEnabled: true})

	if err := m.PrepareOpenSecureSession(calypso.AccessLevelLoad, 0, 0); err != nil {
		return "", err
	}
	data := make([]byte, 29)
	for i := 0; i < 20; i++ {
		if err := m.PrepareUpdateRecord(0x08, 1, data); err != nil {
			return "", fmt.Errorf("update %d: %w", i+1, err)
		}
		if i == 6 { // the 7th update opened a fresh session first
			if got := m.BufferRemaining(); got != 215-35 {
				return "", fmt.Errorf("after auto-split, remaining = %d, want 180", got)
			}
		}
	}
	if err := m.PrepareCloseSecureSession(); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelCloseAfter); err != nil {
		return "", err
	}

	// 20 updates at 35 units each against a 215-unit buffer: six per
	// session, so three auto-inserted reopenings plus the initial open.
	if opens := sim.countSent(command.InsOpenSecureSession); opens != 4 {
		return "", fmt.Errorf("card saw %d Open Secure Session commands, want 4", opens)
	}
	if closes := sim.countSent(command.InsCloseSecureSession); closes != 4 {
		return "", fmt.Errorf("card saw %d Close Secure Session commands, want 4", closes)
	}
	return "20 updates split across 4 sessions", nil
}

// runAbortedSession is scenario S5: a reader I/O failure mid-session
// triggers the abort sub-routine; the image reverts to its pre-open state.
func runAbortedSession() (string, error) {
	sim := &simCard{kif: testKIF, kvc: testKVC, failAt: 2}
	card := calypso.New()
	card.ProductType = dictionaries.ProductPrimeRev3
	card.ClassByte = iso7816.ClassISO
	card.SessionModificationCapacity = 430

	original := []byte{0xAA, 0xBB, 0xCC}
	if err := card.SetContent(0x07, 1, original, 0); err != nil {
		return "", err
	}

	m := session.New(card, newSAM(), sim, session.Settings{})
	if err := m.PrepareOpenSecureSession(calypso.AccessLevelDebit, 0, 0); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		return "", err
	}

	if err := m.PrepareUpdateRecord(0x07, 1, []byte{0x01, 0x02, 0x03}); err != nil {
		return "", err
	}
	err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen)
	if err == nil {
		return "", fmt.Errorf("expected the simulated reader failure to surface")
	}
	if m.State() != session.StateAborted {
		return "", fmt.Errorf("state = %v, want ABORTED", m.State())
	}
	if got := card.GetFileBySfi(0x07).Records[1]; !bytes.Equal(got, original) {
		return "", fmt.Errorf("record not rolled back: %X", got)
	}
	// The abort sub-routine still sent the best-effort cancellation close.
	if sim.countSent(command.InsCloseSecureSession) != 1 {
		return "", fmt.Errorf("expected one cancel-close after the failure")
	}
	return "update discarded, image rolled back", nil
}

// runPostponedCounter is scenario S6: the 060A0102000000/FFFFFFFF000000
// patch marks the card's counter responses as postponed; a decrease
// answered with SW 6200 updates the image from the last read value.
func runPostponedCounter() (string, error) {
	counters := []byte{0x00, 0x00, 0x10, 0x00, 0x03, 0xE8} // counter 1 = 16, counter 2 = 1000
	sim := &simCard{
		fci:              buildFCI(testAID, make([]byte, 8), [7]byte{0x06, 0x0A, 0x01, 0x02, 0x00, 0x00, 0x00}),
		records:          map[[2]byte][]byte{{0x19, 1}: counters},
		kif:              testKIF, kvc: testKVC,
		counterPostponed: true,
	}

	card, err := selectAndDetect(sim)
	if err != nil {
		return "", err
	}
	if !card.Patch.CounterValuePostponed {
		return "", fmt.Errorf("patch not applied: CounterValuePostponed is false")
	}

	m := session.New(card, newSAM(), sim, session.Settings{})
	if err := m.PrepareReadRecords(0x19, 1, len(counters)); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelKeepOpen); err != nil {
		return "", err
	}

	if err := m.PrepareDecrease(0x19, 2, 150); err != nil {
		return "", err
	}
	if err := m.ProcessCommands(context.Background(), reader.ChannelCloseAfter); err != nil {
		return "", err
	}

	rec := card.GetFileBySfi(0x19).Records[1]
	if len(rec) < 6 {
		return "", fmt.Errorf("counter record too short: %X", rec)
	}
	got := int32(rec[3])<<16 | int32(rec[4])<<8 | int32(rec[5])
	if got != 850 {
		return "", fmt.Errorf("counter 2 = %d, want 850", got)
	}
	return "counter 2: 1000 - 150 = 850 on SW 6200", nil
}
