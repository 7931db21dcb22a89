// Codec functions encode the Calypso command set's wire bytes. They
// are pure: no card image, no crypto SPI, no session state — callers in
// package session close over these to build a Command's FinalizeRequest
// hook. One small function per command rather than a builder-object
// hierarchy.
package command

import "github.com/calypsonet/keyple-calypso-go/iso7816"

// Read/Search mode bits folded into Read Records' P2.
const (
	ReadModeOneRecord    byte = 0x00
	ReadModeFromToLast   byte = 0x01
)

// SelectFile P1 modes.
const (
	SelectModeByLID  byte = 0x00
	SelectModeFirst  byte = 0x02
	SelectModeNext   byte = 0x03
	SelectModeCurrent byte = 0x09
)

// GetData tags.
const (
	GetDataTagFCI              uint16 = 0x006F
	GetDataTagFCP              uint16 = 0x0062
	GetDataTagEFList           uint16 = 0x00C0
	GetDataTagTraceabilityInfo uint16 = 0x0185
)

func sfiP2(sfi byte, mode byte) byte { return sfi<<3 | mode }

// EncodeOpenSecureSessionRev10 builds the rev 1.0 variant:
// P1=rec*8+keyIndex, no KVC in the response.
func EncodeOpenSecureSessionRev10(cla, recordNumber, keyIndex byte, samChallenge []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsOpenSecureSession,
		P1: recordNumber<<3 | keyIndex, P2: 0x00,
		Data: append([]byte{}, samChallenge...),
		Le:   0,
	}
}

// EncodeOpenSecureSessionRev24 builds the rev 2.4 variant:
// P1=0x80+rec*8+keyIndex.
func EncodeOpenSecureSessionRev24(cla, recordNumber, keyIndex byte, samChallenge []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsOpenSecureSession,
		P1: 0x80 | recordNumber<<3 | keyIndex, P2: 0x00,
		Data: append([]byte{}, samChallenge...),
		Le:   0,
	}
}

// EncodeOpenSecureSessionRev3 builds the rev 3.x variant:
// P1=rec*8+keyIndex, P2=sfi*8+1 (or +2 in extended mode). In extended
// mode the challenge is prefixed with its own length byte.
func EncodeOpenSecureSessionRev3(cla, recordNumber, keyIndex, sfi byte, extended bool, samChallenge []byte) *iso7816.CommandAPDU {
	p2 := sfi<<3 | 1
	data := append([]byte{}, samChallenge...)
	if extended {
		p2 = sfi<<3 | 2
		data = append([]byte{byte(len(samChallenge))}, samChallenge...)
	}
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsOpenSecureSession,
		P1: recordNumber<<3 | keyIndex, P2: p2,
		Data: data,
		Le:   0,
	}
}

// EncodeCloseSecureSession builds a normal close: data-in is the terminal's
// session signature, optionally followed by the postponed-data index when
// an SV or counter operation inside the session deferred its response.
func EncodeCloseSecureSession(cla byte, terminalSignature []byte, postponedIndex int, hasPostponedIndex bool) *iso7816.CommandAPDU {
	data := append([]byte{}, terminalSignature...)
	if hasPostponedIndex {
		data = append(data, byte(postponedIndex))
	}
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsCloseSecureSession, P1: 0x00, P2: 0x00,
		Data: data, Le: 0,
	}
}

// EncodeCancelSecureSession builds the Abort sub-routine's "cancel secure
// session" variant: P1=0x80 signals cancellation rather than
// a normal close, no data-in.
func EncodeCancelSecureSession(cla byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsCloseSecureSession, P1: 0x80, P2: 0x00, Le: -1}
}

// EncodeRatificationAPDU builds the benign post-close "ratification" APDU
// sent on contactless readers when ratification was requested: an
// otherwise-unused Close Secure Session repeated with P1=0x00 and no data,
// whose response is never checked.
func EncodeRatificationAPDU(cla byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsCloseSecureSession, P1: 0x00, P2: 0x00, Le: -1}
}

// EncodeReadRecords builds a Read Records / Read Record Multiple command.
func EncodeReadRecords(cla, recordNumber, sfi byte, multiple bool, expectedLen int) *iso7816.CommandAPDU {
	mode := ReadModeOneRecord
	if multiple {
		mode = ReadModeFromToLast
	}
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsReadRecords, P1: recordNumber, P2: sfiP2(sfi, mode),
		Le: expectedLen,
	}
}

// EncodeSearchRecord builds a Search Record Multiple command: P1=starting
// record, P2=sfi×8+mode, data-in is the search pattern.
func EncodeSearchRecord(cla, startRecord, sfi byte, pattern []byte, expectedLen int) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsSearchRecord, P1: startRecord, P2: sfiP2(sfi, ReadModeFromToLast),
		Data: pattern, Le: expectedLen,
	}
}

// EncodeUpdateRecord builds a case-3 Update Record: data is the full record
// payload.
func EncodeUpdateRecord(cla, recordNumber, sfi byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsUpdateRecord, P1: recordNumber, P2: sfiP2(sfi, 0x04),
		Data: data, Le: -1,
	}
}

// EncodeWriteRecord builds a case-3 Write Record (OR-merges rather than
// overwrites on the card).
func EncodeWriteRecord(cla, recordNumber, sfi byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsWriteRecord, P1: recordNumber, P2: sfiP2(sfi, 0x04),
		Data: data, Le: -1,
	}
}

// EncodeAppendRecord builds a case-3 Append Record: data is the new record
// to prepend with a cyclic shift.
func EncodeAppendRecord(cla, sfi byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsAppendRecord, P1: 0x00, P2: sfiP2(sfi, 0x04),
		Data: data, Le: -1,
	}
}

// EncodeUpdateBinary builds a case-3 Update Binary at a given byte offset.
func EncodeUpdateBinary(cla, sfi byte, offset uint16, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsUpdateBinary, P1: byte(offset >> 8), P2: byte(offset),
		Data: data, Le: -1,
	}
}

// EncodeWriteBinary builds a case-3 Write Binary (OR-merge) at a byte
// offset.
func EncodeWriteBinary(cla, sfi byte, offset uint16, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsWriteBinary, P1: byte(offset >> 8), P2: byte(offset),
		Data: data, Le: -1,
	}
}

// EncodeReadBinary builds a case-2 Read Binary at a byte offset.
func EncodeReadBinary(cla, sfi byte, offset uint16, length int) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsReadBinary, P1: byte(offset >> 8), P2: byte(offset),
		Le: length,
	}
}

// EncodeIncrease builds an Increase command: P1=counterNumber, P2=sfi*8,
// data is the 3-byte big-endian delta. When postponed is true (the card's
// matched patch defers counter responses to session close), the command is
// re-encoded as case-3 with Le absent.
func EncodeIncrease(cla, counterNumber, sfi byte, delta [3]byte, postponed bool) *iso7816.CommandAPDU {
	le := 0
	if postponed {
		le = -1
	}
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsIncrease, P1: counterNumber, P2: sfi << 3,
		Data: delta[:], Le: le,
	}
}

// EncodeDecrease builds a Decrease command, same shape as Increase.
func EncodeDecrease(cla, counterNumber, sfi byte, delta [3]byte, postponed bool) *iso7816.CommandAPDU {
	le := 0
	if postponed {
		le = -1
	}
	return &iso7816.CommandAPDU{
		Cla: cla, Ins: InsDecrease, P1: counterNumber, P2: sfi << 3,
		Data: delta[:], Le: le,
	}
}

// EncodeSvGet builds an SV Get: P1 is 0x01 in extended mode, P2 selects
// the operation (reload or debit log).
func EncodeSvGet(cla byte, extended bool, operation byte) *iso7816.CommandAPDU {
	p1 := byte(0x00)
	if extended {
		p1 = 0x01
	}
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsSvGet, P1: p1, P2: operation, Le: 0}
}

// EncodeSvDebit builds an SV Debit: data is the signed dataIn assembled by
// the crypto SPI.
func EncodeSvDebit(cla byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsSvDebit, P1: 0x00, P2: 0x00, Data: data, Le: 0}
}

// EncodeSvReload builds an SV Reload.
func EncodeSvReload(cla byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsSvReload, P1: 0x00, P2: 0x00, Data: data, Le: 0}
}

// EncodeSvUndebit builds an SV Undebit.
func EncodeSvUndebit(cla byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsSvUndebit, P1: 0x00, P2: 0x00, Data: data, Le: 0}
}

// EncodeVerifyPin builds a Verify PIN with P2=0xFF. The data is exactly 4
// bytes plain or 16 bytes enciphered.
func EncodeVerifyPin(cla byte, pin []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsVerifyPin, P1: 0x00, P2: 0xFF, Data: pin, Le: -1}
}

// EncodeChangePin builds a Change PIN.
func EncodeChangePin(cla byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsChangePin, P1: 0x00, P2: 0xFF, Data: data, Le: -1}
}

// EncodeChangeKey builds a Change Key: data is the ciphered key block from
// cipherCardKey.
func EncodeChangeKey(cla, keyIndex byte, data []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsChangeKey, P1: keyIndex, P2: 0x00, Data: data, Le: -1}
}

// EncodeGetData builds a Get Data: CLA=0x00, INS=0xCA, P1P2 encodes the
// tag.
func EncodeGetData(tag uint16) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: iso7816.ClassISO, Ins: InsGetData,
		P1: byte(tag >> 8), P2: byte(tag), Le: 0,
	}
}

// EncodeSelectFile builds a Select File: P1 encodes the mode, data is the
// 2-byte LID when selecting by LID.
func EncodeSelectFile(cla, mode byte, lid uint16) *iso7816.CommandAPDU {
	c := &iso7816.CommandAPDU{Cla: cla, Ins: InsSelectFile, P1: mode, P2: 0x00, Le: 0}
	if mode == SelectModeByLID {
		c.Data = []byte{byte(lid >> 8), byte(lid)}
	}
	return c
}

// EncodeSelectApplication builds the ISO Select-by-DF-name command that
// opens the card selection step: the response carries the FCI template
// product detection parses.
func EncodeSelectApplication(aid []byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{
		Cla: iso7816.ClassISO, Ins: InsSelectFile,
		P1: 0x04, P2: 0x00, Data: aid, Le: 0,
	}
}

// EncodeInvalidate builds an Invalidate command (no data-in).
func EncodeInvalidate(cla byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsInvalidate, P1: 0x00, P2: 0x00, Le: -1}
}

// EncodeRehabilitate builds a Rehabilitate command (no data-in).
func EncodeRehabilitate(cla byte) *iso7816.CommandAPDU {
	return &iso7816.CommandAPDU{Cla: cla, Ins: InsRehabilitate, P1: 0x00, P2: 0x00, Le: -1}
}
