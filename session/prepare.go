package session

import (
	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
)

func (m *Manager) counterKey(sfi byte, counterNum int) [2]byte { return [2]byte{sfi, byte(counterNum)} }

// rememberCounter records the last known value of a counter, consulted by
// postponed-mode Increase/Decrease.
func (m *Manager) rememberCounter(sfi byte, counterNum int, value int32) {
	if m.knownCounters == nil {
		m.knownCounters = make(map[[2]byte]int32)
	}
	m.knownCounters[m.counterKey(sfi, counterNum)] = value
}

func (m *Manager) knownCounter(sfi byte, counterNum int) (int32, bool) {
	v, ok := m.knownCounters[m.counterKey(sfi, counterNum)]
	return v, ok
}

func be24(v int32) [3]byte {
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

func decodeBE24(b []byte) int32 {
	return int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
}

// PrepareReadRecords enqueues a Read Records; the response fills the
// image's record recordNumber of file sfi.
func (m *Manager) PrepareReadRecords(sfi, recordNumber byte, expectedLen int) error {
	cmd := &command.Command{Ref: command.RefReadRecords, Status: command.ReadRecordsStatusTable(), InSession: m.state == StateOpen}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeReadRecords(m.Card.ClassByte, recordNumber, sfi, false, expectedLen)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		if err := m.Card.SetContent(sfi, int(recordNumber), resp.Data, 0); err != nil {
			return err
		}
		// Record 1 of a counter file holds every counter in 3-byte slices;
		// other records are read as one counter each.
		if recordNumber == 1 {
			for i := 0; i+3 <= len(resp.Data); i += 3 {
				m.rememberCounter(sfi, i/3+1, decodeBE24(resp.Data[i:i+3]))
			}
		} else if len(resp.Data) >= 3 {
			m.rememberCounter(sfi, int(recordNumber), decodeBE24(resp.Data[:3]))
		}
		return nil
	}
	m.enqueue(cmd)
	return nil
}

// PrepareReadEventCeiling reads the single event-log ceiling counter:
// record singleCounter of the event-log EF identified by sfi.
func (m *Manager) PrepareReadEventCeiling(sfi byte, singleCounter int) error {
	return m.PrepareReadRecords(sfi, byte(singleCounter), 3)
}

// PrepareUpdateRecord enqueues an Update Record and applies the write to
// the card image immediately: the engine's image always
// reflects prepared writes, with Abort rolling them back wholesale on
// failure rather than each command rolling back individually.
func (m *Manager) PrepareUpdateRecord(sfi, recordNumber byte, data []byte) error {
	if err := m.Card.SetContent(sfi, int(recordNumber), data, 0); err != nil {
		return err
	}
	cmd := &command.Command{
		Ref: command.RefUpdateRecord, Status: command.UpdateOrWriteRecordStatusTable(),
		InSession: m.state == StateOpen, SessionBufferUsed: m.state == StateOpen,
	}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeUpdateRecord(m.Card.ClassByte, recordNumber, sfi, data)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	if cmd.SessionBufferUsed {
		apduLen := len(command.EncodeUpdateRecord(m.Card.ClassByte, recordNumber, sfi, data).Bytes())
		if err := m.reserveBuffer(apduLen); err != nil {
			return err
		}
	}
	m.enqueue(cmd)
	return nil
}

// PrepareAppendRecord enqueues an Append Record and shifts the card image's
// cyclic content immediately.
func (m *Manager) PrepareAppendRecord(sfi byte, data []byte) error {
	if err := m.Card.AddCyclicContent(sfi, data); err != nil {
		return err
	}
	cmd := &command.Command{
		Ref: command.RefAppendRecord, Status: command.UpdateOrWriteRecordStatusTable(),
		InSession: m.state == StateOpen, SessionBufferUsed: m.state == StateOpen,
	}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeAppendRecord(m.Card.ClassByte, sfi, data)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	if cmd.SessionBufferUsed {
		apduLen := len(command.EncodeAppendRecord(m.Card.ClassByte, sfi, data).Bytes())
		if err := m.reserveBuffer(apduLen); err != nil {
			return err
		}
	}
	m.enqueue(cmd)
	return nil
}

// PrepareIncrease enqueues an Increase(sfi, counterNumber, delta). On a card
// whose matched patch sets CounterValuePostponed, the response is deferred
// to session close: if no previous counter value is known this raises
// IllegalState at prepare time, otherwise it updates the
// image to previous+delta as soon as SW=0x6200 confirms success.
func (m *Manager) PrepareIncrease(sfi byte, counterNumber int, delta int32) error {
	return m.prepareCounterOp(sfi, counterNumber, delta, command.InsIncrease)
}

// PrepareDecrease is Increase's mirror.
func (m *Manager) PrepareDecrease(sfi byte, counterNumber int, delta int32) error {
	return m.prepareCounterOp(sfi, counterNumber, delta, command.InsDecrease)
}

func (m *Manager) prepareCounterOp(sfi byte, counterNumber int, delta int32, ins byte) error {
	postponed := m.Card.Patch.CounterValuePostponed
	sign := int32(1)
	if ins == command.InsDecrease {
		sign = -1
	}

	var previous int32
	if postponed {
		v, ok := m.knownCounter(sfi, counterNumber)
		if !ok {
			return calypsoerr.NewIllegalState("postponed counter has no previously known value")
		}
		previous = v
	}

	cmd := &command.Command{
		Ref:       refForCounterIns(ins),
		Status:    command.CounterStatusTable(postponed),
		InSession: m.state == StateOpen, SessionBufferUsed: m.state == StateOpen,
	}
	encode := func() *iso7816.CommandAPDU {
		if ins == command.InsIncrease {
			return command.EncodeIncrease(m.Card.ClassByte, byte(counterNumber), sfi, be24(delta), postponed)
		}
		return command.EncodeDecrease(m.Card.ClassByte, byte(counterNumber), sfi, be24(delta), postponed)
	}
	cmd.FinalizeRequest = func() error { cmd.APDU = encode(); return nil }
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		var newValue int32
		if postponed {
			newValue = previous + sign*delta
		} else {
			if len(resp.Data) < 3 {
				return calypsoerr.NewCardUnexpectedResponseLength("counter response too short")
			}
			newValue = decodeBE24(resp.Data[:3])
		}
		if err := m.Card.SetCounter(sfi, counterNumber, be24(newValue)); err != nil {
			return err
		}
		m.rememberCounter(sfi, counterNumber, newValue)
		return nil
	}

	if cmd.SessionBufferUsed {
		if err := m.reserveBuffer(len(encode().Bytes())); err != nil {
			return err
		}
	}
	if postponed && m.state == StateOpen {
		// This command's response arrives with the session close; it
		// occupies the next slot of the postponed-data sequence.
		m.postponedDataCount++
	}
	m.enqueue(cmd)
	return nil
}

func refForCounterIns(ins byte) command.Ref {
	if ins == command.InsIncrease {
		return command.RefIncrease
	}
	return command.RefDecrease
}

// PrepareWriteRecord enqueues a Write Record. Calypso's Write Record ORs
// the data into the existing record rather than replacing it, so the image
// is updated with FillContent.
func (m *Manager) PrepareWriteRecord(sfi, recordNumber byte, data []byte) error {
	if err := m.Card.FillContent(sfi, int(recordNumber), data, 0); err != nil {
		return err
	}
	cmd := &command.Command{
		Ref: command.RefWriteRecord, Status: command.UpdateOrWriteRecordStatusTable(),
		InSession: m.state == StateOpen, SessionBufferUsed: m.state == StateOpen,
	}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeWriteRecord(m.Card.ClassByte, recordNumber, sfi, data)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	if cmd.SessionBufferUsed {
		apduLen := len(command.EncodeWriteRecord(m.Card.ClassByte, recordNumber, sfi, data).Bytes())
		if err := m.reserveBuffer(apduLen); err != nil {
			return err
		}
	}
	m.enqueue(cmd)
	return nil
}

// PrepareReadRecordsMultiple enqueues a Read Records in from-to-last mode:
// the card returns fromRecord and every following record in one response,
// each recordLen bytes. The image gains one record per slice.
func (m *Manager) PrepareReadRecordsMultiple(sfi, fromRecord byte, recordLen, expectedLen int) error {
	if recordLen <= 0 {
		return calypsoerr.NewIllegalState("record length must be positive for a multiple read")
	}
	cmd := &command.Command{Ref: command.RefReadRecords, Status: command.ReadRecordsStatusTable(), InSession: m.state == StateOpen}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeReadRecords(m.Card.ClassByte, fromRecord, sfi, true, expectedLen)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		rec := int(fromRecord)
		for off := 0; off+recordLen <= len(resp.Data); off += recordLen {
			if err := m.Card.SetContent(sfi, rec, resp.Data[off:off+recordLen], 0); err != nil {
				return err
			}
			rec++
		}
		return nil
	}
	m.enqueue(cmd)
	return nil
}

// PrepareSearchRecord enqueues a Search Record Multiple for the given
// pattern; the raw response data (the matching record numbers) is handed to
// onParsed.
func (m *Manager) PrepareSearchRecord(sfi, startRecord byte, pattern []byte, onParsed func(data []byte) error) error {
	cmd := &command.Command{Ref: command.RefSearchRecord, Status: command.ReadRecordsStatusTable(), InSession: m.state == StateOpen}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeSearchRecord(m.Card.ClassByte, startRecord, sfi, pattern, 0)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		if onParsed != nil {
			return onParsed(resp.Data)
		}
		return nil
	}
	m.enqueue(cmd)
	return nil
}

// PrepareReadBinary enqueues a Read Binary; the response lands at the given
// offset of the BINARY file's record 1.
func (m *Manager) PrepareReadBinary(sfi byte, offset uint16, length int) error {
	cmd := &command.Command{Ref: command.RefReadBinary, Status: command.BinaryStatusTable(), InSession: m.state == StateOpen}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeReadBinary(m.Card.ClassByte, sfi, offset, length)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		return m.Card.SetContent(sfi, 1, resp.Data, int(offset))
	}
	m.enqueue(cmd)
	return nil
}

// PrepareUpdateBinary enqueues an Update Binary and applies the write to
// the image immediately, like PrepareUpdateRecord.
func (m *Manager) PrepareUpdateBinary(sfi byte, offset uint16, data []byte) error {
	return m.prepareBinaryWrite(sfi, offset, data, command.RefUpdateBinary)
}

// PrepareWriteBinary is Update Binary's OR-writing sibling.
func (m *Manager) PrepareWriteBinary(sfi byte, offset uint16, data []byte) error {
	return m.prepareBinaryWrite(sfi, offset, data, command.RefWriteBinary)
}

func (m *Manager) prepareBinaryWrite(sfi byte, offset uint16, data []byte, ref command.Ref) error {
	var err error
	if ref == command.RefWriteBinary {
		err = m.Card.FillContent(sfi, 1, data, int(offset))
	} else {
		err = m.Card.SetContent(sfi, 1, data, int(offset))
	}
	if err != nil {
		return err
	}

	encode := func() *iso7816.CommandAPDU {
		if ref == command.RefWriteBinary {
			return command.EncodeWriteBinary(m.Card.ClassByte, sfi, offset, data)
		}
		return command.EncodeUpdateBinary(m.Card.ClassByte, sfi, offset, data)
	}
	cmd := &command.Command{
		Ref: ref, Status: command.BinaryStatusTable(),
		InSession: m.state == StateOpen, SessionBufferUsed: m.state == StateOpen,
	}
	cmd.FinalizeRequest = func() error { cmd.APDU = encode(); return nil }
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	if cmd.SessionBufferUsed {
		if err := m.reserveBuffer(len(encode().Bytes())); err != nil {
			return err
		}
	}
	m.enqueue(cmd)
	return nil
}

// PrepareVerifyPin enqueues a Verify PIN. If cipherRequired is true the PIN
// is enciphered via the crypto SPI using the card's current challenge
// before transmission.
func (m *Manager) PrepareVerifyPin(pin []byte, cipherRequired bool, kif, kvc byte) error {
	cmd := &command.Command{Ref: command.RefVerifyPin, Status: command.VerifyPinStatusTable()}
	if cipherRequired {
		cmd.CryptoServiceRequiredToFinalize = func() bool { return true }
	}
	cmd.FinalizeRequest = func() error {
		payload := pin
		if cipherRequired {
			ciphered, err := m.Crypto.CipherPinForVerify(m.Card.Dynamic.Challenge, pin, kif, kvc)
			if err != nil {
				return calypsoerr.NewSamIO(err)
			}
			payload = ciphered
		}
		cmd.APDU = command.EncodeVerifyPin(m.Card.ClassByte, payload)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	m.enqueue(cmd)
	return nil
}

// PrepareChangePin enqueues a Change PIN. The data is either the plain
// 4-byte new PIN or the 16-byte enciphered block produced by the crypto SPI
// from the old and new PINs (4 bytes plain, 16 bytes enciphered).
func (m *Manager) PrepareChangePin(oldPin, newPin []byte, cipherRequired bool, kif, kvc byte) error {
	cmd := &command.Command{Ref: command.RefChangePin, Status: command.ChangePinStatusTable()}
	if cipherRequired {
		cmd.CryptoServiceRequiredToFinalize = func() bool { return true }
	}
	cmd.FinalizeRequest = func() error {
		payload := newPin
		if cipherRequired {
			ciphered, err := m.Crypto.CipherPinForChange(m.Card.Dynamic.Challenge, oldPin, newPin, kif, kvc)
			if err != nil {
				return calypsoerr.NewSamIO(err)
			}
			payload = ciphered
		}
		cmd.APDU = command.EncodeChangePin(m.Card.ClassByte, payload)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	m.enqueue(cmd)
	return nil
}

// PrepareChangeKey enqueues a Change Key: the new key is ciphered by the
// SAM under the issuer key before transmission.
func (m *Manager) PrepareChangeKey(keyIndex, issuerKif, issuerKvc, newKif, newKvc byte) error {
	cmd := &command.Command{Ref: command.RefChangeKey, Status: command.ChangeKeyStatusTable()}
	cmd.CryptoServiceRequiredToFinalize = func() bool { return true }
	cmd.FinalizeRequest = func() error {
		block, err := m.Crypto.CipherCardKey(m.Card.Dynamic.Challenge, issuerKif, issuerKvc, newKif, newKvc)
		if err != nil {
			return calypsoerr.NewSamIO(err)
		}
		cmd.APDU = command.EncodeChangeKey(m.Card.ClassByte, keyIndex, block)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	m.enqueue(cmd)
	return nil
}

// PrepareInvalidate enqueues an Invalidate; the image's DF-invalidated flag
// follows on parse.
func (m *Manager) PrepareInvalidate() error {
	return m.prepareDFStatusChange(command.RefInvalidate, true)
}

// PrepareRehabilitate is Invalidate's inverse.
func (m *Manager) PrepareRehabilitate() error {
	return m.prepareDFStatusChange(command.RefRehabilitate, false)
}

func (m *Manager) prepareDFStatusChange(ref command.Ref, invalidated bool) error {
	cmd := &command.Command{
		Ref: ref, Status: command.InvalidateOrRehabilitateStatusTable(),
		InSession: m.state == StateOpen, SessionBufferUsed: m.state == StateOpen,
	}
	encode := func() *iso7816.CommandAPDU {
		if ref == command.RefInvalidate {
			return command.EncodeInvalidate(m.Card.ClassByte)
		}
		return command.EncodeRehabilitate(m.Card.ClassByte)
	}
	cmd.FinalizeRequest = func() error { cmd.APDU = encode(); return nil }
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		m.Card.DFInvalidated = invalidated
		return nil
	}
	if cmd.SessionBufferUsed {
		if err := m.reserveBuffer(len(encode().Bytes())); err != nil {
			return err
		}
	}
	m.enqueue(cmd)
	return nil
}

// PrepareGetData enqueues a Get Data for the given tag.
func (m *Manager) PrepareGetData(tag uint16, onParsed func(data []byte) error) error {
	cmd := &command.Command{Ref: command.RefGetData, Status: command.GetDataStatusTable()}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeGetData(tag)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		if onParsed != nil {
			return onParsed(resp.Data)
		}
		return nil
	}
	m.enqueue(cmd)
	return nil
}

// PrepareSelectFile enqueues a Select File by LID.
func (m *Manager) PrepareSelectFile(lid uint16) error {
	cmd := &command.Command{Ref: command.RefSelectFile, Status: command.SelectFileStatusTable()}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeSelectFile(m.Card.ClassByte, command.SelectModeByLID, lid)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
	m.enqueue(cmd)
	return nil
}
