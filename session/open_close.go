package session

import (
	"context"
	"fmt"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
	"github.com/calypsonet/keyple-calypso-go/reader"
)

// keyIndexForLevel maps a write access level to the SAM key index carried
// in Open Secure Session's P1 (perso=0, load=1, debit=2): the natural
// extension of Calypso's convention that the three write access levels
// correspond to three distinct session keys, ordered the same way
// calypso.WriteAccessLevel's own constants are declared.
func keyIndexForLevel(level calypso.WriteAccessLevel) byte { return byte(level) }

// PrepareOpenSecureSession enqueues an Open Secure Session, moving the
// session IDLE -> OPEN. recordNumber/sfi select an optional initial record
// to read back in the same command (0/0 means none). If pre-open data was stashed for
// the same write access level, the saved dataOut is reused instead of
// preparing a fresh Open command.
func (m *Manager) PrepareOpenSecureSession(level calypso.WriteAccessLevel, sfi, recordNumber byte) error {
	if err := m.requireIdle("PrepareOpenSecureSession"); err != nil {
		return err
	}

	if m.hasPreOpenData && m.preOpenWriteAccessLevel == level {
		return m.reusePreOpenSession(level)
	}
	// A later request at a different level discards stale pre-open data
	// and performs a normal open.
	m.hasPreOpenData = false

	return m.prepareOpenSecureSessionCommand(level, sfi, recordNumber, true)
}

func (m *Manager) reusePreOpenSession(level calypso.WriteAccessLevel) error {
	m.writeAccessLevel = level
	m.usingPreOpen = true
	m.Card.BackupFiles()
	m.resetPostponedData()
	m.extendedMode = m.Card.Features.ExtendedMode

	if err := m.onOpenSecureSessionParsed(&iso7816.ResponseAPDU{Data: m.preOpenDataOut}, m.extendedMode); err != nil {
		return err
	}

	unit, max := m.bufferCapacityFor()
	m.bufferUnit, m.bufferMax, m.remaining = unit, max, max

	m.state = StateOpen
	m.log("session opened from pre-open data", "writeAccessLevel", level)
	return nil
}

// prepareOpenSecureSessionCommand builds and enqueues the Open Secure
// Session command itself. doSideEffects is false when called from the
// buffer-overflow auto-reopen path, which must not re-run the idle-state
// transition bookkeeping a second time (buffer/extendedMode are already
// reset by the caller) and never carries an initial record read.
func (m *Manager) prepareOpenSecureSessionCommand(level calypso.WriteAccessLevel, sfi, recordNumber byte, doSideEffects bool) error {
	challenge, err := m.Crypto.InitTerminalSessionContext()
	if err != nil {
		return calypsoerr.NewSamIO(err)
	}

	keyIndex := keyIndexForLevel(level)
	extended := m.Card.Features.ExtendedMode

	cmd := &command.Command{
		Ref:       command.RefOpenSecureSession,
		Status:    command.OpenSecureSessionStatusTable(),
		InSession: false,
	}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = m.encodeOpenSecureSession(sfi, recordNumber, keyIndex, extended, challenge)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		return m.onOpenSecureSessionParsed(resp, extended)
	}

	m.enqueue(cmd)

	if doSideEffects {
		m.writeAccessLevel = level
		m.Card.BackupFiles()
		m.resetPostponedData()
		m.extendedMode = extended

		unit, max := m.bufferCapacityFor()
		m.bufferUnit, m.bufferMax, m.remaining = unit, max, max
		m.state = StateOpen
		m.log("open secure session prepared", "writeAccessLevel", level, "extended", extended)
	}
	return nil
}

func (m *Manager) encodeOpenSecureSession(sfi, recordNumber, keyIndex byte, extended bool, challenge []byte) *iso7816.CommandAPDU {
	switch m.Card.ProductType {
	case dictionaries.ProductPrimeRev3, dictionaries.ProductLight, dictionaries.ProductBasic:
		return command.EncodeOpenSecureSessionRev3(m.Card.ClassByte, recordNumber, keyIndex, sfi, extended, challenge)
	case dictionaries.ProductPrimeRev2:
		return command.EncodeOpenSecureSessionRev24(m.Card.ClassByte, recordNumber, keyIndex, challenge)
	default:
		return command.EncodeOpenSecureSessionRev10(m.Card.ClassByte, recordNumber, keyIndex, challenge)
	}
}

func (m *Manager) onOpenSecureSessionParsed(resp *iso7816.ResponseAPDU, extended bool) error {
	var data *command.OpenSessionData
	var err error

	switch m.Card.ProductType {
	case dictionaries.ProductPrimeRev3, dictionaries.ProductLight, dictionaries.ProductBasic:
		if extended {
			data, err = command.DecodeOpenSessionRev3Extended(resp.Data)
		} else {
			data, err = command.DecodeOpenSessionRev3NonExtended(resp.Data)
		}
	case dictionaries.ProductPrimeRev2:
		data, err = command.DecodeOpenSessionRev24(resp.Data)
	default:
		data, err = command.DecodeOpenSessionRev10(resp.Data)
	}
	if err != nil {
		return err
	}

	if !data.ManageSecureSessionAllowed {
		m.extendedMode = false
	}
	if !m.Settings.keyAuthorized(data.KIF, data.KVC) {
		return calypsoerr.NewUnauthorizedKey(fmt.Sprintf("session key KIF=%02X KVC=%02X is not in the allow-list", data.KIF, data.KVC))
	}
	m.Card.Dynamic.Challenge = append([]byte{}, data.Challenge[:]...)

	if err := m.Crypto.InitTerminalSessionMac(resp.Data, data.KIF, data.KVC); err != nil {
		return calypsoerr.NewSamIO(err)
	}
	return nil
}

// PrepareCloseSecureSession enqueues a Close Secure Session, moving the
// session OPEN -> CLOSING. When ratification was requested on a contactless
// reader, a benign ratification APDU is enqueued immediately after, sent regardless
// of the close's own outcome.
func (m *Manager) PrepareCloseSecureSession() error {
	if err := m.requireOpen("PrepareCloseSecureSession"); err != nil {
		return err
	}
	return m.prepareCloseSecureSessionCommand(true)
}

func (m *Manager) prepareCloseSecureSessionCommand(withRatification bool) error {
	// Captured at prepare time: the SV command's slot in the postponed-data
	// sequence is fixed as soon as it is bound, while the card image's
	// dynamic fields only update at parse time.
	hasIdx := m.sv.bound
	svIdx := m.sv.index

	cmd := &command.Command{
		Ref:       command.RefCloseSecureSession,
		Status:    command.CloseSecureSessionStatusTable(),
		InSession: true,
	}
	cmd.CryptoServiceRequiredToFinalize = func() bool { return true }
	cmd.FinalizeRequest = func() error {
		sig, err := m.Crypto.FinalizeTerminalSessionMac()
		if err != nil {
			return calypsoerr.NewSamIO(err)
		}
		cmd.APDU = command.EncodeCloseSecureSession(m.Card.ClassByte, sig, svIdx, hasIdx)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		return m.onCloseSecureSessionParsed(resp)
	}
	m.pipeline.Push(cmd)

	if withRatification && m.Settings.RatificationRequested && m.Settings.ContactlessReader {
		ratify := &command.Command{Ref: command.RefCloseSecureSession, Status: command.CloseSecureSessionStatusTable()}
		ratify.FinalizeRequest = func() error {
			ratify.APDU = command.EncodeRatificationAPDU(m.Card.ClassByte)
			return nil
		}
		ratify.ParseResponse = func(resp *iso7816.ResponseAPDU) error { return nil }
		m.pipeline.Push(ratify)
	}

	if withRatification {
		m.state = StateClosing
	}
	return nil
}

func (m *Manager) onCloseSecureSessionParsed(resp *iso7816.ResponseAPDU) error {
	if m.usingPreOpen {
		if string(resp.Data) != string(m.preOpenDataOut) && len(resp.Data) > 0 {
			return calypsoerr.NewCardSecurityContext("close session dataOut does not match pre-open dataOut", resp.SW())
		}
	}

	mac := resp.Data
	if len(mac) > 4 {
		mac = mac[len(mac)-4:]
	}
	ok, err := m.Crypto.VerifyCardSessionMac(mac)
	if err != nil {
		return calypsoerr.NewSamIO(err)
	}
	if !ok {
		return calypsoerr.NewInvalidCardSignature()
	}

	m.state = StateIdle
	m.usingPreOpen = false
	m.hasPreOpenData = false
	m.log("session closed")
	return nil
}

// Abort runs the session abort sub-routine: best-effort cancel-close,
// unconditional file/SV rollback, reset to IDLE. It never returns an error
// of its own — cancellation failures are logged, not propagated.
func (m *Manager) Abort(ctx context.Context) {
	if m.state == StateOpen || m.state == StateClosing {
		cancel := command.EncodeCancelSecureSession(m.Card.ClassByte)
		req := &reader.CardRequest{APDUs: [][]byte{cancel.Bytes()}}
		if _, err := m.CardReader.TransmitCardRequest(ctx, req, reader.ChannelCloseAfter); err != nil {
			m.log("cancel secure session failed (best effort)", "error", err)
		}
	}
	m.Card.RestoreFiles()
	m.pipeline.Clear()
	m.resetPostponedData()
	m.usingPreOpen = false
	m.state = StateAborted
	m.log("session aborted, file snapshot restored")
}
