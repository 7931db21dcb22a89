// Stored-value sub-protocol.
package session

import (
	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/crypto"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
)

func oppositeSvOperation(op crypto.SvOperation) crypto.SvOperation {
	if op == crypto.SvOperationReload {
		return crypto.SvOperationDebit
	}
	return crypto.SvOperationReload
}

// svGetMatches reports whether a Get prepared for getOp satisfies a
// modifying operation modOp.
func svGetMatches(getOp, modOp crypto.SvOperation) bool {
	if modOp == crypto.SvOperationReload {
		return getOp == crypto.SvOperationReload
	}
	return getOp == crypto.SvOperationDebit
}

// PrepareSvGet enqueues an SV Get for the given operation. When
// "both logs" is requested on a non-extended card, an extra SV Get of the
// opposite operation is enqueued first so the card also returns the other
// log.
func (m *Manager) PrepareSvGet(operation crypto.SvOperation) error {
	if m.Settings.BothSvLogsRequested && !m.extendedMode {
		if err := m.enqueueSvGet(oppositeSvOperation(operation)); err != nil {
			return err
		}
	}
	return m.enqueueSvGet(operation)
}

func (m *Manager) enqueueSvGet(operation crypto.SvOperation) error {
	p2 := command.P2SvGetDebit
	if operation == crypto.SvOperationReload {
		p2 = command.P2SvGetReload
	}
	cmd := &command.Command{Ref: command.RefSvGet, Status: command.SvGetStatusTable(), InSession: m.state == StateOpen}
	cmd.FinalizeRequest = func() error {
		cmd.APDU = command.EncodeSvGet(m.Card.ClassByte, m.extendedMode, p2)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		data, err := command.DecodeSvGetResponse(resp.Data)
		if err != nil {
			return err
		}
		m.Card.Dynamic.SvBalance, m.Card.Dynamic.HasSvBalance = data.Balance, true
		m.Card.Dynamic.SvLastTNum = data.LastTNum
		m.Card.Dynamic.SvKvc = data.KVC
		m.Card.Dynamic.SvGetHeader = append([]byte{}, data.Header[:]...)
		m.Card.Dynamic.SvGetData = append([]byte{}, data.LogRecords...)
		return nil
	}
	m.enqueue(cmd)
	op := operation
	m.sv.lastGetOp = &op
	return nil
}

// PrepareSvDebit enqueues an SV Debit bound to the immediately preceding
// matching SV Get.
func (m *Manager) PrepareSvDebit(amount int32, date, tm, free [2]byte) error {
	return m.prepareSvModifying(crypto.SvOperationDebit, command.InsSvDebit, amount, date, tm, free)
}

// PrepareSvReload enqueues an SV Reload.
func (m *Manager) PrepareSvReload(amount int32, date, tm, free [2]byte) error {
	return m.prepareSvModifying(crypto.SvOperationReload, command.InsSvReload, amount, date, tm, free)
}

// PrepareSvUndebit enqueues an SV Undebit.
func (m *Manager) PrepareSvUndebit(amount int32, date, tm, free [2]byte) error {
	return m.prepareSvModifying(crypto.SvOperationUndebit, command.InsSvUndebit, amount, date, tm, free)
}

func (m *Manager) prepareSvModifying(op crypto.SvOperation, ins byte, amount int32, date, tm, free [2]byte) error {
	if m.sv.bound {
		return calypsoerr.NewIllegalState("at most one SV modifying operation is allowed per secure session")
	}
	if m.sv.lastGetOp == nil || !svGetMatches(*m.sv.lastGetOp, op) {
		return calypsoerr.NewIllegalState("SV modifying command must be immediately preceded by a matching SV Get")
	}
	if op == crypto.SvOperationDebit && !m.Settings.SvNegativeBalanceAuthorized {
		if m.Card.Dynamic.SvBalance-amount < 0 {
			return calypsoerr.NewCardDataAccess("SV balance would go negative without authorization", 0)
		}
	}

	ctx := crypto.SvSecurityContext{
		Operation: op,
		GetHeader: m.Card.Dynamic.SvGetHeader,
		GetData:   m.Card.Dynamic.SvGetData,
		Amount:    amount, Date: date, Time: tm, Free: free,
		KVC: m.Card.Dynamic.SvKvc,
	}

	cmd := &command.Command{Ref: svRefForIns(ins), Status: command.SvOperationStatusTable(), InSession: true, SessionBufferUsed: true}
	cmd.CryptoServiceRequiredToFinalize = func() bool { return true }
	cmd.FinalizeRequest = func() error {
		dataIn, err := m.Crypto.GenerateSvCommandSecurityData(ctx)
		if err != nil {
			return calypsoerr.NewSamIO(err)
		}
		cmd.APDU = encodeSvModifying(ins, m.Card.ClassByte, dataIn)
		return nil
	}
	cmd.ParseResponse = func(resp *iso7816.ResponseAPDU) error {
		ok, err := m.Crypto.VerifyCardSvMac(resp.Data)
		if err != nil {
			return calypsoerr.NewSamIO(err)
		}
		if !ok {
			return calypsoerr.NewInvalidSvCardSignature()
		}
		applySvDelta(m.Card, op, amount)
		m.Card.Dynamic.SvLastTNum++
		m.Card.Dynamic.IsSvInSession = true
		m.Card.Dynamic.SvPostponedIndex = m.sv.index
		return nil
	}

	m.enqueue(cmd)
	m.sv.bound = true
	if m.state == StateOpen {
		// The SV MAC is returned with the session close; record which slot
		// of the postponed-data sequence it occupies (postponed counters
		// prepared earlier in the session claim the slots before it) so
		// the close addresses the right MAC.
		m.sv.index = m.postponedDataCount
		m.postponedDataCount++
	}
	return nil
}

// applySvDelta posts a modifying operation's amount against the card
// image's balance: Debit subtracts, Reload/Undebit add back.
func applySvDelta(c *calypso.CalypsoCard, op crypto.SvOperation, amount int32) {
	if op == crypto.SvOperationDebit {
		c.Dynamic.SvBalance -= amount
		return
	}
	c.Dynamic.SvBalance += amount
}

func svRefForIns(ins byte) command.Ref {
	switch ins {
	case command.InsSvDebit:
		return command.RefSvDebit
	case command.InsSvReload:
		return command.RefSvReload
	default:
		return command.RefSvUndebit
	}
}

func encodeSvModifying(ins, cla byte, data []byte) *iso7816.CommandAPDU {
	switch ins {
	case command.InsSvDebit:
		return command.EncodeSvDebit(cla, data)
	case command.InsSvReload:
		return command.EncodeSvReload(cla, data)
	default:
		return command.EncodeSvUndebit(cla, data)
	}
}
