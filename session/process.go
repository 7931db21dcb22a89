package session

import (
	"context"
	"fmt"

	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
	"github.com/calypsonet/keyple-calypso-go/reader"
)

// ProcessCommands drains the pipeline: walk pending
// commands, flushing a partial batch to the card whenever a command needs
// the crypto service synchronized and cannot synchronize purely from prior
// commands; then transmit the remainder with the requested channel control.
// Any error during the walk or transmission runs the Abort sub-routine
// before being returned unchanged.
func (m *Manager) ProcessCommands(ctx context.Context, control reader.ChannelControl) (err error) {
	defer func() {
		if err != nil && (m.state == StateOpen || m.state == StateClosing) {
			m.Abort(ctx)
		}
	}()

	cmds := m.pipeline.DrainAll()
	batchStart := 0

	for i, cmd := range cmds {
		if cmd.CryptoServiceRequiredToFinalize == nil || !cmd.CryptoServiceRequiredToFinalize() {
			continue
		}
		synced := false
		if cmd.SynchronizeCryptoServiceBeforeCardProcessing != nil {
			synced, err = cmd.SynchronizeCryptoServiceBeforeCardProcessing()
			if err != nil {
				return err
			}
		}
		if synced {
			continue
		}
		if i > batchStart {
			if err = m.transmitAndParse(ctx, cmds[batchStart:i], reader.ChannelKeepOpen); err != nil {
				return err
			}
		}
		batchStart = i
	}

	if err = m.transmitAndParse(ctx, cmds[batchStart:], control); err != nil {
		return err
	}
	return nil
}

func (m *Manager) transmitAndParse(ctx context.Context, batch []*command.Command, control reader.ChannelControl) error {
	if len(batch) == 0 {
		return nil
	}
	for _, cmd := range batch {
		if cmd.FinalizeRequest == nil {
			continue
		}
		if err := cmd.FinalizeRequest(); err != nil {
			return err
		}
	}

	req := &reader.CardRequest{APDUs: make([][]byte, len(batch)), StopOnFirstError: true}
	for i, cmd := range batch {
		wire := cmd.APDU
		// Encryption mode: the wire form carries enciphered data-in, while
		// cmd.APDU keeps the plaintext the MAC chain covers.
		if cmd.EncryptionActive && len(cmd.APDU.Data) > 0 {
			enc, err := m.Crypto.CipherApduData(cmd.APDU.Data)
			if err != nil {
				return calypsoerr.NewSamIO(err)
			}
			w := *cmd.APDU
			w.Data = enc
			wire = &w
		}
		req.APDUs[i] = wire.Bytes()
	}

	resp, err := m.CardReader.TransmitCardRequest(ctx, req, control)
	if err != nil {
		return calypsoerr.NewReaderIO(err)
	}
	if len(resp.APDUs) != len(batch) {
		if len(resp.APDUs) < len(batch) {
			return calypsoerr.NewInconsistentData(fmt.Sprintf("expected %d responses, got %d", len(batch), len(resp.APDUs)))
		}
	}

	for i, cmd := range batch {
		raw := resp.APDUs[i]
		parsed, err := iso7816.ParseResponseAPDU(raw)
		if err != nil {
			return calypsoerr.NewReaderIO(err)
		}
		if cmd.EncryptionActive && len(parsed.Data) > 0 {
			plain, err := m.Crypto.DecipherApduData(parsed.Data)
			if err != nil {
				return calypsoerr.NewSamIO(err)
			}
			parsed.Data = plain
		}
		cmd.Response = parsed

		if cmd.InSession {
			if err := m.Crypto.UpdateTerminalSessionMac(cmd.APDU.BytesWithoutLe()); err != nil {
				return calypsoerr.NewSamIO(err)
			}
			if err := m.Crypto.UpdateTerminalSessionMac(parsed.Bytes()); err != nil {
				return calypsoerr.NewSamIO(err)
			}
		}

		props := cmd.Status.Lookup(parsed.SW())
		if !props.Successful {
			return statusError(props, parsed.SW())
		}
		if cmd.ParseResponse != nil {
			if err := cmd.ParseResponse(parsed); err != nil {
				return err
			}
		}
	}
	return nil
}

// statusError maps a failed status-word lookup to the calypsoerr taxonomy.
func statusError(p iso7816.StatusProperties, sw uint16) error {
	switch p.Kind {
	case iso7816.StatusIllegalParameter:
		return calypsoerr.NewCardIllegalParameter(p.Message, sw)
	case iso7816.StatusDataAccess:
		return calypsoerr.NewCardDataAccess(p.Message, sw)
	case iso7816.StatusAccessForbidden:
		return calypsoerr.NewCardAccessForbidden(p.Message, sw)
	case iso7816.StatusSecurityContext:
		return calypsoerr.NewCardSecurityContext(p.Message, sw)
	case iso7816.StatusSecurityData:
		return calypsoerr.NewCardSecurityData(p.Message, sw)
	case iso7816.StatusSessionBufferOverflow:
		return calypsoerr.NewCardSessionBufferOverflow(p.Message, sw)
	case iso7816.StatusTerminated:
		return calypsoerr.NewCardTerminated(p.Message, sw)
	case iso7816.StatusUnknown:
		return calypsoerr.NewCardUnknownStatus(sw)
	default:
		return calypsoerr.NewCardIllegalParameter(p.Message, sw)
	}
}
