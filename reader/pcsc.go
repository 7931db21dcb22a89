package reader

import (
	"context"
	"fmt"

	"github.com/ebfe/scard"
)

// PCSCReader is a CardReader/SAMReader backed by a physical PC/SC reader
// slot. Two independent instances are normally constructed, one for the
// card and one for the SAM, which is a separate secure element reached
// over its own reader slot.
type PCSCReader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
	atr  []byte
}

// ListPCSCReaders enumerates the PC/SC reader slots visible to the system.
func ListPCSCReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("reader: establish PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("reader: list readers: %w", err)
	}
	return readers, nil
}

// ConnectPCSCReader connects to a card presented in the named reader slot.
func ConnectPCSCReader(name string) (*PCSCReader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("reader: establish PC/SC context: %w", err)
	}

	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("reader: connect to reader %q: %w", name, err)
	}

	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, fmt.Errorf("reader: card status: %w", err)
	}

	return &PCSCReader{ctx: ctx, card: card, name: name, atr: status.Atr}, nil
}

// ConnectPCSCReaderByIndex connects to the card present in the reader at the
// given index of ListPCSCReaders.
func ConnectPCSCReaderByIndex(index int) (*PCSCReader, error) {
	readers, err := ListPCSCReaders()
	if err != nil {
		return nil, err
	}
	if len(readers) == 0 {
		return nil, fmt.Errorf("reader: no smart card readers found")
	}
	if index < 0 || index >= len(readers) {
		return nil, fmt.Errorf("reader: index %d out of range (0-%d)", index, len(readers)-1)
	}
	return ConnectPCSCReader(readers[index])
}

// TransmitCardRequest sends each APDU of req in order, honoring
// StopOnFirstError, and returns the collected responses.
// With ChannelCloseAfter the call disconnects the card after the last
// exchange; a transmit error returns before that. ChannelKeepOpen leaves
// the channel open.
func (r *PCSCReader) TransmitCardRequest(ctx context.Context, req *CardRequest, control ChannelControl) (*CardResponse, error) {
	resp := &CardResponse{APDUs: make([][]byte, 0, len(req.APDUs))}
	for _, apdu := range req.APDUs {
		select {
		case <-ctx.Done():
			return resp, fmt.Errorf("reader: %w", ctx.Err())
		default:
		}

		out, err := r.card.Transmit(apdu)
		if err != nil {
			return resp, fmt.Errorf("reader: transmit failed: %w", err)
		}
		resp.APDUs = append(resp.APDUs, out)

		if req.StopOnFirstError && isErrorStatus(out) {
			break
		}
	}

	if control == ChannelCloseAfter {
		r.card.Disconnect(scard.LeaveCard)
	}
	return resp, nil
}

// TransmitSamRequest sends a single APDU to the SAM (used when a PCSCReader
// is wired in as the SAM transport).
func (r *PCSCReader) TransmitSamRequest(ctx context.Context, apdu []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("reader: %w", ctx.Err())
	default:
	}
	out, err := r.card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("reader: SAM transmit failed: %w", err)
	}
	return out, nil
}

// PowerOnData returns the raw ATR captured at connect time.
func (r *PCSCReader) PowerOnData() []byte { return r.atr }

// Name returns the underlying PC/SC reader slot name.
func (r *PCSCReader) Name() string { return r.name }

// Close disconnects the card and releases the PC/SC context.
func (r *PCSCReader) Close() error {
	if r.card != nil {
		r.card.Disconnect(scard.LeaveCard)
	}
	if r.ctx != nil {
		r.ctx.Release()
	}
	return nil
}

func isErrorStatus(apdu []byte) bool {
	if len(apdu) < 2 {
		return true
	}
	sw1 := apdu[len(apdu)-2]
	return sw1 != 0x90 && sw1 != 0x61 && sw1 != 0x62 && sw1 != 0x63
}
