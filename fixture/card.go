package fixture

import (
	"context"
	"fmt"

	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/reader"
)

// simCard is a software Calypso card behind the reader.CardReader SPI. It
// answers each APDU by kind: selection returns a canned FCI, reads serve a
// record store, session closes echo the terminal signature as the card MAC
// (the samsim SAM computes both sides of the mutual authentication
// symmetrically, so a genuine card's MAC equals the terminal's), and SV
// modifying commands echo the SAM-signed data-in the same way.
type simCard struct {
	fci     []byte
	records map[[2]byte][]byte // (sfi, record) -> content
	kif     byte
	kvc     byte

	svBalance int32
	svTNum    int

	counterPostponed bool

	// failAt makes the failAt'th APDU of the card's lifetime fail with a
	// transport error, once. 0 disables.
	failAt   int
	answered int

	sent [][]byte
}

func (c *simCard) TransmitCardRequest(ctx context.Context, req *reader.CardRequest, control reader.ChannelControl) (*reader.CardResponse, error) {
	resp := &reader.CardResponse{}
	for _, apdu := range req.APDUs {
		c.answered++
		if c.failAt > 0 && c.answered == c.failAt {
			c.failAt = 0
			return resp, fmt.Errorf("fixture: simulated reader failure on APDU %d", c.answered)
		}
		c.sent = append(c.sent, append([]byte{}, apdu...))
		resp.APDUs = append(resp.APDUs, c.respond(apdu))
	}
	return resp, nil
}

func (c *simCard) PowerOnData() []byte { return nil }

// countSent reports how many transmitted APDUs carried the given INS byte.
func (c *simCard) countSent(ins byte) int {
	n := 0
	for _, apdu := range c.sent {
		if len(apdu) >= 2 && apdu[1] == ins {
			n++
		}
	}
	return n
}

func (c *simCard) respond(apdu []byte) []byte {
	if len(apdu) < 4 {
		return []byte{0x67, 0x00}
	}
	switch apdu[1] {
	case command.InsSelectFile:
		if apdu[2] == 0x04 { // select by DF name: answer with the FCI
			return append(append([]byte{}, c.fci...), 0x90, 0x00)
		}
		return []byte{0x90, 0x00}

	case command.InsOpenSecureSession:
		// rev3 non-extended: challenge(3) + ratified + KIF + KVC + dataLen
		return []byte{0x11, 0x22, 0x33, 0x00, c.kif, c.kvc, 0x00, 0x90, 0x00}

	case command.InsCloseSecureSession:
		if apdu[2] == 0x80 || len(apdu) == 4 {
			// session cancellation, or the benign ratification APDU
			return []byte{0x90, 0x00}
		}
		data := commandData(apdu)
		if len(data) < 4 {
			return []byte{0x67, 0x00}
		}
		return append(append([]byte{}, data[:4]...), 0x90, 0x00)

	case command.InsReadRecords:
		rec, sfi := apdu[2], apdu[3]>>3
		data, ok := c.records[[2]byte{sfi, rec}]
		if !ok {
			return []byte{0x6A, 0x83}
		}
		return append(append([]byte{}, data...), 0x90, 0x00)

	case command.InsUpdateRecord, command.InsWriteRecord, command.InsAppendRecord:
		return []byte{0x90, 0x00}

	case command.InsIncrease, command.InsDecrease:
		if c.counterPostponed {
			return []byte{0x62, 0x00}
		}
		return []byte{0x90, 0x00}

	case command.InsSvGet:
		out := []byte{0x11, 0x22, 0x33, c.kvc, byte(c.svTNum >> 8), byte(c.svTNum)}
		out = append(out, byte(c.svBalance>>16), byte(c.svBalance>>8), byte(c.svBalance))
		out = append(out, 0x7C, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06)
		return append(out, 0x90, 0x00)

	case command.InsSvDebit, command.InsSvReload, command.InsSvUndebit:
		data := commandData(apdu)
		if len(data) < 4 {
			return []byte{0x67, 0x00}
		}
		c.svTNum++
		return append(append([]byte{}, data[:4]...), 0x90, 0x00)

	default:
		return []byte{0x90, 0x00}
	}
}

// commandData extracts a case-3/4 command's data-in field.
func commandData(apdu []byte) []byte {
	if len(apdu) < 5 {
		return nil
	}
	lc := int(apdu[4])
	if len(apdu) < 5+lc {
		return nil
	}
	return apdu[5 : 5+lc]
}
