package reader

import (
	"context"
	"fmt"
)

// FakeReader is an in-memory CardReader/SAMReader driven by a scripted list
// of responses, standing in for a physical reader in tests. The fixture
// package carries its own behavioral card simulation for flows whose
// responses depend on the terminal's signatures; FakeReader covers the
// simpler scripted cases.
type FakeReader struct {
	PowerOn   []byte
	Responses [][]byte // consumed in order, one per transmitted APDU
	Sent      [][]byte // every APDU actually transmitted, for assertions

	pos int
}

// NewFakeReader builds a FakeReader that will answer with responses, in
// order, regardless of how the caller batches its requests.
func NewFakeReader(powerOn []byte, responses [][]byte) *FakeReader {
	return &FakeReader{PowerOn: powerOn, Responses: responses}
}

func (f *FakeReader) TransmitCardRequest(ctx context.Context, req *CardRequest, control ChannelControl) (*CardResponse, error) {
	resp := &CardResponse{APDUs: make([][]byte, 0, len(req.APDUs))}
	for _, apdu := range req.APDUs {
		out, err := f.next()
		if err != nil {
			return resp, err
		}
		f.Sent = append(f.Sent, apdu)
		resp.APDUs = append(resp.APDUs, out)
		if req.StopOnFirstError && isErrorStatus(out) {
			break
		}
	}
	return resp, nil
}

func (f *FakeReader) TransmitSamRequest(ctx context.Context, apdu []byte) ([]byte, error) {
	f.Sent = append(f.Sent, apdu)
	return f.next()
}

func (f *FakeReader) next() ([]byte, error) {
	if f.pos >= len(f.Responses) {
		return nil, fmt.Errorf("reader: fake reader exhausted after %d responses", f.pos)
	}
	out := f.Responses[f.pos]
	f.pos++
	return out, nil
}

func (f *FakeReader) PowerOnData() []byte { return f.PowerOn }
