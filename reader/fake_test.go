package reader

import (
	"bytes"
	"context"
	"testing"
)

func TestFakeReaderReplaysResponsesInOrder(t *testing.T) {
	f := NewFakeReader([]byte{0x3B, 0x00}, [][]byte{
		{0x90, 0x00},
		{0x01, 0x02, 0x90, 0x00},
	})

	resp, err := f.TransmitCardRequest(context.Background(), &CardRequest{
		APDUs: [][]byte{{0x00, 0xA4, 0x04, 0x00}, {0x00, 0xB2, 0x01, 0x04}},
	}, ChannelKeepOpen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.APDUs) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(resp.APDUs))
	}
	if !bytes.Equal(resp.APDUs[1], []byte{0x01, 0x02, 0x90, 0x00}) {
		t.Errorf("second response: got % X", resp.APDUs[1])
	}
}

func TestFakeReaderStopsOnFirstError(t *testing.T) {
	f := NewFakeReader(nil, [][]byte{
		{0x6A, 0x82},
		{0x90, 0x00},
	})

	resp, err := f.TransmitCardRequest(context.Background(), &CardRequest{
		APDUs:            [][]byte{{0x00, 0xB2, 0x01, 0x04}, {0x00, 0xB2, 0x02, 0x04}},
		StopOnFirstError: true,
	}, ChannelKeepOpen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.APDUs) != 1 {
		t.Fatalf("expected batch to stop after first error, got %d responses", len(resp.APDUs))
	}
}

func TestFakeReaderExhaustion(t *testing.T) {
	f := NewFakeReader(nil, nil)
	if _, err := f.TransmitCardRequest(context.Background(), &CardRequest{APDUs: [][]byte{{0x00}}}, ChannelKeepOpen); err == nil {
		t.Fatal("expected an error once responses are exhausted")
	}
}
