package iso7816

import (
	"bytes"
	"testing"
)

func TestCommandAPDUBytesCases(t *testing.T) {
	cases := []struct {
		name string
		cmd  CommandAPDU
		want []byte
	}{
		{
			name: "case1 no data no response",
			cmd:  CommandAPDU{Cla: 0x94, Ins: 0xB2, P1: 0x01, P2: 0x3C, Le: -1},
			want: []byte{0x94, 0xB2, 0x01, 0x3C},
		},
		{
			name: "case2 le only",
			cmd:  CommandAPDU{Cla: 0x00, Ins: 0xB2, P1: 0x01, P2: 0x3C, Le: 29},
			want: []byte{0x00, 0xB2, 0x01, 0x3C, 0x1D},
		},
		{
			name: "case3 data only",
			cmd:  CommandAPDU{Cla: 0x00, Ins: 0xD6, P1: 0x01, P2: 0x3C, Data: []byte{0x01, 0x02, 0x03}, Le: -1},
			want: []byte{0x00, 0xD6, 0x01, 0x3C, 0x03, 0x01, 0x02, 0x03},
		},
		{
			name: "case4 data and le",
			cmd:  CommandAPDU{Cla: 0x00, Ins: 0x32, P1: 0x01, P2: 0x00, Data: []byte{0x00, 0x00, 0x01}, Le: 0},
			want: []byte{0x00, 0x32, 0x01, 0x00, 0x03, 0x00, 0x00, 0x01, 0x00},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cmd.Bytes()
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("got % X, want % X", got, tc.want)
			}
		})
	}
}

func TestCommandAPDUBytesWithoutLeStripsTrailer(t *testing.T) {
	cmd := CommandAPDU{Cla: 0x00, Ins: 0xDC, P1: 0x01, P2: 0x04, Data: []byte{0xAA, 0xBB}, Le: 0}
	withLe := cmd.Bytes()
	noLe := cmd.BytesWithoutLe()
	if len(withLe) != len(noLe)+1 {
		t.Fatalf("expected stripped form to be one byte shorter: %d vs %d", len(withLe), len(noLe))
	}
	if !bytes.Equal(withLe[:len(noLe)], noLe) {
		t.Fatalf("stripped form should be a prefix of the full form")
	}
}

func TestParseResponseAPDU(t *testing.T) {
	raw := []byte{0x11, 0x22, 0x33, 0x90, 0x00}
	resp, err := ParseResponseAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SW() != 0x9000 {
		t.Fatalf("SW = %04X, want 9000", resp.SW())
	}
	if !bytes.Equal(resp.Data, []byte{0x11, 0x22, 0x33}) {
		t.Fatalf("unexpected data: % X", resp.Data)
	}
}

func TestParseResponseAPDUTooShort(t *testing.T) {
	if _, err := ParseResponseAPDU([]byte{0x90}); err == nil {
		t.Fatal("expected error for truncated response")
	}
}

func TestStatusTableLookupUnknown(t *testing.T) {
	tbl := NewStatusTable(map[uint16]StatusProperties{
		0x6A82: {"File not found", false, StatusDataAccess},
	})
	if p := tbl.Lookup(0x9000); !p.Successful {
		t.Fatal("0x9000 must always be successful")
	}
	if p := tbl.Lookup(0x6A82); p.Kind != StatusDataAccess {
		t.Fatalf("expected StatusDataAccess, got %v", p.Kind)
	}
	if p := tbl.Lookup(0x6F00); p.Kind != StatusUnknown {
		t.Fatalf("expected StatusUnknown for unmapped SW, got %v", p.Kind)
	}
}
