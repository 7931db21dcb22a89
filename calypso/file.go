// Package calypso implements the in-memory Calypso card image and
// product/patch classification. It has no knowledge of the wire format
// (package iso7816/tlv/command) or of the secure session state machine
// (package session) — it is a pure data structure with snapshot/rollback
// support, a file set addressable by SFI or LID covering Calypso's five
// EF types.
package calypso

import "github.com/calypsonet/keyple-calypso-go/calypsoerr"

// EFType is the Elementary File content discipline.
type EFType int

const (
	EFTypeBinary EFType = iota
	EFTypeLinear
	EFTypeCyclic
	EFTypeSimulatedCounters
	EFTypeCounters
)

// FileHeader describes an EF's static attributes, filled in piecemeal as
// Select File / GET DATA responses arrive; missing fields only are
// filled, known values are never overwritten.
type FileHeader struct {
	LID               uint16
	Type              EFType
	RecordSize        int
	RecordCount       int
	AccessConditions  [4]byte
	KeyIndexes        [4]byte
	DFStatus          byte
	SharedReference   byte
	HasLID            bool
	HasType           bool
	HasRecordSize     bool
	HasRecordCount    bool
	HasAccessCond     bool
	HasKeyIndexes     bool
	HasDFStatus       bool
	HasSharedRef      bool
}

// ElementaryFile is one EF in the card image, keyed by SFI and/or LID.
type ElementaryFile struct {
	SFI    byte
	Header FileHeader

	// Records holds record-file content (LINEAR, BINARY used as a
	// single-record file, SIMULATED_COUNTERS) keyed by 1-based record number.
	Records map[int][]byte

	// CyclicRecords holds a CYCLIC file's records in insertion order, index 0
	// being record 1, the newest.
	CyclicRecords [][]byte
}

func newElementaryFile(sfi byte) *ElementaryFile {
	return &ElementaryFile{SFI: sfi, Records: make(map[int][]byte)}
}

// clone deep-copies an EF for snapshot/rollback.
func (f *ElementaryFile) clone() *ElementaryFile {
	c := &ElementaryFile{SFI: f.SFI, Header: f.Header}
	c.Records = make(map[int][]byte, len(f.Records))
	for k, v := range f.Records {
		cp := make([]byte, len(v))
		copy(cp, v)
		c.Records[k] = cp
	}
	c.CyclicRecords = make([][]byte, len(f.CyclicRecords))
	for i, v := range f.CyclicRecords {
		cp := make([]byte, len(v))
		copy(cp, v)
		c.CyclicRecords[i] = cp
	}
	return c
}

// GetFileBySfi returns the EF registered under sfi, or nil.
func (c *CalypsoCard) GetFileBySfi(sfi byte) *ElementaryFile {
	if sfi == 0 {
		return nil
	}
	return c.filesBySfi[sfi]
}

// GetFileByLid returns the EF registered under lid, or nil.
func (c *CalypsoCard) GetFileByLid(lid uint16) *ElementaryFile {
	return c.filesByLid[lid]
}

// GetOrCreateFile resolves or creates an EF: sfi==0 && lid==0
// returns the current EF (error if none); otherwise look up by whichever
// key is non-zero, creating a fresh EF if absent, and set it current.
func (c *CalypsoCard) GetOrCreateFile(sfi byte, lid uint16) (*ElementaryFile, error) {
	if sfi == 0 && lid == 0 {
		if c.CurrentEF == nil {
			return nil, calypsoerr.NewCardDataAccess("no current EF selected", 0)
		}
		return c.CurrentEF, nil
	}

	var ef *ElementaryFile
	if sfi != 0 {
		ef = c.filesBySfi[sfi]
	} else {
		ef = c.filesByLid[lid]
	}
	if ef == nil {
		ef = newElementaryFile(sfi)
		c.registerFile(ef)
		if lid != 0 {
			ef.Header.LID = lid
			ef.Header.HasLID = true
			c.filesByLid[lid] = ef
		}
	}
	c.CurrentEF = ef
	return ef, nil
}

func (c *CalypsoCard) registerFile(ef *ElementaryFile) {
	if ef.SFI != 0 {
		c.filesBySfi[ef.SFI] = ef
	}
	if ef.Header.HasLID {
		c.filesByLid[ef.Header.LID] = ef
	}
	c.Files = append(c.Files, ef)
}

// SetFileHeader attaches or merges a header onto the EF identified by sfi,
// filling only fields not already known.
func (c *CalypsoCard) SetFileHeader(sfi byte, header FileHeader) error {
	ef, err := c.GetOrCreateFile(sfi, header.LID)
	if err != nil {
		return err
	}
	mergeHeader(&ef.Header, header)
	if header.HasLID && !c.filesByLidHas(header.LID) {
		c.filesByLid[header.LID] = ef
	}
	return nil
}

func (c *CalypsoCard) filesByLidHas(lid uint16) bool {
	_, ok := c.filesByLid[lid]
	return ok
}

func mergeHeader(dst *FileHeader, src FileHeader) {
	if src.HasLID && !dst.HasLID {
		dst.LID, dst.HasLID = src.LID, true
	}
	if src.HasType && !dst.HasType {
		dst.Type, dst.HasType = src.Type, true
	}
	if src.HasRecordSize && !dst.HasRecordSize {
		dst.RecordSize, dst.HasRecordSize = src.RecordSize, true
	}
	if src.HasRecordCount && !dst.HasRecordCount {
		dst.RecordCount, dst.HasRecordCount = src.RecordCount, true
	}
	if src.HasAccessCond && !dst.HasAccessCond {
		dst.AccessConditions, dst.HasAccessCond = src.AccessConditions, true
	}
	if src.HasKeyIndexes && !dst.HasKeyIndexes {
		dst.KeyIndexes, dst.HasKeyIndexes = src.KeyIndexes, true
	}
	if src.HasDFStatus && !dst.HasDFStatus {
		dst.DFStatus, dst.HasDFStatus = src.DFStatus, true
	}
	if src.HasSharedRef && !dst.HasSharedRef {
		dst.SharedReference, dst.HasSharedRef = src.SharedReference, true
	}
}

// SetContent creates the file if absent, then writes
// bytes at offset within the record, zero-padding any gap.
func (c *CalypsoCard) SetContent(sfi byte, recordNum int, data []byte, offset int) error {
	ef, err := c.GetOrCreateFile(sfi, 0)
	if err != nil {
		return err
	}
	existing := ef.Records[recordNum]
	needed := offset + len(data)
	if len(existing) < needed {
		grown := make([]byte, needed)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)
	ef.Records[recordNum] = existing
	return nil
}

// FillContent byte-wise ORs data with the existing
// content, extending the record if necessary.
func (c *CalypsoCard) FillContent(sfi byte, recordNum int, data []byte, offset int) error {
	ef, err := c.GetOrCreateFile(sfi, 0)
	if err != nil {
		return err
	}
	existing := ef.Records[recordNum]
	needed := offset + len(data)
	if len(existing) < needed {
		grown := make([]byte, needed)
		copy(grown, existing)
		existing = grown
	}
	for i, b := range data {
		existing[offset+i] |= b
	}
	ef.Records[recordNum] = existing
	return nil
}

// SetCounter writes a 3-byte counter value at
// byte offset 3(n-1) of record 1.
func (c *CalypsoCard) SetCounter(sfi byte, counterNum int, value [3]byte) error {
	return c.SetContent(sfi, 1, value[:], 3*(counterNum-1))
}

// AddCyclicContent shifts records 1->2,
// 2->3, ..., inserting bytes at record 1 (newest first).
func (c *CalypsoCard) AddCyclicContent(sfi byte, data []byte) error {
	ef, err := c.GetOrCreateFile(sfi, 0)
	if err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ef.CyclicRecords = append([][]byte{cp}, ef.CyclicRecords...)
	return nil
}
