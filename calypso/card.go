package calypso

import "github.com/calypsonet/keyple-calypso-go/dictionaries"

// WriteAccessLevel is the secure session access level a card was opened
// under.
type WriteAccessLevel int

const (
	AccessLevelPerso WriteAccessLevel = iota
	AccessLevelLoad
	AccessLevelDebit
)

// FeatureFlags are the per-card capability bits read from the FCI.
type FeatureFlags struct {
	ExtendedMode            bool
	RatificationOnDeselect  bool
	SV                      bool
	PIN                     bool
	PKI                     bool
}

// DirectoryHeader is the selected DF's header fields, filled from the FCI.
type DirectoryHeader struct {
	DFName      []byte
	AccessConditions [4]byte
	KeyIndexes       [4]byte
	LID              uint16
}

// DynamicFields are the optional, session-lifetime fields of the image
// ("optional dynamic fields").
type DynamicFields struct {
	PinAttemptCounter   int
	HasPinAttemptCounter bool
	SvBalance           int32
	HasSvBalance        bool
	SvLastTNum          int
	SvKvc               byte
	SvGetHeader         []byte
	SvGetData           []byte
	SvPostponedIndex    int
	IsSvInSession       bool
	Challenge           []byte
	TraceabilityInfo    []byte
}

// CalypsoCard is the in-memory mirror of a selected Calypso application.
type CalypsoCard struct {
	ProductType  dictionaries.ProductType
	ClassByte    byte // iso7816.ClassLegacy or iso7816.ClassISO
	SerialNumber [8]byte
	DFAID        []byte // 1-16 bytes
	StartupInfo  [7]byte
	Features     FeatureFlags
	DFInvalidated bool
	HCE           bool

	// SessionModificationCapacity is modificationsCounterMax, in the unit
	// dictionaries.ProductCapabilities.BufferUnit specifies for ProductType.
	SessionModificationCapacity int
	MaxAPDUPayloadCapacity      int

	DirHeader DirectoryHeader
	Files     []*ElementaryFile
	CurrentEF *ElementaryFile

	Dynamic DynamicFields

	// PatchEffects applied at detection time; kept so the session
	// buffer accounting and command codecs can consult
	// CounterValuePostponed/LegacyCase1Quirk without re-walking the patch
	// tables.
	Patch dictionaries.PatchEffects

	filesBySfi map[byte]*ElementaryFile
	filesByLid map[uint16]*ElementaryFile

	shadow *cardSnapshot
}

// New builds an empty card image, ready for product detection to populate.
func New() *CalypsoCard {
	return &CalypsoCard{
		filesBySfi: make(map[byte]*ElementaryFile),
		filesByLid: make(map[uint16]*ElementaryFile),
	}
}

// cardSnapshot is the deep-cloned state backupFiles/restoreFiles swap.
type cardSnapshot struct {
	files      []*ElementaryFile
	filesBySfi map[byte]*ElementaryFile
	filesByLid map[uint16]*ElementaryFile
	currentEF  *ElementaryFile
	dynamic    DynamicFields
}

// BackupFiles deep-clones the file set and SV-relevant dynamic fields into
// a shadow snapshot, to be restored by RestoreFiles on session abort.
func (c *CalypsoCard) BackupFiles() {
	snap := &cardSnapshot{
		filesBySfi: make(map[byte]*ElementaryFile, len(c.filesBySfi)),
		filesByLid: make(map[uint16]*ElementaryFile, len(c.filesByLid)),
		dynamic:    c.Dynamic,
	}

	clones := make(map[*ElementaryFile]*ElementaryFile, len(c.Files))
	for _, ef := range c.Files {
		cl := ef.clone()
		clones[ef] = cl
		snap.files = append(snap.files, cl)
	}
	for sfi, ef := range c.filesBySfi {
		snap.filesBySfi[sfi] = clones[ef]
	}
	for lid, ef := range c.filesByLid {
		snap.filesByLid[lid] = clones[ef]
	}
	if c.CurrentEF != nil {
		snap.currentEF = clones[c.CurrentEF]
	}

	c.shadow = snap
}

// RestoreFiles rolls the file set and SV dynamic fields back to the last
// BackupFiles snapshot. Restoring with no snapshot taken is a no-op, so a
// transaction that never opened a session has nothing to roll back.
func (c *CalypsoCard) RestoreFiles() {
	if c.shadow == nil {
		return
	}
	c.Files = c.shadow.files
	c.filesBySfi = c.shadow.filesBySfi
	c.filesByLid = c.shadow.filesByLid
	c.CurrentEF = c.shadow.currentEF
	c.Dynamic = c.shadow.dynamic
	c.shadow = nil
}

// HasSnapshot reports whether a BackupFiles snapshot is currently held.
func (c *CalypsoCard) HasSnapshot() bool { return c.shadow != nil }
