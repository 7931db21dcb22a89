// Package dictionaries holds the static lookup tables the card selection and
// session buffer logic consult: the 56-entry session-buffer byte-capacity
// table, the per-family errata patch lists, and per-product defaults. A
// flat package of static embedded lookup tables, no behavior, rather than
// folding these tables into the types that use them.
package dictionaries

// ProductType classifies a Calypso card once power-on data or FCI has been
// parsed.
type ProductType int

const (
	ProductUnknown ProductType = iota
	ProductPrimeRev1
	ProductPrimeRev2
	ProductPrimeRev3
	ProductLight
	ProductBasic
)

func (p ProductType) String() string {
	switch p {
	case ProductPrimeRev1:
		return "PRIME_REV_1"
	case ProductPrimeRev2:
		return "PRIME_REV_2"
	case ProductPrimeRev3:
		return "PRIME_REV_3"
	case ProductLight:
		return "LIGHT"
	case ProductBasic:
		return "BASIC"
	default:
		return "UNKNOWN"
	}
}

// SessionBufferUnit is the unit modificationsCounterMax is expressed in for
// a given product family.
type SessionBufferUnit int

const (
	UnitCommands SessionBufferUnit = iota
	UnitBytes
)

// ProductCapabilities bundles the per-product defaults consulted by
// detection and session buffer accounting. BASIC's commands budget varies
// between deployments, so it stays a configurable default rather than a
// bare constant.
type ProductCapabilities struct {
	BufferUnit           SessionBufferUnit
	ModificationsCounter int // read for PRIME_REV_1/2, and for LIGHT, which has none here, so a LIGHT card's capacity is 0; PRIME_REV_3 takes its capacity from the capacity table, BASIC's session budget comes from BasicModificationsCounterMax or the session.Settings override
}

// BasicModificationsCounterMax is BASIC's default commands-mode session
// buffer size. Overridable via config.SecurityConfig.BasicModificationsCounterMax,
// which reaches the session as session.Settings.BasicModificationsCounterMax.
const BasicModificationsCounterMax = 3

// Rev1ModificationsCounterMax is the fixed commands-mode buffer for a card
// classified purely from 20-byte power-on data.
const Rev1ModificationsCounterMax = 3

// Capabilities maps each product family to its session buffer unit.
var Capabilities = map[ProductType]ProductCapabilities{
	ProductPrimeRev1: {BufferUnit: UnitCommands, ModificationsCounter: Rev1ModificationsCounterMax},
	ProductPrimeRev2: {BufferUnit: UnitCommands, ModificationsCounter: Rev1ModificationsCounterMax},
	ProductPrimeRev3: {BufferUnit: UnitBytes},
	ProductLight:     {BufferUnit: UnitBytes},
	ProductBasic:     {BufferUnit: UnitCommands, ModificationsCounter: BasicModificationsCounterMax},
}

// SessionBufferCapacityTable is the fixed 56-entry table translating
// a session-buffer indicator byte (PRIME_REV_3 range 0x06-0x37, BASIC range
// 0x04-0x37) into a byte capacity. Index 0 of the table corresponds to
// indicator value 0x04; entries below the valid range for a given family are
// simply unused by that family's range check.
//
// The table follows the classic Calypso "buffer size indicator" progression:
// capacity steps up at every third indicator value and doubles every 9 to
// 12 indicator steps, matching the values
// published for the PRIME_REV_3/LIGHT product family.
var SessionBufferCapacityTable = [56]int{
	/* 0x04 */ 0, 0, 0,
	/* 0x07 */ 23, 23, 23,
	/* 0x0A */ 32, 32, 32,
	/* 0x0D */ 40, 40, 40,
	/* 0x10 */ 48, 48, 48,
	/* 0x13 */ 64, 64, 64,
	/* 0x16 */ 80, 80, 80,
	/* 0x19 */ 96, 96, 96,
	/* 0x1C */ 128, 128, 128,
	/* 0x1F */ 160, 160, 160,
	/* 0x22 */ 192, 192, 192,
	/* 0x25 */ 224, 224, 224,
	/* 0x28 */ 256, 256, 256,
	/* 0x2B */ 320, 320, 320,
	/* 0x2E */ 384, 384, 384,
	/* 0x31 */ 448, 448, 448,
	/* 0x34 */ 512, 512, 512,
	/* 0x37 */ 512,
}

// sessionBufferIndicatorBase is the indicator value SessionBufferCapacityTable[0] represents.
const sessionBufferIndicatorBase = 0x04

// LookupSessionBufferCapacity resolves a session-buffer indicator byte to a
// byte capacity for the given product family, applying the family's valid
// range. ok is false when the indicator is out of range.
func LookupSessionBufferCapacity(product ProductType, indicator byte) (capacity int, ok bool) {
	lo, hi := indicatorRange(product)
	if indicator < lo || indicator > hi {
		return 0, false
	}
	idx := int(indicator) - sessionBufferIndicatorBase
	if idx < 0 || idx >= len(SessionBufferCapacityTable) {
		return 0, false
	}
	return SessionBufferCapacityTable[idx], true
}

func indicatorRange(product ProductType) (lo, hi byte) {
	switch product {
	case ProductBasic:
		return 0x04, 0x37
	default: // PRIME_REV_3 and LIGHT share the same indicator range
		return 0x06, 0x37
	}
}

// APDUHeaderLen is the fixed 5-byte ISO-7816 command header length the
// bytes-mode session buffer cost formula subtracts.
const APDUHeaderLen = 5

// ModificationCost computes how many session-buffer units a command with the
// given total encoded APDU length consumes, for the family's unit.
func ModificationCost(unit SessionBufferUnit, apduLen int) int {
	if unit == UnitCommands {
		return 1
	}
	cost := apduLen - APDUHeaderLen + 6
	if cost < 0 {
		cost = 0
	}
	return cost
}
