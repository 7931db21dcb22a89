package dictionaries

// PatchEffects carries the per-card overrides a matched Patch applies on top
// of the generic product classification.
type PatchEffects struct {
	PayloadCapacityOverride int  // 0 means "no override"
	CounterValuePostponed   bool // Increase/Decrease response is postponed to session close
	LegacyCase1Quirk        bool // card expects case-1 (no Le) framing on commands that would otherwise be case-2
}

// Patch is one errata entry: applied when (startupInfo & Mask) == Pattern,
// startupInfo read as a big-endian integer over its 7 bytes.
type Patch struct {
	Name    string
	Pattern uint64
	Mask    uint64
	Effects PatchEffects
}

// Rev3Patches is iterated, in order, for cards classified as PRIME_REV_3 or
// LIGHT. The first matching entry applies and iteration stops.
var Rev3Patches = []Patch{
	{
		Name:    "rev3-small-payload-errata",
		Pattern: 0x00_06_00_00_00_00_00,
		Mask:    0xFF_FF_00_00_00_00_00,
		Effects: PatchEffects{PayloadCapacityOverride: 235},
	},
	{
		Name:    "rev3-postponed-counter-errata",
		Pattern: 0x00_07_00_00_00_00_00,
		Mask:    0xFF_FF_00_00_00_00_00,
		Effects: PatchEffects{CounterValuePostponed: true},
	},
}

// Rev12Patches is iterated, in order, for cards classified as PRIME_REV_1 or
// PRIME_REV_2. The first matching entry applies and iteration stops.
var Rev12Patches = []Patch{
	{
		Name:    "rev2-postponed-counter-errata",
		Pattern: 0x00_06_0A_01_02_00_00_00,
		Mask:    0x00_FF_FF_FF_FF_00_00_00,
		Effects: PatchEffects{CounterValuePostponed: true},
	},
	{
		Name:    "rev1-legacy-case1-errata",
		Pattern: 0x00_00_00_00_00_00_00,
		Mask:    0xFF_00_00_00_00_00_00,
		Effects: PatchEffects{LegacyCase1Quirk: true},
	},
}

// MatchPatch returns the first patch, from the given family table, whose
// pattern matches startupInfo, and whether one matched at all.
func MatchPatch(patches []Patch, startupInfo uint64) (Patch, bool) {
	for _, p := range patches {
		if startupInfo&p.Mask == p.Pattern {
			return p, true
		}
	}
	return Patch{}, false
}

// PatchesForFamily selects the patch table for a classified product type.
func PatchesForFamily(product ProductType) []Patch {
	switch product {
	case ProductPrimeRev3, ProductLight:
		return Rev3Patches
	case ProductPrimeRev1, ProductPrimeRev2:
		return Rev12Patches
	default:
		return nil
	}
}
