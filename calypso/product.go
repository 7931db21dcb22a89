package calypso

import (
	"encoding/binary"

	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/iso7816"
	"github.com/calypsonet/keyple-calypso-go/tlv"
)

// Tags read out of the FCI proprietary template.
const (
	tagDFName         uint16 = 0x84
	tagFCIProprietary uint16 = 0xA5
	tagFCIIssuerData  uint16 = 0x53 // discretionary data: 7-byte startup info
	tagApplicationSN  uint16 = 0xC7
)

// DetectFromPowerOnData classifies a card from 20 bytes of raw power-on data
// alone, with no FCI available.
func DetectFromPowerOnData(atr []byte) (*CalypsoCard, error) {
	if len(atr) != 20 {
		return nil, calypsoerr.NewCardDataAccess("power-on data must be exactly 20 bytes", 0)
	}

	c := New()
	c.ProductType = dictionaries.ProductPrimeRev1
	c.ClassByte = iso7816.ClassLegacy

	copy(c.SerialNumber[4:8], atr[12:16])

	c.StartupInfo[0] = byte(dictionaries.Rev1ModificationsCounterMax)
	copy(c.StartupInfo[1:7], atr[6:12])

	c.SessionModificationCapacity = dictionaries.Rev1ModificationsCounterMax
	c.applyPatches()
	return c, nil
}

// DetectFromFCI classifies a card from a Select File (AID) response's FCI
// template: DF name, application serial number and the 7-byte startup info
// are pulled out of their tags, then the startup info drives the product
// classification and patch application.
func DetectFromFCI(fci []byte) (*CalypsoCard, error) {
	dfName, _ := tlv.Find(fci, tagDFName)
	serial, _ := tlv.Find(fci, tagApplicationSN)
	startup, ok := tlv.Find(fci, tagFCIIssuerData)
	if !ok || len(startup) != 7 {
		return nil, calypsoerr.NewCardDataAccess("FCI missing 7-byte startup info", 0)
	}

	c := New()
	c.DFAID = dfName
	copy(c.StartupInfo[:], startup)
	if len(serial) >= 8 {
		copy(c.SerialNumber[:], serial[len(serial)-8:])
	} else {
		copy(c.SerialNumber[8-len(serial):], serial)
	}
	c.ClassByte = iso7816.ClassISO

	applicationType := startup[2]
	applicationSubType := startup[3]

	switch {
	case applicationType == 0x00:
		return nil, calypsoerr.NewCardIllegalParameter("applicationType 0 is invalid", 0)
	case applicationType == 0xFF:
		c.ProductType = dictionaries.ProductUnknown
	case applicationType <= 0x1F:
		c.ProductType = dictionaries.ProductPrimeRev2
	case applicationType >= 0x90 && applicationType <= 0x97:
		c.ProductType = dictionaries.ProductLight
	case applicationType >= 0x98 && applicationType <= 0x9F:
		c.ProductType = dictionaries.ProductBasic
	default:
		c.ProductType = dictionaries.ProductPrimeRev3
	}

	if applicationSubType == 0x00 || applicationSubType == 0xFF {
		return nil, calypsoerr.NewCardIllegalParameter("applicationSubType 0x00/0xFF is invalid", 0)
	}

	switch c.ProductType {
	case dictionaries.ProductPrimeRev3:
		c.Features.ExtendedMode = applicationType&0x08 != 0
		c.Features.RatificationOnDeselect = applicationType&0x04 == 0
		c.Features.PKI = applicationType&0x10 != 0
		c.Features.SV = applicationType&0x02 != 0
		c.Features.PIN = applicationType&0x01 != 0
	case dictionaries.ProductPrimeRev2:
		c.Features.SV = applicationType&0x02 != 0
		c.Features.PIN = applicationType&0x01 != 0
	}

	if c.ProductType == dictionaries.ProductPrimeRev3 || c.ProductType == dictionaries.ProductBasic {
		indicator := startup[0]
		cap, ok := dictionaries.LookupSessionBufferCapacity(c.ProductType, indicator)
		if !ok {
			return nil, calypsoerr.NewCardIllegalParameter("session-buffer indicator out of range", 0)
		}
		c.SessionModificationCapacity = cap
	} else if caps, ok := dictionaries.Capabilities[c.ProductType]; ok {
		c.SessionModificationCapacity = caps.ModificationsCounter
	}

	c.HCE = c.SerialNumber[3]&0x80 != 0

	c.applyPatches()
	return c, nil
}

// applyPatches iterates the matched family's patch table, applying the
// first match and stopping. Applying patches never mutates the
// pattern/mask table.
func (c *CalypsoCard) applyPatches() {
	startupInfoAsLong := binary.BigEndian.Uint64(append([]byte{0}, c.StartupInfo[:]...))
	patches := dictionaries.PatchesForFamily(c.ProductType)
	patch, ok := dictionaries.MatchPatch(patches, startupInfoAsLong)
	if !ok {
		return
	}
	c.Patch = patch.Effects
	if patch.Effects.PayloadCapacityOverride > 0 {
		c.MaxAPDUPayloadCapacity = patch.Effects.PayloadCapacityOverride
	}
}
