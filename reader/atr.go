package reader

import (
	"encoding/hex"
	"fmt"
	"regexp"
)

// SamProductType classifies a SAM from its power-on data.
type SamProductType int

const (
	SamUnknown SamProductType = iota
	SamC1
	SamHscC1
	SamS1DX
	SamS1E1
)

func (p SamProductType) String() string {
	switch p {
	case SamC1:
		return "SAM_C1"
	case SamHscC1:
		return "HSM_C1"
	case SamS1DX:
		return "SAM_S1DX"
	case SamS1E1:
		return "SAM_S1E1"
	default:
		return "UNKNOWN"
	}
}

// samAtrPattern matches a SAM's power-on data on its hex representation;
// the 10 captured bytes carry the platform/type/issuer/version/serial
// fields. Case-insensitive since we encode the ATR in lowercase hex.
var samAtrPattern = regexp.MustCompile(`(?i)3B(?:.{6}|.{10})805A(.{20})829000`)

// SamATR holds the fields decoded from a SAM's power-on data.
type SamATR struct {
	Raw                []byte
	Platform           byte
	ApplicationType    byte
	ApplicationSubType byte
	SoftwareIssuer     byte
	SoftwareVersion    byte
	SoftwareRevision   byte
	SerialNumber       [4]byte
	Product            SamProductType
}

// DecodeSamATR parses a SAM's power-on data. An ATR that doesn't match
// the expected pattern yields an error; the caller should treat the SAM as
// unusable rather than guessing.
func DecodeSamATR(atr []byte) (*SamATR, error) {
	hexATR := hex.EncodeToString(atr)
	m := samAtrPattern.FindStringSubmatch(hexATR)
	if m == nil {
		return nil, fmt.Errorf("reader: power-on data does not match SAM ATR pattern: %s", hexATR)
	}

	captured, err := hex.DecodeString(m[1])
	if err != nil || len(captured) != 10 {
		return nil, fmt.Errorf("reader: malformed SAM ATR capture: %s", m[1])
	}

	info := &SamATR{
		Raw:                atr,
		Platform:           captured[0],
		ApplicationType:    captured[1],
		ApplicationSubType: captured[2],
		SoftwareIssuer:     captured[3],
		SoftwareVersion:    captured[4],
		SoftwareRevision:   captured[5],
	}
	copy(info.SerialNumber[:], captured[6:10])
	info.Product = classifySamSubType(info.ApplicationSubType, info.SoftwareIssuer)
	return info, nil
}

func classifySamSubType(subType, softwareIssuer byte) SamProductType {
	switch {
	case subType == 0xC1:
		if softwareIssuer == 0x08 {
			return SamHscC1
		}
		return SamC1
	case subType == 0xD0 || subType == 0xD1 || subType == 0xD2 || subType == 0xD7:
		return SamS1DX
	case subType == 0xE1:
		return SamS1E1
	default:
		return SamUnknown
	}
}
