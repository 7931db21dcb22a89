package command

import "github.com/calypsonet/keyple-calypso-go/calypsoerr"

// OpenSessionData is the common shape every Open Secure Session response
// variant decodes into.
type OpenSessionData struct {
	Challenge                 [3]byte
	KIF                       byte
	KVC                       byte
	Ratified                  bool
	ManageSecureSessionAllowed bool // rev3 extended only; true for other variants
	TransactionCounter        uint32
	RecordDataOut             []byte
}

// DecodeOpenSessionRev3NonExtended parses `[3-byte challenge][1-byte
// ratified-flag][1-byte KIF][1-byte KVC][1-byte dataLen][data]`.
func DecodeOpenSessionRev3NonExtended(data []byte) (*OpenSessionData, error) {
	if len(data) < 7 {
		return nil, calypsoerr.NewCardUnexpectedResponseLength("open session rev3 non-extended: too short")
	}
	dataLen := int(data[6])
	if len(data) < 7+dataLen {
		return nil, calypsoerr.NewCardUnexpectedResponseLength("open session rev3 non-extended: truncated record data")
	}
	d := &OpenSessionData{KIF: data[4], KVC: data[5], Ratified: data[3] == 0, ManageSecureSessionAllowed: true}
	copy(d.Challenge[:], data[0:3])
	d.RecordDataOut = append([]byte{}, data[7:7+dataLen]...)
	return d, nil
}

// DecodeOpenSessionRev3Extended parses `[3-byte challenge][4-byte
// transaction counter][1-byte flags][1-byte KIF][1-byte KVC][1-byte
// dataLen][data]`. ratified = flags&1==0; manageSessionAllowed =
// flags&2!=0.
func DecodeOpenSessionRev3Extended(data []byte) (*OpenSessionData, error) {
	if len(data) < 11 {
		return nil, calypsoerr.NewCardUnexpectedResponseLength("open session rev3 extended: too short")
	}
	dataLen := int(data[10])
	if len(data) < 11+dataLen {
		return nil, calypsoerr.NewCardUnexpectedResponseLength("open session rev3 extended: truncated record data")
	}
	flags := data[7]
	d := &OpenSessionData{
		KIF:                        data[8],
		KVC:                        data[9],
		Ratified:                   flags&0x01 == 0,
		ManageSecureSessionAllowed: flags&0x02 != 0,
		TransactionCounter:         uint32(data[3])<<24 | uint32(data[4])<<16 | uint32(data[5])<<8 | uint32(data[6]),
	}
	copy(d.Challenge[:], data[0:3])
	d.RecordDataOut = append([]byte{}, data[11:11+dataLen]...)
	return d, nil
}

// DecodeOpenSessionRev24 parses the rev 2.4 variant: legal lengths
// {5,34,7,36}; ratified iff 5 or 34; 29 bytes of optional record data at
// offset 5 (ratified) or 7 (not ratified). Layout: challenge(3) + KIF(1) +
// KVC(1), plus 2 extra bytes when not ratified, plus the optional 29-byte
// record data.
func DecodeOpenSessionRev24(data []byte) (*OpenSessionData, error) {
	switch len(data) {
	case 5, 34, 7, 36:
	default:
		return nil, calypsoerr.NewCardUnexpectedResponseLength("open session rev2.4: illegal length")
	}
	ratified := len(data) == 5 || len(data) == 34
	base := 5
	if !ratified {
		base = 7
	}
	d := &OpenSessionData{KIF: data[3], KVC: data[4], Ratified: ratified, ManageSecureSessionAllowed: true}
	copy(d.Challenge[:], data[0:3])
	if len(data) == base+29 {
		d.RecordDataOut = append([]byte{}, data[base:base+29]...)
	}
	return d, nil
}

// DecodeOpenSessionRev10 parses the rev 1.0 variant: legal lengths
// {4,33,6,35}; ratified iff 4 or 33; 29 bytes of optional data at offset 4
// (ratified) or 6 (not ratified). The single key byte after the challenge
// is read as the KVC; rev 1.0 responses carry no KIF, and key resolution
// on these cards goes through the KVC alone.
func DecodeOpenSessionRev10(data []byte) (*OpenSessionData, error) {
	switch len(data) {
	case 4, 33, 6, 35:
	default:
		return nil, calypsoerr.NewCardUnexpectedResponseLength("open session rev1.0: illegal length")
	}
	ratified := len(data) == 4 || len(data) == 33
	base := 4
	if !ratified {
		base = 6
	}
	d := &OpenSessionData{KVC: data[3], Ratified: ratified, ManageSecureSessionAllowed: true}
	copy(d.Challenge[:], data[0:3])
	if len(data) == base+29 {
		d.RecordDataOut = append([]byte{}, data[base:base+29]...)
	}
	return d, nil
}

// SvGetData is the decoded content of an SV Get response: current KVC,
// 8-byte SV-Get header, balance, last-transaction number, and the trailing
// debit/load log records. Layout: challenge(3) + KVC(1) + lastTNum(2,
// big-endian) + balance(3, big-endian two's complement) + header(8) +
// trailing log records (variable).
type SvGetData struct {
	Challenge  [3]byte
	KVC        byte
	LastTNum   int
	Balance    int32
	Header     [8]byte
	LogRecords []byte
}

// DecodeSvGetResponse parses an SV Get response per SvGetData's layout.
func DecodeSvGetResponse(data []byte) (*SvGetData, error) {
	const minLen = 3 + 1 + 2 + 3 + 8
	if len(data) < minLen {
		return nil, calypsoerr.NewCardUnexpectedResponseLength("sv get: too short")
	}
	d := &SvGetData{}
	copy(d.Challenge[:], data[0:3])
	d.KVC = data[3]
	d.LastTNum = int(data[4])<<8 | int(data[5])
	d.Balance = signExtend24(data[6], data[7], data[8])
	copy(d.Header[:], data[9:17])
	d.LogRecords = append([]byte{}, data[17:]...)
	return d, nil
}

func signExtend24(b0, b1, b2 byte) int32 {
	v := int32(b0)<<16 | int32(b1)<<8 | int32(b2)
	if v&0x800000 != 0 {
		v |= -1 << 24 // sign-extend the 24-bit two's complement value
	}
	return v
}
