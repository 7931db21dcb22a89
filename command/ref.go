// Package command implements the APDU command/response codec for the
// Calypso command set and the generic Command/Pipeline machinery. The
// layout is flat: one Ref enum, one status table per Ref, small free
// functions per command kind instead of a type per command.
package command

import "github.com/calypsonet/keyple-calypso-go/iso7816"

// Ref identifies a Calypso command kind.
type Ref int

const (
	RefOpenSecureSession Ref = iota
	RefCloseSecureSession
	RefReadRecords
	RefReadRecordMultiple
	RefSearchRecord
	RefUpdateRecord
	RefWriteRecord
	RefAppendRecord
	RefUpdateBinary
	RefWriteBinary
	RefReadBinary
	RefIncrease
	RefDecrease
	RefSvGet
	RefSvDebit
	RefSvReload
	RefSvUndebit
	RefVerifyPin
	RefChangePin
	RefChangeKey
	RefGetData
	RefSelectFile
	RefInvalidate
	RefRehabilitate
)

func (r Ref) String() string {
	switch r {
	case RefOpenSecureSession:
		return "OPEN_SECURE_SESSION"
	case RefCloseSecureSession:
		return "CLOSE_SECURE_SESSION"
	case RefReadRecords:
		return "READ_RECORDS"
	case RefReadRecordMultiple:
		return "READ_RECORD_MULTIPLE"
	case RefSearchRecord:
		return "SEARCH_RECORD_MULTIPLE"
	case RefUpdateRecord:
		return "UPDATE_RECORD"
	case RefWriteRecord:
		return "WRITE_RECORD"
	case RefAppendRecord:
		return "APPEND_RECORD"
	case RefUpdateBinary:
		return "UPDATE_BINARY"
	case RefWriteBinary:
		return "WRITE_BINARY"
	case RefReadBinary:
		return "READ_BINARY"
	case RefIncrease:
		return "INCREASE"
	case RefDecrease:
		return "DECREASE"
	case RefSvGet:
		return "SV_GET"
	case RefSvDebit:
		return "SV_DEBIT"
	case RefSvReload:
		return "SV_RELOAD"
	case RefSvUndebit:
		return "SV_UNDEBIT"
	case RefVerifyPin:
		return "VERIFY_PIN"
	case RefChangePin:
		return "CHANGE_PIN"
	case RefChangeKey:
		return "CHANGE_KEY"
	case RefGetData:
		return "GET_DATA"
	case RefSelectFile:
		return "SELECT_FILE"
	case RefInvalidate:
		return "INVALIDATE"
	case RefRehabilitate:
		return "REHABILITATE"
	default:
		return "UNKNOWN"
	}
}

// Instruction bytes for the Calypso command set. CLA is supplied
// separately: 0x00 ISO / 0x94 LEGACY for cards, 0x80/0x94 for SAMs.
const (
	InsOpenSecureSession  byte = 0x8A
	InsCloseSecureSession byte = 0x8E
	InsReadRecords        byte = 0xB2
	InsSearchRecord       byte = 0xA2
	InsUpdateRecord       byte = 0xDC
	InsWriteRecord        byte = 0xD2
	InsAppendRecord       byte = 0xE2
	InsUpdateBinary       byte = 0xD6
	InsWriteBinary        byte = 0xD0
	InsReadBinary         byte = 0xB0
	InsIncrease           byte = 0x32
	InsDecrease           byte = 0x30
	InsSvGet              byte = 0x7C
	InsSvDebit            byte = 0xBA
	InsSvReload           byte = 0xB8
	InsSvUndebit          byte = 0xBC
	InsVerifyPin          byte = 0x20
	InsChangePin          byte = 0xD8
	InsChangeKey          byte = 0xD8
	InsGetData            byte = 0xCA
	InsSelectFile         byte = 0xA4
	InsInvalidate         byte = 0x04
	InsRehabilitate       byte = 0x44
)

// P2 operation codes for SV Get.
const (
	P2SvGetReload byte = 0xB8
	P2SvGetDebit  byte = 0xBA
)

// commonErrors is merged, per command, by NewStatusTableFor so that every
// command carries the common Calypso error entries in addition to its own.
var commonErrors = map[uint16]iso7816.StatusProperties{
	0x6700: {Message: "Incorrect Lc/Le", Successful: false, Kind: iso7816.StatusIllegalParameter},
	0x6A80: {Message: "Incorrect command data", Successful: false, Kind: iso7816.StatusIllegalParameter},
	0x6A82: {Message: "File not found", Successful: false, Kind: iso7816.StatusDataAccess},
	0x6A83: {Message: "Record not found", Successful: false, Kind: iso7816.StatusDataAccess},
	0x6A86: {Message: "Incorrect P1-P2", Successful: false, Kind: iso7816.StatusIllegalParameter},
	0x6981: {Message: "Command incompatible with file structure", Successful: false, Kind: iso7816.StatusDataAccess},
	0x6982: {Message: "Security conditions not fulfilled", Successful: false, Kind: iso7816.StatusSecurityContext},
	0x6985: {Message: "Access forbidden", Successful: false, Kind: iso7816.StatusAccessForbidden},
	0x6988: {Message: "Incorrect security data", Successful: false, Kind: iso7816.StatusSecurityData},
	0x6283: {Message: "Invalidated DF", Successful: false, Kind: iso7816.StatusAccessForbidden},
}

// NewStatusTableFor builds a command's status table from the common error
// set plus the command-specific overrides/additions.
func NewStatusTableFor(overrides map[uint16]iso7816.StatusProperties) iso7816.StatusTable {
	merged := make(map[uint16]iso7816.StatusProperties, len(commonErrors)+len(overrides))
	for sw, p := range commonErrors {
		merged[sw] = p
	}
	for sw, p := range overrides {
		merged[sw] = p
	}
	return iso7816.NewStatusTable(merged)
}
