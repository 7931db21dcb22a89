package command

import "github.com/calypsonet/keyple-calypso-go/iso7816"

// Per-command status tables, immutable per command type. Each starts from
// commonErrors via NewStatusTableFor and adds the entries specific to that
// command kind.

// OpenSecureSessionStatusTable covers Open Secure Session's own SWs.
func OpenSecureSessionStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6985: {Message: "Session already open, or access forbidden", Successful: false, Kind: iso7816.StatusAccessForbidden},
		0x6A81: {Message: "Wrong key index", Successful: false, Kind: iso7816.StatusIllegalParameter},
	})
}

// CloseSecureSessionStatusTable covers Close Secure Session's own SWs.
func CloseSecureSessionStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6988: {Message: "Bad terminal session MAC", Successful: false, Kind: iso7816.StatusSecurityData},
		0x6200: {Message: "Successful, post-processing postponed", Successful: true, Kind: iso7816.StatusWarning},
	})
}

// ReadRecordsStatusTable covers Read Records / Read Record Multiple /
// Search Record.
func ReadRecordsStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6A83: {Message: "Record not found", Successful: false, Kind: iso7816.StatusDataAccess},
	})
}

// UpdateOrWriteRecordStatusTable covers Update/Write/Append Record.
func UpdateOrWriteRecordStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6A87: {Message: "Lc inconsistent with P1-P2", Successful: false, Kind: iso7816.StatusIllegalParameter},
	})
}

// BinaryStatusTable covers Read/Update/Write Binary.
func BinaryStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6B00: {Message: "Offset out of range", Successful: false, Kind: iso7816.StatusDataAccess},
	})
}

// CounterStatusTable covers Increase/Decrease. When postponed is true,
// 0x6200 is whitelisted as a successful "postponed response"; otherwise
// 0x6200 is not in the table and looks up as an unknown status.
func CounterStatusTable(postponed bool) iso7816.StatusTable {
	overrides := map[uint16]iso7816.StatusProperties{
		0x6400: {Message: "Counter underflow/overflow", Successful: false, Kind: iso7816.StatusDataAccess},
	}
	if postponed {
		overrides[0x6200] = iso7816.StatusProperties{Message: "Counter value postponed to session close", Successful: true, Kind: iso7816.StatusWarning}
	}
	return NewStatusTableFor(overrides)
}

// SvGetStatusTable covers SV Get.
func SvGetStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6A81: {Message: "Incorrect P1 (extended mode mismatch)", Successful: false, Kind: iso7816.StatusIllegalParameter},
	})
}

// SvOperationStatusTable covers SV Debit/Reload/Undebit.
func SvOperationStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6988: {Message: "Bad SV MAC", Successful: false, Kind: iso7816.StatusSecurityData},
		0x6400: {Message: "SV balance would go negative", Successful: false, Kind: iso7816.StatusDataAccess},
	})
}

// VerifyPinStatusTable covers Verify PIN. 0x63Cx statuses (x = remaining
// attempts) are not listed, so they look up as unknown statuses.
func VerifyPinStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6983: {Message: "PIN blocked", Successful: false, Kind: iso7816.StatusAccessForbidden},
	})
}

// ChangePinStatusTable covers Change PIN.
func ChangePinStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6988: {Message: "Bad enciphered PIN data", Successful: false, Kind: iso7816.StatusSecurityData},
	})
}

// ChangeKeyStatusTable covers Change Key.
func ChangeKeyStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6988: {Message: "Bad ciphered key block", Successful: false, Kind: iso7816.StatusSecurityData},
	})
}

// GetDataStatusTable covers Get Data.
func GetDataStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6A88: {Message: "Referenced data not found", Successful: false, Kind: iso7816.StatusDataAccess},
	})
}

// SelectFileStatusTable covers Select File.
func SelectFileStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(map[uint16]iso7816.StatusProperties{
		0x6A82: {Message: "File not found", Successful: false, Kind: iso7816.StatusDataAccess},
	})
}

// InvalidateOrRehabilitateStatusTable covers Invalidate/Rehabilitate.
func InvalidateOrRehabilitateStatusTable() iso7816.StatusTable {
	return NewStatusTableFor(nil)
}
