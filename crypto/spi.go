// Package crypto defines the narrow contract the engine consumes from the
// SAM side. It holds interfaces only — no
// implementation: the production SAM cryptography is out of scope, and
// package samsim supplies a software reference implementation used by
// tests and the CLI's simulated-SAM mode.
package crypto

// SvOperation distinguishes the Stored-Value operation an SV Get or
// modifying command is bound to.
type SvOperation int

const (
	SvOperationReload SvOperation = iota
	SvOperationDebit
	SvOperationUndebit
)

// SvSecurityContext bundles the fields GenerateSvCommandSecurityData needs:
// SV Get header/data plus the modifying command's own parameters.
type SvSecurityContext struct {
	Operation   SvOperation
	GetHeader   []byte
	GetData     []byte
	Amount      int32
	Date        [2]byte
	Time        [2]byte
	Free        [2]byte
	KVC         byte
}

// SessionCryptoService is the symmetric-key Crypto SPI the session state
// machine drives. Implementations talk to a real SAM over its
// own reader, or (samsim) simulate one entirely in software.
type SessionCryptoService interface {
	// InitTerminalSessionContext is called before each Open Secure Session
	// and returns the 8-byte terminal challenge to place in its data-in.
	InitTerminalSessionContext() ([]byte, error)

	// InitTerminalSessionMac is called on parse of Open Secure Session with
	// the card's OSS response data and the selected KIF/KVC.
	InitTerminalSessionMac(openSessionRespData []byte, kif, kvc byte) error

	// UpdateTerminalSessionMac feeds one card APDU (C or R) into the running
	// MAC digest, in transmission order.
	UpdateTerminalSessionMac(apdu []byte) error

	// FinalizeTerminalSessionMac is called when preparing Close Secure
	// Session and returns the terminal's 4- or 8-byte signature.
	FinalizeTerminalSessionMac() ([]byte, error)

	// VerifyCardSessionMac is called on parse of Close Secure Session with
	// the card's returned MAC.
	VerifyCardSessionMac(cardMac []byte) (bool, error)

	// CipherPinForVerify enciphers a plaintext PIN for an enciphered Verify
	// PIN command.
	CipherPinForVerify(cardChallenge, plainPin []byte, kif, kvc byte) ([]byte, error)

	// CipherPinForChange enciphers old and new PINs for an enciphered
	// Change PIN command.
	CipherPinForChange(cardChallenge, oldPin, newPin []byte, kif, kvc byte) ([]byte, error)

	// GenerateSvCommandSecurityData signs an SV Debit/Reload/Undebit's
	// data-in from the fields accumulated by the preceding SV Get.
	GenerateSvCommandSecurityData(ctx SvSecurityContext) ([]byte, error)

	// VerifyCardSvMac verifies the card's returned SV operation MAC.
	VerifyCardSvMac(mac []byte) (bool, error)

	// CipherCardKey produces the ciphered key block for a Change Key
	// command.
	CipherCardKey(challenge []byte, issuerKif, issuerKvc, newKif, newKvc byte) ([]byte, error)

	// CipherApduData enciphers an in-session C-APDU's data-in while
	// encryption mode is active. The MAC chain
	// still covers the plaintext form.
	CipherApduData(data []byte) ([]byte, error)

	// DecipherApduData deciphers an in-session R-APDU's data while
	// encryption mode is active.
	DecipherApduData(data []byte) ([]byte, error)
}

// PkiSessionCryptoService is the asymmetric-key parallel of
// SessionCryptoService, SPI-only in the same way. It is declared only:
// package session does not use it, and every secure session runs through
// SessionCryptoService whatever calypso.CalypsoCard.Features.PKI says.
type PkiSessionCryptoService interface {
	InitTerminalPkiSessionContext() ([]byte, error)
	InitTerminalPkiSessionSignature(openSessionRespData []byte, certificate []byte) error
	UpdateTerminalPkiSessionSignature(apdu []byte) error
	FinalizeTerminalPkiSessionSignature() ([]byte, error)
	VerifyCardPkiSessionSignature(cardSignature []byte) (bool, error)
}
