// Package samsim is a software reference implementation of the
// crypto.SessionCryptoService SPI, used by tests and the CLI's simulated-SAM
// mode. It is explicitly NOT the production SAM
// cryptography, which is out of scope — its key derivation and MAC
// chaining reuse the GlobalPlatform SCP02 construction (3DES retail MAC
// with ICV chaining), the closest widely-deployed analog to Calypso's own
// digest-chained Secure Session MAC.
package samsim

import (
	"crypto/des"
	"crypto/rand"
	"fmt"

	"github.com/calypsonet/keyple-calypso-go/crypto"
)

// KeyEntry is one symmetric key the simulated SAM knows, looked up by
// KIF/KVC the way a real SAM resolves keys from its key store.
type KeyEntry struct {
	KIF byte
	KVC byte
	Key []byte // 16 or 24 byte 3DES key
}

// SAM is an in-memory key store plus a running session MAC context,
// standing in for a physical SAM.
type SAM struct {
	keys map[[2]byte]KeyEntry

	terminalChallenge []byte
	sessionKey        []byte
	icv               []byte
	closing           []byte
	svIcv             []byte
}

// New builds a simulated SAM pre-loaded with the given keys.
func New(keys ...KeyEntry) *SAM {
	s := &SAM{keys: make(map[[2]byte]KeyEntry, len(keys))}
	for _, k := range keys {
		s.keys[[2]byte{k.KIF, k.KVC}] = k
	}
	return s
}

var _ crypto.SessionCryptoService = (*SAM)(nil)

func (s *SAM) lookupKey(kif, kvc byte) (KeyEntry, error) {
	k, ok := s.keys[[2]byte{kif, kvc}]
	if !ok {
		return KeyEntry{}, fmt.Errorf("samsim: no key for KIF=%02X KVC=%02X", kif, kvc)
	}
	return k, nil
}

// InitTerminalSessionContext returns a fresh 8-byte terminal challenge.
func (s *SAM) InitTerminalSessionContext() ([]byte, error) {
	challenge := make([]byte, 8)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("samsim: generate challenge: %w", err)
	}
	s.terminalChallenge = challenge
	return challenge, nil
}

// InitTerminalSessionMac derives the session key from the card's Open
// Secure Session response and opens the MAC chain on that response,
// mirroring an SCP02-style session-key derivation.
func (s *SAM) InitTerminalSessionMac(openSessionRespData []byte, kif, kvc byte) error {
	key, err := s.lookupKey(kif, kvc)
	if err != nil {
		return err
	}
	expanded, err := expandTo3DESKey(key.Key)
	if err != nil {
		return err
	}
	derived, err := deriveSessionKey(expanded, openSessionRespData, s.terminalChallenge)
	if err != nil {
		return err
	}
	s.sessionKey = derived
	s.closing = nil

	// The digest chain opens on the card's Open Secure Session dataOut,
	// so two sessions differing only in their open response diverge from
	// the very first MAC.
	seed, err := retailMAC(derived, make([]byte, 8), openSessionRespData)
	if err != nil {
		return err
	}
	s.icv = seed
	return nil
}

// UpdateTerminalSessionMac folds one C-APDU or R-APDU into the running
// retail-MAC chain.
func (s *SAM) UpdateTerminalSessionMac(apdu []byte) error {
	if s.sessionKey == nil {
		return fmt.Errorf("samsim: session MAC not initialized")
	}
	mac, err := retailMAC(s.sessionKey, s.icv, apdu)
	if err != nil {
		return err
	}
	s.icv = mac
	return nil
}

// FinalizeTerminalSessionMac closes the digest and returns the terminal
// signature for Close Secure Session. The chain state is snapshotted here:
// the Close Secure Session APDUs themselves may still be folded into the
// running chain afterwards without disturbing the signature the card's MAC
// is checked against.
func (s *SAM) FinalizeTerminalSessionMac() ([]byte, error) {
	if s.icv == nil {
		return nil, fmt.Errorf("samsim: session MAC not initialized")
	}
	s.closing = append([]byte{}, s.icv[:4]...)
	return append([]byte{}, s.closing...), nil
}

// VerifyCardSessionMac checks the card's returned MAC against the digest
// closed by FinalizeTerminalSessionMac (since the simulated SAM computes
// both sides symmetrically, a genuine card's MAC equals the terminal
// signature).
func (s *SAM) VerifyCardSessionMac(cardMac []byte) (bool, error) {
	want := s.closing
	if want == nil {
		if s.icv == nil {
			return false, fmt.Errorf("samsim: session MAC not initialized")
		}
		want = s.icv[:4]
	}
	if len(cardMac) < len(want) {
		return false, nil
	}
	for i := range want {
		if want[i] != cardMac[i] {
			return false, nil
		}
	}
	return true, nil
}

// CipherPinForVerify XORs the plain PIN with a derived pad, the minimal
// reversible transform a reference implementation needs to exercise the
// Verify PIN enciphered path end to end.
func (s *SAM) CipherPinForVerify(cardChallenge, plainPin []byte, kif, kvc byte) ([]byte, error) {
	key, err := s.lookupKey(kif, kvc)
	if err != nil {
		return nil, err
	}
	pad, err := pinPad(key.Key, cardChallenge, 4)
	if err != nil {
		return nil, err
	}
	return xorBytes(plainPin, pad), nil
}

// CipherPinForChange enciphers the old and new PIN back to back.
func (s *SAM) CipherPinForChange(cardChallenge, oldPin, newPin []byte, kif, kvc byte) ([]byte, error) {
	key, err := s.lookupKey(kif, kvc)
	if err != nil {
		return nil, err
	}
	pad, err := pinPad(key.Key, cardChallenge, 8)
	if err != nil {
		return nil, err
	}
	out := xorBytes(append(append([]byte{}, oldPin...), newPin...), pad)
	return out, nil
}

// GenerateSvCommandSecurityData signs the SV Get context with the session
// key's retail MAC.
func (s *SAM) GenerateSvCommandSecurityData(ctx crypto.SvSecurityContext) ([]byte, error) {
	if s.sessionKey == nil {
		return nil, fmt.Errorf("samsim: session MAC not initialized")
	}
	msg := append([]byte{}, ctx.GetHeader...)
	msg = append(msg, ctx.GetData...)
	msg = append(msg, byte(ctx.Amount>>24), byte(ctx.Amount>>16), byte(ctx.Amount>>8), byte(ctx.Amount))
	msg = append(msg, ctx.Date[:]...)
	msg = append(msg, ctx.Time[:]...)
	msg = append(msg, ctx.Free[:]...)

	mac, err := retailMAC(s.sessionKey, s.svIcvOrZero(), msg)
	if err != nil {
		return nil, err
	}
	s.svIcv = mac
	return mac, nil
}

func (s *SAM) svIcvOrZero() []byte {
	if s.svIcv != nil {
		return s.svIcv
	}
	return make([]byte, 8)
}

// VerifyCardSvMac checks the card's returned SV MAC against the SV digest
// state left by GenerateSvCommandSecurityData.
func (s *SAM) VerifyCardSvMac(mac []byte) (bool, error) {
	if s.svIcv == nil {
		return false, fmt.Errorf("samsim: no SV operation pending")
	}
	if len(mac) < 4 {
		return false, nil
	}
	for i := 0; i < 4; i++ {
		if s.svIcv[i] != mac[i] {
			return false, nil
		}
	}
	return true, nil
}

// CipherApduData enciphers in-session C-APDU data under the session key
// (3DES CBC, zero IV, ISO 7816-4 padding) for encryption mode.
func (s *SAM) CipherApduData(data []byte) ([]byte, error) {
	if s.sessionKey == nil {
		return nil, fmt.Errorf("samsim: session MAC not initialized")
	}
	return tripleDESCBCEncrypt(s.sessionKey, make([]byte, 8), iso7816Pad(data, 8))
}

// DecipherApduData is CipherApduData's inverse, applied to in-session
// R-APDU data.
func (s *SAM) DecipherApduData(data []byte) ([]byte, error) {
	if s.sessionKey == nil {
		return nil, fmt.Errorf("samsim: session MAC not initialized")
	}
	plain, err := tripleDESCBCDecrypt(s.sessionKey, make([]byte, 8), data)
	if err != nil {
		return nil, err
	}
	return iso7816Unpad(plain)
}

// CipherCardKey produces a ciphered key block for a Change Key command by
// 3DES-ECB-wrapping the new key under the issuer key.
func (s *SAM) CipherCardKey(challenge []byte, issuerKif, issuerKvc, newKif, newKvc byte) ([]byte, error) {
	issuer, err := s.lookupKey(issuerKif, issuerKvc)
	if err != nil {
		return nil, err
	}
	newKeyEntry, err := s.lookupKey(newKif, newKvc)
	if err != nil {
		return nil, err
	}
	wrapKey, err := expandTo3DESKey(issuer.Key)
	if err != nil {
		return nil, err
	}
	block, err := des.NewTripleDESCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("samsim: wrap cipher: %w", err)
	}
	newKey := padTo(newKeyEntry.Key, 8)
	out := make([]byte, len(newKey))
	for i := 0; i < len(newKey); i += 8 {
		block.Encrypt(out[i:i+8], newKey[i:i+8])
	}
	return out, nil
}
