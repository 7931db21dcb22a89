// Package session implements the Secure Session state machine,
// session modifications-buffer accounting, and the stored-value
// sub-protocol. It is the one package allowed to own a
// calypso.CalypsoCard, a crypto.SessionCryptoService, a reader.CardReader,
// and a command.Pipeline all at once — command/ stays a pure codec so this
// package can wire the three together without either of them depending on
// session. All session-lifetime state lives on Manager and
// calypso.CalypsoCard.Dynamic; there are no package-level mutable fields.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calypsonet/keyple-calypso-go/calypso"
	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/command"
	"github.com/calypsonet/keyple-calypso-go/crypto"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
	"github.com/calypsonet/keyple-calypso-go/reader"
)

// State is one of the Secure Session's four states.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Settings are the caller-provided security/terminal policy knobs consulted
// by session buffer accounting and the SV sub-protocol.
type Settings struct {
	MultiSessionEnabled          bool
	RatificationRequested        bool
	ContactlessReader            bool
	SvNegativeBalanceAuthorized  bool
	BothSvLogsRequested          bool
	AllowedKIFKVC                map[[2]byte]bool // empty/nil means "no restriction"
	BasicModificationsCounterMax int              // 0 means use dictionaries.BasicModificationsCounterMax
}

func (s Settings) keyAuthorized(kif, kvc byte) bool {
	if len(s.AllowedKIFKVC) == 0 {
		return true
	}
	return s.AllowedKIFKVC[[2]byte{kif, kvc}]
}

// svPending tracks SV Get/modifying-operation binding state for the current
// session. index is the SV modifying command's ordinal among the session's
// postponed-data-producing commands, captured when the command is bound.
type svPending struct {
	lastGetOp *crypto.SvOperation
	bound     bool
	index     int
}

// Manager is the Secure Session state machine. One Manager
// drives exactly one CalypsoCard for the duration of one transaction,
// single-threaded and cooperative; callers must serialize.
type Manager struct {
	Card       *calypso.CalypsoCard
	Crypto     crypto.SessionCryptoService
	CardReader reader.CardReader
	Settings   Settings
	Logger     *slog.Logger

	state            State
	pipeline         command.Pipeline
	writeAccessLevel calypso.WriteAccessLevel

	bufferUnit dictionaries.SessionBufferUnit
	bufferMax  int
	remaining  int

	extendedMode     bool
	encryptionActive bool
	sv               svPending

	// postponedDataCount counts the postponed-data-producing commands
	// prepared in the current session (postponed counters, the SV
	// modifying command), in pipeline order. The SV command's slot in this
	// sequence is what Close Secure Session sends so the card returns the
	// right deferred MAC.
	postponedDataCount int

	preOpenDataOut          []byte
	preOpenWriteAccessLevel calypso.WriteAccessLevel
	hasPreOpenData          bool

	usingPreOpen bool

	knownCounters map[[2]byte]int32
}

// New builds a Manager bound to one card image, crypto SPI, and card
// reader. Logger may be nil, in which case engine tracing is discarded.
func New(card *calypso.CalypsoCard, cryptoSvc crypto.SessionCryptoService, cardReader reader.CardReader, settings Settings) *Manager {
	return &Manager{Card: card, Crypto: cryptoSvc, CardReader: cardReader, Settings: settings, state: StateIdle}
}

// State reports the current Secure Session state.
func (m *Manager) State() State { return m.state }

// BufferRemaining reports how many session-buffer units are still available
// in the current session. Meaningful only while a session is open.
func (m *Manager) BufferRemaining() int { return m.remaining }

func (m *Manager) log(msg string, args ...any) {
	if m.Logger == nil {
		return
	}
	m.Logger.Debug(msg, args...)
}

func (m *Manager) requireIdle(op string) error {
	if m.state != StateIdle {
		return calypsoerr.NewIllegalState(fmt.Sprintf("%s: session is %s, want IDLE", op, m.state))
	}
	return nil
}

func (m *Manager) requireOpen(op string) error {
	if m.state != StateOpen {
		return calypsoerr.NewIllegalState(fmt.Sprintf("%s: session is %s, want OPEN", op, m.state))
	}
	return nil
}

// enqueue stamps the command with the session's encryption mode and pushes
// it onto the pipeline. Every prepare method funnels through here so a
// toggle only affects commands prepared after it.
func (m *Manager) enqueue(cmd *command.Command) {
	cmd.EncryptionActive = m.encryptionActive && cmd.InSession
	m.pipeline.Push(cmd)
}

// ActivateEncryption turns on APDU encryption for commands prepared from
// now until DeactivateEncryption or session close.
func (m *Manager) ActivateEncryption() error {
	if err := m.requireOpen("ActivateEncryption"); err != nil {
		return err
	}
	m.encryptionActive = true
	return nil
}

// DeactivateEncryption turns APDU encryption back off.
func (m *Manager) DeactivateEncryption() error {
	if err := m.requireOpen("DeactivateEncryption"); err != nil {
		return err
	}
	m.encryptionActive = false
	return nil
}

// StashPreOpenData records a speculative Open Secure Session's response
// fields, taken during card selection. A later
// PrepareOpenSecureSession with the same write access level reuses it.
func (m *Manager) StashPreOpenData(level calypso.WriteAccessLevel, dataOut []byte) {
	m.preOpenWriteAccessLevel = level
	m.preOpenDataOut = append([]byte{}, dataOut...)
	m.hasPreOpenData = true
}
