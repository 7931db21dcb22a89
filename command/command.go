package command

import "github.com/calypsonet/keyple-calypso-go/iso7816"

// Command is a prepared operation awaiting transmission: a tagged-variant
// struct plus small per-kind closures. The vtable is exactly the four
// function fields below, never a second level deep.
type Command struct {
	Ref    Ref
	Status iso7816.StatusTable

	// APDU is filled by FinalizeRequest, which may be deferred until just
	// before transmission (anticipated-response / pre-open mode).
	APDU *iso7816.CommandAPDU

	// Response is filled by ParseResponse once the card has answered.
	Response *iso7816.ResponseAPDU

	InSession         bool
	EncryptionActive  bool
	SessionBufferUsed bool

	// FinalizeRequest builds APDU, possibly consulting the crypto SPI
	// (enciphering data-in, signing an SV operation).
	FinalizeRequest func() error

	// CryptoServiceRequiredToFinalize reports whether FinalizeRequest needs
	// the crypto SPI's running state before it can run.
	CryptoServiceRequiredToFinalize func() bool

	// SynchronizeCryptoServiceBeforeCardProcessing lets a command that
	// already knows its own response (anticipated/postponed data) advance
	// the crypto chain without waiting on the card. ok is false when the
	// command cannot synchronize this way and the pipeline must flush to
	// the card instead.
	SynchronizeCryptoServiceBeforeCardProcessing func() (ok bool, err error)

	// ParseResponse consumes the card's R-APDU, updates the card image, and
	// returns any protocol/card error the status word implies.
	ParseResponse func(resp *iso7816.ResponseAPDU) error
}

// Pipeline is the ordered sequence of pending commands. It is always fully
// drained or cleared by ProcessCommands.
type Pipeline struct {
	commands []*Command
}

// Push appends a prepared command to the end of the pipeline.
func (p *Pipeline) Push(c *Command) {
	p.commands = append(p.commands, c)
}

// Len reports how many commands are currently pending.
func (p *Pipeline) Len() int { return len(p.commands) }

// At returns the command at index i without removing it.
func (p *Pipeline) At(i int) *Command { return p.commands[i] }

// Commands returns the pending commands in order. The slice is owned by the
// pipeline; callers must not retain it past the next mutation.
func (p *Pipeline) Commands() []*Command { return p.commands }

// DrainUpTo removes and returns the first n commands, leaving the rest
// pending.
func (p *Pipeline) DrainUpTo(n int) []*Command {
	if n > len(p.commands) {
		n = len(p.commands)
	}
	out := p.commands[:n]
	p.commands = p.commands[n:]
	return out
}

// DrainAll removes and returns every pending command.
func (p *Pipeline) DrainAll() []*Command {
	out := p.commands
	p.commands = nil
	return out
}

// Clear discards every pending command without returning them (used when an
// error before Open leaves the engine IDLE with the pipeline cleared).
func (p *Pipeline) Clear() { p.commands = nil }
