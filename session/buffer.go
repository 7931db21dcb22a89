package session

import (
	"github.com/calypsonet/keyple-calypso-go/calypsoerr"
	"github.com/calypsonet/keyple-calypso-go/dictionaries"
)

// bufferCapacityFor resolves modificationsCounterMax and its unit for the
// card currently selected, honoring the BASIC override in Settings.
func (m *Manager) bufferCapacityFor() (unit dictionaries.SessionBufferUnit, max int) {
	caps, ok := dictionaries.Capabilities[m.Card.ProductType]
	if !ok {
		return dictionaries.UnitCommands, dictionaries.Rev1ModificationsCounterMax
	}
	if m.Card.ProductType == dictionaries.ProductPrimeRev3 || m.Card.ProductType == dictionaries.ProductLight {
		return dictionaries.UnitBytes, m.Card.SessionModificationCapacity
	}
	if m.Card.ProductType == dictionaries.ProductBasic {
		if m.Settings.BasicModificationsCounterMax > 0 {
			return dictionaries.UnitCommands, m.Settings.BasicModificationsCounterMax
		}
		return dictionaries.UnitCommands, dictionaries.BasicModificationsCounterMax
	}
	return caps.BufferUnit, caps.ModificationsCounter
}

// reserveBuffer accounts for one session-buffer-consuming command of the
// given encoded length. On overflow it either auto-inserts a Close+Open
// pair (multi-session enabled) or fails, before anything is transmitted.
func (m *Manager) reserveBuffer(apduLen int) error {
	cost := dictionaries.ModificationCost(m.bufferUnit, apduLen)
	if cost <= m.remaining {
		m.remaining -= cost
		return nil
	}
	if !m.Settings.MultiSessionEnabled {
		return calypsoerr.NewSessionBufferOverflow("session buffer exhausted and multi-session is disabled")
	}
	if err := m.insertAutoCloseOpen(); err != nil {
		return err
	}
	m.remaining = m.bufferMax
	m.remaining -= cost
	return nil
}

// insertAutoCloseOpen pushes a Close Secure Session followed by a new Open
// Secure Session into the pipeline, preserving the current write access
// level and extended-mode flag, then resets postponed-data tracking.
func (m *Manager) insertAutoCloseOpen() error {
	level := m.writeAccessLevel
	if err := m.prepareCloseSecureSessionCommand(false); err != nil {
		return err
	}
	m.resetPostponedData()
	return m.prepareOpenSecureSessionCommand(level, 0, 0, false)
}

func (m *Manager) resetPostponedData() {
	m.sv = svPending{}
	m.postponedDataCount = 0
}
