// Package fixture provides an end-to-end scenario suite for the
// transaction engine, driven against a simulated Calypso card and the
// samsim SAM instead of physical hardware. The CLI's selftest command runs
// it against the shipped build; the package's own tests run it in CI.
package fixture

import (
	"fmt"
	"time"
)

// Result represents the outcome of a single scenario
type Result struct {
	Name     string        `json:"name"`
	Category string        `json:"category"` // read, session, sv, counter
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Suite runs the scenario set and collects results
type Suite struct {
	Verbose bool
	Results []Result
}

// NewSuite creates a new scenario suite
func NewSuite(verbose bool) *Suite {
	return &Suite{Verbose: verbose}
}

type scenario struct {
	name     string
	category string
	run      func() (string, error)
}

func scenarios() []scenario {
	return []scenario{
		{"simple read after AID selection", "read", runSimpleRead},
		{"debit session with buffer and MAC accounting", "session", runDebitSession},
		{"stored value debit", "sv", runSvDebit},
		{"buffer overflow with multi-session splitting", "session", runMultiSessionSplit},
		{"aborted session restores the image", "session", runAbortedSession},
		{"postponed counter decrease", "counter", runPostponedCounter},
	}
}

// RunAll executes every scenario in order and returns the collected
// results. A failing scenario never stops the suite.
func (s *Suite) RunAll() []Result {
	for _, sc := range scenarios() {
		start := time.Now()
		detail, err := sc.run()
		r := Result{
			Name:     sc.name,
			Category: sc.category,
			Passed:   err == nil,
			Detail:   detail,
			Duration: time.Since(start),
		}
		if err != nil {
			r.Error = err.Error()
		}
		s.Results = append(s.Results, r)
		if s.Verbose {
			status := "✓"
			if !r.Passed {
				status = "✗"
			}
			fmt.Printf("  [%s] %s: %s%s\n", status, r.Name, r.Detail, r.Error)
		}
	}
	return s.Results
}

// Summary returns the pass/fail counts of the last run.
func (s *Suite) Summary() (passed, failed int) {
	for _, r := range s.Results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
