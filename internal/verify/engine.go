// Package verify implements caller identity verification for voice turns.
//
// Spoken credentials arrive noisy ("John, 1 2 3" or "1 2 3 4"), so both the
// customer ID and the PIN are normalized before comparison. The verified set
// is scoped to one Engine; the orchestrator builds a fresh Engine per turn
// and hydrates it from the persisted session, so verification state is never
// implicitly shared between concurrent sessions.
package verify

import (
	"strings"
	"sync"

	"github.com/bankabc/voicegate/internal/bank"
)

// PIN length bounds after normalization.
const (
	MinPINDigits = 4
	MaxPINDigits = 6
)

// separators are the transcription artifacts stripped from spoken
// credentials: digit grouping ("1 2 3 4"), clause commas, trailing periods,
// and spelled-out hyphens.
const separators = " ,.-"

// NormalizeCustomerID strips separators from a spoken customer ID and
// returns "" when the remainder contains anything outside [A-Za-z0-9_].
func NormalizeCustomerID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if strings.ContainsRune(separators, r) {
			continue
		}
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !valid {
			return ""
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizePIN strips separators and keeps only digit characters.
func NormalizePIN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Engine tracks which customer identities are verified. Safe for concurrent
// use, though the intended scope is a single in-flight turn.
type Engine struct {
	dir *bank.Directory

	mu       sync.RWMutex
	verified map[string]bool // keyed by lowercase normalized customer ID
}

// NewEngine creates a verification engine backed by the given directory.
func NewEngine(dir *bank.Directory) *Engine {
	return &Engine{
		dir:      dir,
		verified: make(map[string]bool),
	}
}

// Verify checks the credentials and, on success, marks the customer
// verified. Fails closed on unknown customers, malformed IDs, and PINs
// outside the 4-6 digit window.
func (e *Engine) Verify(customerID, pin string) bool {
	id := NormalizeCustomerID(customerID)
	if id == "" {
		return false
	}
	if _, ok := e.dir.Resolve(id); !ok {
		return false
	}
	digits := NormalizePIN(pin)
	if len(digits) < MinPINDigits || len(digits) > MaxPINDigits {
		return false
	}
	stored, ok := e.dir.PIN(id)
	if !ok || stored != digits {
		return false
	}

	e.mu.Lock()
	e.verified[strings.ToLower(id)] = true
	e.mu.Unlock()
	return true
}

// IsVerified reports whether the customer is currently verified.
func (e *Engine) IsVerified(customerID string) bool {
	id := NormalizeCustomerID(customerID)
	if id == "" {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.verified[strings.ToLower(id)]
}

// Reset clears the customer's verified state. Used at session end and when
// a session restarts as "guest".
func (e *Engine) Reset(customerID string) {
	id := NormalizeCustomerID(customerID)
	if id == "" {
		return
	}
	e.mu.Lock()
	delete(e.verified, strings.ToLower(id))
	e.mu.Unlock()
}

// Hydrate forcibly sets or clears the customer's verified state from
// externally persisted truth. The engine does not survive across turns on
// its own; the session record does.
func (e *Engine) Hydrate(customerID string, isVerified bool) {
	id := NormalizeCustomerID(customerID)
	if id == "" {
		return
	}
	e.mu.Lock()
	if isVerified {
		e.verified[strings.ToLower(id)] = true
	} else {
		delete(e.verified, strings.ToLower(id))
	}
	e.mu.Unlock()
}
