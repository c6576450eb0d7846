package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bankabc/voicegate/internal/bank"
)

func TestNormalizeCustomerID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"spaces stripped", "John 123", "John123"},
		{"commas stripped", "John, 123", "John123"},
		{"dots stripped", "John.123", "John123"},
		{"hyphens stripped", "John-123", "John123"},
		{"empty stays empty", "", ""},
		{"invalid characters fail closed", "John@123", ""},
		{"underscore allowed", "user_123", "user_123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCustomerID(tt.raw))
		})
	}
}

func TestNormalizePIN(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"spaces stripped", "1 2 3 4", "1234"},
		{"commas stripped", "1,2,3,4", "1234"},
		{"dots stripped", "1.2.3.4", "1234"},
		{"empty stays empty", "", ""},
		{"non-digits dropped", "one 1 two 2 3 4", "1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePIN(tt.raw))
		})
	}
}

func TestVerify(t *testing.T) {
	newEngine := func() *Engine { return NewEngine(bank.NewDirectory()) }

	t.Run("correct credentials succeed", func(t *testing.T) {
		e := newEngine()
		assert.True(t, e.Verify("John123", "1234"))
		assert.True(t, e.IsVerified("John123"))
	})

	t.Run("wrong pin fails", func(t *testing.T) {
		e := newEngine()
		assert.False(t, e.Verify("John123", "9999"))
		assert.False(t, e.IsVerified("John123"))
	})

	t.Run("unknown customer fails closed", func(t *testing.T) {
		e := newEngine()
		assert.False(t, e.Verify("Unknown999", "1234"))
	})

	t.Run("customer id is case-insensitive", func(t *testing.T) {
		e := newEngine()
		assert.True(t, e.Verify("john123", "1234"))
		assert.True(t, e.IsVerified("John123"))
	})

	t.Run("spoken digit grouping accepted", func(t *testing.T) {
		e := newEngine()
		assert.True(t, e.Verify("John 123", "1 2 3 4"))
		assert.True(t, e.Verify("John123", "1,2,3,4"))
	})

	t.Run("pin too short", func(t *testing.T) {
		e := newEngine()
		assert.False(t, e.Verify("John123", "123"))
	})

	t.Run("pin too long", func(t *testing.T) {
		e := newEngine()
		assert.False(t, e.Verify("John123", "1234567"))
	})
}

func TestResetAndHydrate(t *testing.T) {
	e := NewEngine(bank.NewDirectory())

	assert.True(t, e.Verify("John123", "1234"))
	e.Reset("John123")
	assert.False(t, e.IsVerified("John123"))

	// Hydrate restores persisted truth without re-running verification.
	e.Hydrate("John123", true)
	assert.True(t, e.IsVerified("john123"))
	e.Hydrate("John123", false)
	assert.False(t, e.IsVerified("John123"))
}
