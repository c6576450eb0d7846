package guard

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrubBalanceDisclosure(t *testing.T) {
	g := MustNew()
	ctx := context.Background()
	answer := "Your available balance is $5000 in your checking account."

	t.Run("blocked without corroborating tool call", func(t *testing.T) {
		out, res := g.Scrub(ctx, answer, nil, "John123")
		assert.True(t, res.Tripped)
		assert.Contains(t, res.Categories, "balance")
		assert.Equal(t, PromptAskPIN, out)
	})

	t.Run("asks for customer id when session is anonymous", func(t *testing.T) {
		out, res := g.Scrub(ctx, answer, nil, "guest")
		assert.True(t, res.Tripped)
		assert.Equal(t, PromptAskCustomerID, out)
	})

	t.Run("passes with successful balance call in trace", func(t *testing.T) {
		trace := []TraceEntry{{
			Name:   "get_account_balance",
			Result: `{"customer_id":"John123","available":5000.0,"currency":"USD"}`,
		}}
		out, res := g.Scrub(ctx, answer, trace, "John123")
		assert.False(t, res.Tripped)
		assert.Equal(t, answer, out)
	})

	t.Run("blocked when the balance call itself failed", func(t *testing.T) {
		trace := []TraceEntry{{
			Name:   "get_account_balance",
			Result: `{"error":"identity_not_verified"}`,
		}}
		out, res := g.Scrub(ctx, answer, trace, "John123")
		assert.True(t, res.Tripped)
		assert.Equal(t, PromptAskPIN, out)
	})
}

func TestScrubContactDisclosure(t *testing.T) {
	g := MustNew()
	ctx := context.Background()

	tests := []struct {
		name   string
		answer string
	}{
		{"email", "Your email on file is john.doe@example.com."},
		{"phone", "We have your phone as +1-202-555-0100."},
		{"name phrase", "Your name is John Doe."},
	}
	for _, tt := range tests {
		t.Run(tt.name+" blocked without profile call", func(t *testing.T) {
			out, res := g.Scrub(ctx, tt.answer, nil, "John123")
			assert.True(t, res.Tripped)
			assert.Contains(t, res.Categories, "contact")
			assert.Equal(t, PromptAskPIN, out)
		})
	}

	t.Run("passes with successful profile call", func(t *testing.T) {
		trace := []TraceEntry{{
			Name:   "get_customer_profile",
			Result: `{"name":"John Doe","email":"john.doe@example.com"}`,
		}}
		answer := "Your name is John Doe and your email is john.doe@example.com."
		out, res := g.Scrub(ctx, answer, trace, "John123")
		assert.False(t, res.Tripped)
		assert.Equal(t, answer, out)
	})
}

func TestScrubCleanAnswer(t *testing.T) {
	g := MustNew()
	out, res := g.Scrub(context.Background(), "I can help with that. What would you like to do?", nil, "guest")
	assert.False(t, res.Tripped)
	assert.Equal(t, "I can help with that. What would you like to do?", out)
}

func TestResultSuccessful(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"object without error key", `{"status":"updated"}`, true},
		{"object with error key", `{"error":"identity_not_verified"}`, false},
		{"list of clean objects", `[{"id":"tx_1"},{"id":"tx_2"}]`, true},
		{"list containing error element", `[{"error":"customer_not_found"}]`, false},
		{"success text", "Card card_123 has been blocked. Reason: lost", true},
		{"error-prefixed text", "Error: Card not found.", false},
		{"failure marker text", "request failed: identity not verified", false},
		{"boolean false", "false", false},
		{"boolean true", "true", true},
		{"empty result fails closed", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultSuccessful(tt.raw))
		})
	}
}

func TestDetectorOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/leak.yaml"
	yaml := `detectors:
  - name: iban_disclosure
    category: iban
    required_tool: get_account_balance
    patterns:
      - name: iban
        regex: '\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b'
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	g, err := New(WithDetectorFile(path))
	require.NoError(t, err)

	out, res := g.Scrub(context.Background(), "Your IBAN is DE44500105175407324931.", nil, "John123")
	assert.True(t, res.Tripped)
	assert.Contains(t, res.Categories, "iban")
	assert.Equal(t, PromptAskPIN, out)
}

func TestDetectorFileMissingIsNoop(t *testing.T) {
	g, err := New(WithDetectorFile("/nonexistent/leak.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, g)
}
