package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCaseInsensitive(t *testing.T) {
	d := NewDirectory()

	id, ok := d.Resolve("john123")
	require.True(t, ok)
	assert.Equal(t, "John123", id)

	_, ok = d.Resolve("Unknown999")
	assert.False(t, ok)
}

func TestCustomerReturnsCopy(t *testing.T) {
	d := NewDirectory()

	c, ok := d.Customer("John123")
	require.True(t, ok)
	c.Cards[0].Status = CardBlocked
	c.Profile.Address = "tampered"

	fresh, _ := d.Customer("John123")
	assert.Equal(t, CardActive, fresh.Cards[0].Status)
	assert.Contains(t, fresh.Profile.Address, "12 Main St")
}

func TestBlockCardIdempotent(t *testing.T) {
	d := NewDirectory()

	require.NoError(t, d.BlockCard("card_123"))
	status, err := d.CardStatus("card_123")
	require.NoError(t, err)
	assert.Equal(t, CardBlocked, status)

	// Second block succeeds with no further effect.
	require.NoError(t, d.BlockCard("card_123"))
	status, err = d.CardStatus("card_123")
	require.NoError(t, err)
	assert.Equal(t, CardBlocked, status)

	// Customer card list reflects the block as well.
	c, _ := d.Customer("John123")
	assert.Equal(t, CardBlocked, c.Cards[0].Status)
}

func TestBlockUnknownCard(t *testing.T) {
	d := NewDirectory()
	assert.ErrorIs(t, d.BlockCard("card_999"), ErrCardNotFound)
}

func TestUpdateAddress(t *testing.T) {
	d := NewDirectory()

	addr, err := d.UpdateAddress("john123", "  456 New Street, Chicago, IL 60601  ")
	require.NoError(t, err)
	assert.Equal(t, "456 New Street, Chicago, IL 60601", addr)

	c, _ := d.Customer("John123")
	assert.Equal(t, addr, c.Profile.Address)

	_, err = d.UpdateAddress("nobody", "x")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestFileDispute(t *testing.T) {
	d := NewDirectory()

	disp, err := d.FileDispute("John123", "ATM001", 200.0, "2026-01-25")
	require.NoError(t, err)
	assert.Equal(t, "submitted", disp.Status)
	assert.NotEmpty(t, disp.DisputeID)

	stored, ok := d.Dispute(disp.DisputeID)
	require.True(t, ok)
	assert.Equal(t, 200.0, stored.Amount)

	_, err = d.FileDispute("nobody", "ATM001", 1, "2026-01-25")
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}
