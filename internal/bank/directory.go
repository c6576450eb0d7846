// Package bank provides the mock banking backend the tool gateway operates
// on. It stands in for the core-banking integration: the shapes returned
// here are the contract the real integration must satisfy.
package bank

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Domain errors surfaced by the directory.
var (
	ErrCustomerNotFound = errors.New("customer_not_found")
	ErrCardNotFound     = errors.New("card not found")
)

// Card statuses.
const (
	CardActive  = "active"
	CardBlocked = "blocked"
)

// Profile is the customer's contact record.
type Profile struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// Account is a single deposit account.
type Account struct {
	AccountID string  `json:"account_id"`
	Type      string  `json:"type"`
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
}

// Card is a payment card as seen from the customer's card list.
type Card struct {
	CardID  string `json:"card_id"`
	Status  string `json:"status"`
	Last4   string `json:"last4"`
	Network string `json:"network"`
}

// Transaction is one ledger entry, newest first in the customer record.
type Transaction struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Merchant string  `json:"merchant"`
	Status   string  `json:"status"`
	TS       string  `json:"ts"`
}

// Statement is a monthly statement reference.
type Statement struct {
	Period      string `json:"period"`
	StatementID string `json:"statement_id"`
	Format      string `json:"format"`
}

// Dispute is a filed ATM incident.
type Dispute struct {
	DisputeID  string  `json:"dispute_id"`
	CustomerID string  `json:"customer_id"`
	Type       string  `json:"type"`
	ATMID      string  `json:"atm_id"`
	Amount     float64 `json:"amount"`
	Date       string  `json:"date"`
	Status     string  `json:"status"`
}

// Customer aggregates everything the tools read for one identity.
type Customer struct {
	CustomerID   string
	PIN          string
	Profile      Profile
	Accounts     []Account
	Cards        []Card
	Transactions []Transaction
	Statements   []Statement
}

type cardRecord struct {
	customerID string
	status     string
}

// Directory is the thread-safe mock data store. Lookups are case-insensitive
// on customer ID; all returned customer values are deep copies so callers
// can't mutate shared state around the directory's lock.
type Directory struct {
	mu        sync.RWMutex
	customers map[string]*Customer // keyed by lowercase customer ID
	cards     map[string]*cardRecord
	disputes  map[string]Dispute
}

// NewDirectory returns a directory seeded with the demo dataset.
func NewDirectory() *Directory {
	d := &Directory{
		customers: make(map[string]*Customer),
		cards:     make(map[string]*cardRecord),
		disputes:  make(map[string]Dispute),
	}
	d.seed()
	return d
}

func (d *Directory) seed() {
	john := &Customer{
		CustomerID: "John123",
		PIN:        "1234",
		Profile: Profile{
			Name:    "John Doe",
			Address: "12 Main St, Springfield, IL 62701",
			Phone:   "+1-202-555-0100",
			Email:   "john.doe@example.com",
		},
		Accounts: []Account{
			{AccountID: "acc_123", Type: "checking", Currency: "USD", Available: 5000.00},
		},
		Cards: []Card{
			{CardID: "card_123", Status: CardActive, Last4: "4242", Network: "VISA"},
		},
		Transactions: []Transaction{
			{ID: "tx_1", Amount: -50.00, Merchant: "Walmart", Status: "completed", TS: "2026-01-20T12:01:00Z"},
			{ID: "tx_2", Amount: -12.00, Merchant: "Netflix", Status: "completed", TS: "2026-01-19T08:30:00Z"},
			{ID: "tx_3", Amount: -100.00, Merchant: "Unknown", Status: "declined", TS: "2026-01-18T15:12:00Z"},
		},
		Statements: []Statement{
			{Period: "2025-12", StatementID: "st_202512", Format: "pdf"},
			{Period: "2025-11", StatementID: "st_202511", Format: "pdf"},
		},
	}
	d.customers[strings.ToLower(john.CustomerID)] = john
	d.cards["card_123"] = &cardRecord{customerID: "John123", status: CardActive}
}

// Resolve maps a normalized customer ID to its canonical casing.
func (d *Directory) Resolve(customerID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[strings.ToLower(customerID)]
	if !ok {
		return "", false
	}
	return c.CustomerID, true
}

// Customer returns a deep copy of the customer record.
func (d *Directory) Customer(customerID string) (*Customer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[strings.ToLower(customerID)]
	if !ok {
		return nil, false
	}
	return copyCustomer(c), true
}

// PIN returns the stored PIN for a customer. Verification compares against
// this exactly; the PIN never leaves the verify package.
func (d *Directory) PIN(customerID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[strings.ToLower(customerID)]
	if !ok {
		return "", false
	}
	return c.PIN, true
}

// CardOwner resolves a card ID to its owning customer.
func (d *Directory) CardOwner(cardID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.cards[cardID]
	if !ok {
		return "", ErrCardNotFound
	}
	return rec.customerID, nil
}

// BlockCard flips the card to blocked on both the card record and the
// owner's card list. Blocking an already-blocked card is a no-op success.
func (d *Directory) BlockCard(cardID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	if rec.status == CardBlocked {
		return nil
	}
	rec.status = CardBlocked
	if c, ok := d.customers[strings.ToLower(rec.customerID)]; ok {
		for i := range c.Cards {
			if c.Cards[i].CardID == cardID {
				c.Cards[i].Status = CardBlocked
				break
			}
		}
	}
	return nil
}

// CardStatus reports the current status of a card.
func (d *Directory) CardStatus(cardID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.cards[cardID]
	if !ok {
		return "", ErrCardNotFound
	}
	return rec.status, nil
}

// UpdateAddress replaces the customer's profile address and returns the
// stored value.
func (d *Directory) UpdateAddress(customerID, newAddress string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[strings.ToLower(customerID)]
	if !ok {
		return "", ErrCustomerNotFound
	}
	c.Profile.Address = strings.TrimSpace(newAddress)
	return c.Profile.Address, nil
}

// FileDispute records a cash-not-dispensed incident and returns its ID.
func (d *Directory) FileDispute(customerID, atmID string, amount float64, date string) (Dispute, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.customers[strings.ToLower(customerID)]; !ok {
		return Dispute{}, ErrCustomerNotFound
	}
	disp := Dispute{
		DisputeID:  fmt.Sprintf("disp_%d", time.Now().UnixNano()),
		CustomerID: customerID,
		Type:       "cash_not_dispensed",
		ATMID:      atmID,
		Amount:     amount,
		Date:       date,
		Status:     "submitted",
	}
	d.disputes[disp.DisputeID] = disp
	return disp, nil
}

// Dispute returns a filed dispute by ID.
func (d *Directory) Dispute(disputeID string) (Dispute, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	disp, ok := d.disputes[disputeID]
	return disp, ok
}

func copyCustomer(c *Customer) *Customer {
	out := &Customer{
		CustomerID: c.CustomerID,
		PIN:        c.PIN,
		Profile:    c.Profile,
	}
	out.Accounts = append([]Account(nil), c.Accounts...)
	out.Cards = append([]Card(nil), c.Cards...)
	out.Transactions = append([]Transaction(nil), c.Transactions...)
	out.Statements = append([]Statement(nil), c.Statements...)
	return out
}
