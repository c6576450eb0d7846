package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bankabc/voicegate/internal/bank"
	"github.com/bankabc/voicegate/internal/verify"
)

// Transaction count clamp for get_recent_transactions.
const (
	minTransactionCount = 1
	maxTransactionCount = 20
)

const (
	errIdentityNotVerified = "identity_not_verified"
	errCustomerNotFound    = "customer_not_found"
	errStatementNotFound   = "statement_not_found"
)

// NewBankingRegistry registers the full banking tool set over the given
// directory and per-turn verification engine.
func NewBankingRegistry(dir *bank.Directory, eng *verify.Engine) *Registry {
	r := NewRegistry()
	r.Register(&verifyIdentityTool{dir: dir, eng: eng})
	r.Register(&verificationStatusTool{eng: eng})
	r.Register(&accountBalanceTool{dir: dir, eng: eng})
	r.Register(&recentTransactionsTool{dir: dir, eng: eng})
	r.Register(&customerProfileTool{dir: dir, eng: eng})
	r.Register(&customerCardsTool{dir: dir, eng: eng})
	r.Register(&requestStatementTool{dir: dir, eng: eng})
	r.Register(&updateAddressTool{dir: dir, eng: eng})
	r.Register(&reportCashNotDispensedTool{dir: dir, eng: eng})
	r.Register(&blockCardTool{dir: dir, eng: eng})
	return r
}

func marshalPayload(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return errorPayload("internal")
	}
	return string(b)
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- verify_identity ---

type verifyIdentityTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

type verifyIdentityArgs struct {
	CustomerID string `json:"customer_id"`
	PIN        string `json:"pin"`
}

func (t *verifyIdentityTool) Name() string { return "verify_identity" }

func (t *verifyIdentityTool) Description() string {
	return "Verify the caller's identity using their customer_id and PIN. Must succeed before any account information is shared."
}

func (t *verifyIdentityTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string", "description": "The caller's customer ID"},
		"pin":         map[string]interface{}{"type": "string", "description": "The caller's 4-6 digit PIN"},
	}, "customer_id", "pin")
}

func (t *verifyIdentityTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a verifyIdentityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "false"
	}
	if t.eng.Verify(a.CustomerID, a.PIN) {
		return "true"
	}
	return "false"
}

// --- get_verification_status ---

type verificationStatusTool struct {
	eng *verify.Engine
}

type customerIDArgs struct {
	CustomerID string `json:"customer_id"`
}

func (t *verificationStatusTool) Name() string { return "get_verification_status" }

func (t *verificationStatusTool) Description() string {
	return "Check whether the caller's identity has already been verified this call."
}

func (t *verificationStatusTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
	}, "customer_id")
}

func (t *verificationStatusTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a customerIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorPayload(errCustomerNotFound)
	}
	return marshalPayload(map[string]interface{}{
		"customer_id": a.CustomerID,
		"verified":    t.eng.IsVerified(a.CustomerID),
	})
}

// --- get_account_balance ---

type accountBalanceTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

func (t *accountBalanceTool) Name() string { return "get_account_balance" }

func (t *accountBalanceTool) Description() string {
	return "Return the customer's account balance details. Requires verification."
}

func (t *accountBalanceTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
	}, "customer_id")
}

func (t *accountBalanceTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a customerIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return errorPayload(errIdentityNotVerified)
	}
	c, ok := t.dir.Customer(a.CustomerID)
	if !ok || len(c.Accounts) == 0 {
		return errorPayload(errCustomerNotFound)
	}
	acct := c.Accounts[0]
	return marshalPayload(map[string]interface{}{
		"customer_id": c.CustomerID,
		"account_id":  acct.AccountID,
		"type":        acct.Type,
		"available":   acct.Available,
		"currency":    acct.Currency,
		"as_of":       time.Now().UTC().Format(time.RFC3339),
	})
}

// --- get_recent_transactions ---

type recentTransactionsTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

type recentTransactionsArgs struct {
	CustomerID string `json:"customer_id"`
	Count      int    `json:"count"`
}

func (t *recentTransactionsTool) Name() string { return "get_recent_transactions" }

func (t *recentTransactionsTool) Description() string {
	return "Return the customer's most recent transactions. Requires verification."
}

func (t *recentTransactionsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
		"count":       map[string]interface{}{"type": "integer", "description": "How many transactions to return (1-20)"},
	}, "customer_id")
}

func (t *recentTransactionsTool) Execute(ctx context.Context, args json.RawMessage) string {
	a := recentTransactionsArgs{Count: 3}
	if err := json.Unmarshal(args, &a); err != nil {
		return listErrorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return listErrorPayload(errIdentityNotVerified)
	}
	c, ok := t.dir.Customer(a.CustomerID)
	if !ok {
		return listErrorPayload(errCustomerNotFound)
	}
	count := a.Count
	if count < minTransactionCount {
		count = minTransactionCount
	}
	if count > maxTransactionCount {
		count = maxTransactionCount
	}
	if count > len(c.Transactions) {
		count = len(c.Transactions)
	}
	return marshalPayload(c.Transactions[:count])
}

// --- get_customer_profile ---

type customerProfileTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

func (t *customerProfileTool) Name() string { return "get_customer_profile" }

func (t *customerProfileTool) Description() string {
	return "Return the customer's profile (name, address, phone, email). Requires verification."
}

func (t *customerProfileTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
	}, "customer_id")
}

func (t *customerProfileTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a customerIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return errorPayload(errIdentityNotVerified)
	}
	c, ok := t.dir.Customer(a.CustomerID)
	if !ok {
		return errorPayload(errCustomerNotFound)
	}
	return marshalPayload(map[string]string{
		"name":    c.Profile.Name,
		"address": c.Profile.Address,
		"phone":   c.Profile.Phone,
		"email":   c.Profile.Email,
	})
}

// --- get_customer_cards ---

type customerCardsTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

func (t *customerCardsTool) Name() string { return "get_customer_cards" }

func (t *customerCardsTool) Description() string {
	return "List the customer's payment cards. Requires verification."
}

func (t *customerCardsTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
	}, "customer_id")
}

func (t *customerCardsTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a customerIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return listErrorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return listErrorPayload(errIdentityNotVerified)
	}
	c, ok := t.dir.Customer(a.CustomerID)
	if !ok {
		return listErrorPayload(errCustomerNotFound)
	}
	return marshalPayload(c.Cards)
}

// --- request_statement ---

type requestStatementTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

type requestStatementArgs struct {
	CustomerID string `json:"customer_id"`
	Period     string `json:"period"`
}

func (t *requestStatementTool) Name() string { return "request_statement" }

func (t *requestStatementTool) Description() string {
	return "Request a monthly statement for a given period (YYYY-MM). Requires verification."
}

func (t *requestStatementTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
		"period":      map[string]interface{}{"type": "string", "description": "Statement period, e.g. 2025-12"},
	}, "customer_id", "period")
}

func (t *requestStatementTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a requestStatementArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return errorPayload(errIdentityNotVerified)
	}
	c, ok := t.dir.Customer(a.CustomerID)
	if !ok {
		return errorPayload(errCustomerNotFound)
	}
	for _, s := range c.Statements {
		if s.Period == a.Period {
			return marshalPayload(map[string]string{
				"statement_id": s.StatementID,
				"period":       s.Period,
				"format":       s.Format,
				"status":       "ready",
			})
		}
	}
	// The period list is a discoverability affordance, not a leak: it
	// reveals which months exist, never any amounts.
	periods := make([]string, 0, len(c.Statements))
	for _, s := range c.Statements {
		periods = append(periods, s.Period)
	}
	return marshalPayload(map[string]interface{}{
		"error":             errStatementNotFound,
		"available_periods": periods,
	})
}

// --- update_address ---

type updateAddressTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

type updateAddressArgs struct {
	CustomerID string `json:"customer_id"`
	NewAddress string `json:"new_address"`
}

func (t *updateAddressTool) Name() string { return "update_address" }

func (t *updateAddressTool) Description() string {
	return "Update the customer's profile address. Requires verification."
}

func (t *updateAddressTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
		"new_address": map[string]interface{}{"type": "string"},
	}, "customer_id", "new_address")
}

func (t *updateAddressTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a updateAddressArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return errorPayload(errIdentityNotVerified)
	}
	addr, err := t.dir.UpdateAddress(a.CustomerID, a.NewAddress)
	if err != nil {
		return errorPayload(errCustomerNotFound)
	}
	return marshalPayload(map[string]string{"status": "updated", "address": addr})
}

// --- report_cash_not_dispensed ---

type reportCashNotDispensedTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

type reportCashArgs struct {
	CustomerID string  `json:"customer_id"`
	ATMID      string  `json:"atm_id"`
	Amount     float64 `json:"amount"`
	Date       string  `json:"date"`
}

func (t *reportCashNotDispensedTool) Name() string { return "report_cash_not_dispensed" }

func (t *reportCashNotDispensedTool) Description() string {
	return "File a dispute for an ATM cash-not-dispensed incident. Requires verification."
}

func (t *reportCashNotDispensedTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"customer_id": map[string]interface{}{"type": "string"},
		"atm_id":      map[string]interface{}{"type": "string"},
		"amount":      map[string]interface{}{"type": "number"},
		"date":        map[string]interface{}{"type": "string", "description": "Incident date, YYYY-MM-DD"},
	}, "customer_id", "atm_id", "amount", "date")
}

func (t *reportCashNotDispensedTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a reportCashArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errorPayload(errCustomerNotFound)
	}
	if !t.eng.IsVerified(a.CustomerID) {
		return errorPayload(errIdentityNotVerified)
	}
	disp, err := t.dir.FileDispute(a.CustomerID, a.ATMID, a.Amount, a.Date)
	if err != nil {
		return errorPayload(errCustomerNotFound)
	}
	return marshalPayload(map[string]string{
		"dispute_id": disp.DisputeID,
		"status":     disp.Status,
	})
}

// --- block_card ---

type blockCardTool struct {
	dir *bank.Directory
	eng *verify.Engine
}

type blockCardArgs struct {
	CardID string `json:"card_id"`
	Reason string `json:"reason"`
}

func (t *blockCardTool) Name() string { return "block_card" }

func (t *blockCardTool) Description() string {
	return "Block a card permanently by card_id. Irreversible; always confirm the reason with the caller first. Requires verification."
}

func (t *blockCardTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"card_id": map[string]interface{}{"type": "string"},
		"reason":  map[string]interface{}{"type": "string", "description": "Why the card is being blocked (lost, stolen, fraud, ...)"},
	}, "card_id", "reason")
}

// Execute resolves the owner from the card itself, so a caller can't block
// someone else's card by guessing IDs while verified as themselves only.
func (t *blockCardTool) Execute(ctx context.Context, args json.RawMessage) string {
	var a blockCardArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "Error: Card not found."
	}
	owner, err := t.dir.CardOwner(a.CardID)
	if err != nil {
		return "Error: Card not found."
	}
	if !t.eng.IsVerified(owner) {
		return "Error: Identity not verified."
	}
	if err := t.dir.BlockCard(a.CardID); err != nil {
		return "Error: Card not found."
	}
	return fmt.Sprintf("Card %s has been blocked. Reason: %s", a.CardID, a.Reason)
}
