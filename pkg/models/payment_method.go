package models

import (
	"encoding/json"
	"fmt"
)

// PaymentMethod is a closed variant: either a bank account or a card.
// The unexported marker keeps the set of implementations inside this
// package so switches over the concrete types stay exhaustive.
type PaymentMethod interface {
	isPaymentMethod()
}

type BankAccount struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	Verified      bool   `json:"verified"`
}

func (BankAccount) isPaymentMethod() {}

type Card struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

func (Card) isPaymentMethod() {}

// Payout wraps a PaymentMethod so it can cross JSON and storage boundaries
// as a tagged union.
type Payout struct {
	Method PaymentMethod
}

type payoutJSON struct {
	Type        string       `json:"type"`
	BankAccount *BankAccount `json:"bank_account,omitempty"`
	Card        *Card        `json:"card,omitempty"`
}

func (p Payout) MarshalJSON() ([]byte, error) {
	switch m := p.Method.(type) {
	case BankAccount:
		return json.Marshal(payoutJSON{Type: "bank_account", BankAccount: &m})
	case Card:
		return json.Marshal(payoutJSON{Type: "card", Card: &m})
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown payment method %T", p.Method)
	}
}

func (p *Payout) UnmarshalJSON(raw []byte) error {
	var envelope payoutJSON
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	switch envelope.Type {
	case "bank_account":
		if envelope.BankAccount == nil {
			return fmt.Errorf("payout type %q without bank_account", envelope.Type)
		}
		p.Method = *envelope.BankAccount
	case "card":
		if envelope.Card == nil {
			return fmt.Errorf("payout type %q without card", envelope.Type)
		}
		p.Method = *envelope.Card
	case "":
		p.Method = nil
	default:
		return fmt.Errorf("unknown payout type %q", envelope.Type)
	}
	return nil
}
