package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kolobox/settle/pkg/money"
)

// AdapterConfig configures an HTTP provider adapter.
type AdapterConfig struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

func (c AdapterConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Paystack charges in kobo and verifies by our reference.
type Paystack struct {
	cfg AdapterConfig
}

func NewPaystack(cfg AdapterConfig) *Paystack { return &Paystack{cfg: cfg} }

func (p *Paystack) Name() string { return "paystack" }

func (p *Paystack) Initiate(ctx context.Context, req InitiateRequest) error {
	body, err := json.Marshal(map[string]any{
		"reference": req.Reference,
		"amount":    req.Amount.Amount, // already kobo
		"email":     req.PayerEmail,
		"currency":  string(req.Amount.Currency),
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("paystack initialize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("paystack initialize: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (Verification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.cfg.BaseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return Verification{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	resp, err := p.cfg.client().Do(httpReq)
	if err != nil {
		return Verification{}, fmt.Errorf("paystack verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verification{}, fmt.Errorf("paystack verify: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Status   string `json:"status"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			ID       int64  `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Verification{}, fmt.Errorf("paystack verify: decode: %w", err)
	}
	return Verification{
		Status:                payload.Data.Status,
		Amount:                money.Money{Amount: payload.Data.Amount, Currency: money.Currency(payload.Data.Currency)},
		ExternalTransactionID: fmt.Sprintf("%d", payload.Data.ID),
	}, nil
}

// Flutterwave charges in major units and verifies by transaction reference.
type Flutterwave struct {
	cfg AdapterConfig
}

func NewFlutterwave(cfg AdapterConfig) *Flutterwave { return &Flutterwave{cfg: cfg} }

func (f *Flutterwave) Name() string { return "flutterwave" }

func (f *Flutterwave) Initiate(ctx context.Context, req InitiateRequest) error {
	body, err := json.Marshal(map[string]any{
		"tx_ref":   req.Reference,
		"amount":   req.Amount.Decimal().StringFixed(2),
		"currency": string(req.Amount.Currency),
		"customer": map[string]string{"email": req.PayerEmail},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.cfg.BaseURL+"/v3/payments", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.cfg.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("flutterwave payments: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flutterwave payments: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (f *Flutterwave) Verify(ctx context.Context, reference string) (Verification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.cfg.BaseURL+"/v3/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference), nil)
	if err != nil {
		return Verification{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.cfg.SecretKey)

	resp, err := f.cfg.client().Do(httpReq)
	if err != nil {
		return Verification{}, fmt.Errorf("flutterwave verify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verification{}, fmt.Errorf("flutterwave verify: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Status   string          `json:"status"`
			Amount   json.Number     `json:"amount"`
			Currency string          `json:"currency"`
			ID       int64           `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Verification{}, fmt.Errorf("flutterwave verify: decode: %w", err)
	}

	// Flutterwave reports major units; convert back to kobo without floats.
	major, err := payload.Data.Amount.Int64()
	if err != nil {
		return Verification{}, fmt.Errorf("flutterwave verify: non-integer amount %q", payload.Data.Amount)
	}
	status := payload.Data.Status
	if status == "successful" {
		status = StatusSuccess
	}
	return Verification{
		Status:                status,
		Amount:                money.Money{Amount: major * 100, Currency: money.Currency(payload.Data.Currency)},
		ExternalTransactionID: fmt.Sprintf("%d", payload.Data.ID),
	}, nil
}
