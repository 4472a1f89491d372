package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kolobox/settle/pkg/gateway"
	ledgerpkg "github.com/kolobox/settle/pkg/ledger"
	"github.com/kolobox/settle/pkg/lifecycle"
	"github.com/kolobox/settle/pkg/models"
	"github.com/kolobox/settle/pkg/money"
	"github.com/kolobox/settle/pkg/offset"
	"github.com/kolobox/settle/pkg/store"
)

// Server wires the engine's services behind HTTP handlers.
type Server struct {
	lifecycle *lifecycle.Service
	offsets   *offset.Workflow
	settle    *gateway.Settlement
	ledger    *ledgerpkg.Ledger
	storage   store.Storage
	logger    *zap.Logger
}

func NewServer(storage store.Storage, pending gateway.PendingStore, gateways []gateway.Gateway, logger *zap.Logger) *Server {
	locks := store.NewKeyedMutex()
	led := ledgerpkg.New(storage, locks, logger)
	settle := gateway.NewSettlement(gateways, pending, led, locks, logger)
	return &Server{
		lifecycle: lifecycle.NewService(storage, led, settle, locks, logger),
		offsets:   offset.NewWorkflow(storage, led, locks, logger),
		settle:    settle,
		ledger:    led,
		storage:   storage,
		logger:    logger,
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/applications", s.submitHandler).Methods("POST")
	r.HandleFunc("/applications/{id}", s.getApplicationHandler).Methods("GET")
	r.HandleFunc("/applications/{id}/upfront", s.payUpfrontHandler).Methods("POST")
	r.HandleFunc("/applications/{id}/upfront/decision", s.decideUpfrontHandler).Methods("POST")
	r.HandleFunc("/applications/{id}/decision", s.decideHandler).Methods("POST")

	r.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/repayments", s.repaymentHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/repayments/initiate", s.initiateRepaymentHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/offsets/quote", s.offsetQuoteHandler).Methods("GET")
	r.HandleFunc("/loans/{id}/offsets", s.createOffsetHandler).Methods("POST")
	r.HandleFunc("/loans/{id}/refund", s.requestRefundHandler).Methods("POST")

	r.HandleFunc("/offsets/{id}/decision", s.decideOffsetHandler).Methods("POST")
	r.HandleFunc("/refunds/{id}/decision", s.decideRefundHandler).Methods("POST")

	r.HandleFunc("/accounts/{id}/balances", s.balancesHandler).Methods("GET")
	r.HandleFunc("/contributions", s.contributeHandler).Methods("POST")

	r.HandleFunc("/payments/{reference}", s.paymentStatusHandler).Methods("GET")
	r.HandleFunc("/payments/{reference}/cancel", s.cancelPaymentHandler).Methods("POST")
	r.HandleFunc("/webhooks/gateway", s.gatewayWebhookHandler).Methods("POST")
	return r
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gateway.ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, lifecycle.ErrNonPositiveAmount),
		errors.Is(err, offset.ErrNonPositiveAmount):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrActiveLoanExists),
		errors.Is(err, lifecycle.ErrOverLimit),
		errors.Is(err, lifecycle.ErrWrongStatus),
		errors.Is(err, lifecycle.ErrUpfrontUnpaid),
		errors.Is(err, lifecycle.ErrLoanNotCompleted),
		errors.Is(err, lifecycle.ErrDepositRefunded),
		errors.Is(err, lifecycle.ErrNothingToRefund),
		errors.Is(err, lifecycle.ErrAlreadyDecided),
		errors.Is(err, offset.ErrOverLimit),
		errors.Is(err, offset.ErrDuplicatePending),
		errors.Is(err, lifecycle.ErrDuplicatePending),
		errors.Is(err, offset.ErrAlreadyDecided),
		errors.Is(err, offset.ErrLoanNotActive),
		errors.Is(err, ledgerpkg.ErrInsufficientFunds),
		errors.Is(err, gateway.ErrPaymentTerminal),
		errors.Is(err, gateway.ErrTimedOut),
		errors.Is(err, gateway.ErrAlreadySettled):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   string           `json:"account_id"`
		Category    string           `json:"category"`
		Principal   int64            `json:"principal"` // kobo
		PeriodWeeks int              `json:"period_weeks"`
		Purpose     string           `json:"purpose"`
		Guarantor   models.Guarantor `json:"guarantor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	app, err := s.lifecycle.Submit(r.Context(), lifecycle.SubmitRequest{
		AccountID:   req.AccountID,
		Category:    models.ProductCategory(req.Category),
		Principal:   money.NGNKobo(req.Principal),
		PeriodWeeks: req.PeriodWeeks,
		Purpose:     req.Purpose,
		Guarantor:   req.Guarantor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) getApplicationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	app, err := s.lifecycle.Application(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) payUpfrontHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	var req struct {
		Source         string `json:"source"`
		PayerEmail     string `json:"payer_email"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	app, payment, err := s.lifecycle.PayUpfront(r.Context(), id,
		models.UpfrontSource(req.Source), req.PayerEmail,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application":     app,
		"pending_payment": payment,
	})
}

func decodeDecision(r *http.Request, approveWord, rejectWord string) (bool, error) {
	var req struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, err
	}
	switch req.Decision {
	case approveWord:
		return true, nil
	case rejectWord:
		return false, nil
	}
	return false, fmt.Errorf("decision must be %q or %q", approveWord, rejectWord)
}

func (s *Server) decideUpfrontHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	confirmed, err := decodeDecision(r, "confirmed", "declined")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	app, err := s.lifecycle.DecideUpfront(r.Context(), id, confirmed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) decideHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	approve, err := decodeDecision(r, "approved", "rejected")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	app, loan, err := s.lifecycle.Decide(r.Context(), id, approve)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application": app,
		"loan":        loan,
	})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	loan, err := s.lifecycle.Loan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse(loan))
}

// loanResponse adds display amounts in naira next to the kobo values.
func loanResponse(loan *models.Loan) map[string]any {
	return map[string]any{
		"loan":              loan,
		"remaining_balance": loan.RemainingBalance(),
		"display": map[string]string{
			"principal":         loan.Principal.Decimal().StringFixed(2),
			"total_repayable":   loan.TotalRepayable.Decimal().StringFixed(2),
			"weekly_payment":    loan.WeeklyPayment.Decimal().StringFixed(2),
			"amount_repaid":     loan.AmountRepaid.Decimal().StringFixed(2),
			"remaining_balance": loan.RemainingBalance().Decimal().StringFixed(2),
		},
	}
}

func (s *Server) repaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount      int64  `json:"amount"` // kobo
		DepositUsed int64  `json:"deposit_used"`
		Reference   string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loan, err := s.lifecycle.ApplyRepayment(r.Context(), id,
		money.NGNKobo(req.Amount), money.NGNKobo(req.DepositUsed), req.Reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanResponse(loan))
}

func (s *Server) initiateRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount         int64  `json:"amount"`
		PayerEmail     string `json:"payer_email"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payment, err := s.lifecycle.InitiateRepayment(r.Context(), id,
		money.NGNKobo(req.Amount), req.PayerEmail,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, payment)
}

func (s *Server) offsetQuoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	offsetType := models.OffsetType(r.URL.Query().Get("type"))
	limit, err := s.offsets.Quote(id, offsetType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":  offsetType,
		"limit": limit,
	})
}

func (s *Server) createOffsetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	var req struct {
		Type   string `json:"type"`
		Amount int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := s.offsets.Create(id, models.OffsetType(req.Type), money.NGNKobo(req.Amount))
	if err != nil {
		if errors.Is(err, offset.ErrDuplicatePending) && created != nil {
			writeJSON(w, http.StatusConflict, created)
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) decideOffsetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid offset request id", http.StatusBadRequest)
		return
	}
	approve, err := decodeDecision(r, "approved", "rejected")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req *models.OffsetRequest
	if approve {
		req, err = s.offsets.Approve(id)
	} else {
		req, err = s.offsets.Reject(id)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) requestRefundHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}
	// The payout destination is optional; an empty body asks for the
	// account's default.
	var body struct {
		Payout *models.Payout `json:"payout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.lifecycle.RequestDepositRefund(r.Context(), id, body.Payout)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) decideRefundHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid refund request id", http.StatusBadRequest)
		return
	}
	approve, err := decodeDecision(r, "approved", "rejected")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.lifecycle.DecideDepositRefund(r.Context(), id, approve)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) balancesHandler(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	balances, err := s.lifecycle.Balances(accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balances": balances,
		"display": map[string]string{
			"contribution":      balances.Contribution.Decimal().StringFixed(2),
			"loan_deposit":      balances.LoanDeposit.Decimal().StringFixed(2),
			"insurance_reserve": balances.InsuranceReserve.Decimal().StringFixed(2),
			"company_revenue":   balances.CompanyRevenue.Decimal().StringFixed(2),
		},
	})
}

func (s *Server) contributeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string `json:"account_id"`
		Amount         int64  `json:"amount"`
		PayerEmail     string `json:"payer_email"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payment, err := s.lifecycle.Contribute(r.Context(), req.AccountID,
		money.NGNKobo(req.Amount), req.PayerEmail,
		time.Duration(req.TimeoutSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, payment)
}

func (s *Server) paymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	payment, err := s.settle.Status(r.Context(), reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) cancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	result, err := s.settle.OnCancel(r.Context(), reference)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// gatewayWebhookHandler receives provider callbacks. Unknown fields are
// tolerated and repeated deliveries return the cached result.
func (s *Server) gatewayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference             string `json:"reference"`
		Status                string `json:"status"`
		Amount                int64  `json:"amount"`
		ExternalTransactionID string `json:"externalTransactionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reference == "" {
		http.Error(w, "reference is required", http.StatusBadRequest)
		return
	}

	result, err := s.settle.OnCallback(r.Context(), req.Reference, req.Status, money.NGNKobo(req.Amount))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		return
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Printf("failed to build logger: %v\n", err)
		return
	}
	defer logger.Sync()

	storage, err := store.NewSQLiteStore(cfg.SQLite.Path)
	if err != nil {
		logger.Fatal("failed to initialize sqlite store", zap.Error(err))
	}
	defer storage.Close()

	var pending gateway.PendingStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pending = gateway.NewRedisPendingStore(client)
		logger.Info("pending payments stored in redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		pending = gateway.NewMemoryPendingStore()
		logger.Info("pending payments stored in memory")
	}

	gateways := []gateway.Gateway{
		gateway.NewPaystack(gateway.AdapterConfig{
			BaseURL:   cfg.Gateways.Paystack.BaseURL,
			SecretKey: cfg.Gateways.Paystack.SecretKey,
		}),
		gateway.NewFlutterwave(gateway.AdapterConfig{
			BaseURL:   cfg.Gateways.Flutterwave.BaseURL,
			SecretKey: cfg.Gateways.Flutterwave.SecretKey,
		}),
	}

	server := NewServer(storage, pending, gateways, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("server starting", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, server.router()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
