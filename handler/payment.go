package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mstgnz/shaparak/infra/middle"
	"github.com/mstgnz/shaparak/infra/response"
	"github.com/mstgnz/shaparak/infra/store"
	"github.com/mstgnz/shaparak/provider"
	"go.uber.org/zap"
)

// GatewayFactory builds gateway adapters, usually a *provider.Registry
type GatewayFactory interface {
	Names() []string
	Create(name string, txn provider.Transaction, params map[string]string) (provider.Gateway, error)
}

// CredentialSource resolves the merchant credentials of a gateway
type CredentialSource interface {
	Get(gateway string) (map[string]string, error)
}

// TransactionStore persists payment transactions
type TransactionStore interface {
	CreateWithID(ctx context.Context, id, gateway string, txn *provider.BasicTransaction) (*store.Record, error)
	Get(ctx context.Context, id string) (*store.Record, error)
	Save(ctx context.Context, rec *store.Record, txn *provider.BasicTransaction) error
}

// PaymentRequest starts a payment
type PaymentRequest struct {
	OrderID     int64  `json:"order_id" validate:"required,gt=0"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
}

// PaymentResponse is returned once the bank accepted the payment request
type PaymentResponse struct {
	Payment *store.Record            `json:"payment"`
	Form    *provider.FormParameters `json:"form"`
}

// PaymentHandler drives the payment lifecycle over HTTP
type PaymentHandler struct {
	gateways    GatewayFactory
	credentials CredentialSource
	store       TransactionStore
	validate    *validator.Validate
	logger      *zap.Logger
	publicURL   string
	timeout     time.Duration
}

// NewPaymentHandler creates a new payment handler. publicURL is the externally
// reachable base of this service, used to build bank callback URLs.
func NewPaymentHandler(gateways GatewayFactory, credentials CredentialSource, txns TransactionStore, validate *validator.Validate, logger *zap.Logger, publicURL string) *PaymentHandler {
	return &PaymentHandler{
		gateways:    gateways,
		credentials: credentials,
		store:       txns,
		validate:    validate,
		logger:      logger,
		publicURL:   strings.TrimRight(publicURL, "/"),
		timeout:     30 * time.Second,
	}
}

// CreatePayment requests a token from the bank and returns the redirect form
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	gateway := chi.URLParam(r, "gateway")
	if !slices.Contains(h.gateways.Names(), gateway) {
		response.Error(w, http.StatusNotFound, "Unknown gateway", fmt.Errorf("gateway '%s' is not registered", gateway))
		return
	}

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	id := uuid.New().String()
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = fmt.Sprintf("%s/callback/%s/%s", h.publicURL, gateway, id)
	}

	txn, err := provider.NewTransaction(req.OrderID, req.Amount, callbackURL)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}
	gw, err := h.gateway(gateway, txn)
	if err != nil {
		h.fail(w, r, "Gateway is not available", err, nil)
		return
	}

	rec, err := h.store.CreateWithID(ctx, id, gateway, txn)
	if err != nil {
		h.fail(w, r, "Failed to store payment", err, nil)
		return
	}

	form, err := gw.GetFormParameters(ctx)
	if saveErr := h.store.Save(ctx, rec, txn); saveErr != nil {
		h.fail(w, r, "Failed to store payment", saveErr, nil)
		return
	}
	if err != nil {
		h.fail(w, r, "Token request failed", err, rec)
		return
	}

	response.Success(w, http.StatusCreated, "Payment created", PaymentResponse{Payment: rec, Form: form})
}

// Callback accepts the bank callback, verifies the payment and settles it
// when the gateway has a settle step
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	if rec.Gateway != chi.URLParam(r, "gateway") {
		response.Error(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	callback, err := callbackParameters(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid callback", err)
		return
	}

	txn := rec.Transaction()
	gw, err := h.gateway(rec.Gateway, txn)
	if err != nil {
		h.fail(w, r, "Gateway is not available", err, rec)
		return
	}

	canContinue, err := gw.CanContinueWithCallbackParameters(callback)
	if err != nil {
		h.fail(w, r, "Invalid callback", err, rec)
		return
	}
	if err := txn.SetCallbackParameters(callback); err != nil {
		h.fail(w, r, "Callback already handled", provider.NewStateError(rec.Gateway, provider.OpVerify, "%s", err), rec)
		return
	}
	if !canContinue {
		_ = txn.SetFailed("payment was canceled or rejected by the bank")
		if !h.save(w, r, rec, txn) {
			return
		}
		response.ErrorWithData(w, http.StatusPaymentRequired, "Payment was not completed", nil, rec)
		return
	}

	verified, err := gw.VerifyTransaction(ctx)
	if err == nil && verified && gw.Capabilities().Settlement {
		_, err = gw.SettleTransaction(ctx)
	}
	if !h.save(w, r, rec, txn) {
		return
	}
	if err != nil {
		h.fail(w, r, "Payment verification failed", err, rec)
		return
	}
	if !verified {
		response.ErrorWithData(w, http.StatusPaymentRequired, "Payment was not verified", nil, rec)
		return
	}

	response.Success(w, http.StatusOK, "Payment verified", rec)
}

// GetPayment returns the stored state of a payment
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	response.Success(w, http.StatusOK, "Payment retrieved", rec)
}

// SettlePayment runs the second phase capture of a verified payment
func (h *PaymentHandler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "Payment settled", func(ctx context.Context, gw provider.Gateway) (bool, error) {
		return gw.SettleTransaction(ctx)
	})
}

// RefundPayment reverses a verified or settled payment
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "Payment refunded", func(ctx context.Context, gw provider.Gateway) (bool, error) {
		return gw.RefundTransaction(ctx)
	})
}

// InquiryPayment asks the bank for the current state of a payment
func (h *PaymentHandler) InquiryPayment(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "Payment inquired", func(ctx context.Context, gw provider.Gateway) (bool, error) {
		inquirer, ok := gw.(provider.Inquirer)
		if !ok {
			return false, errInquiryUnsupported
		}
		return inquirer.InquiryTransaction(ctx)
	})
}

var errInquiryUnsupported = errors.New("gateway does not support inquiry")

func (h *PaymentHandler) run(w http.ResponseWriter, r *http.Request, message string, op func(context.Context, provider.Gateway) (bool, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	txn := rec.Transaction()
	gw, err := h.gateway(rec.Gateway, txn)
	if err != nil {
		h.fail(w, r, "Gateway is not available", err, rec)
		return
	}

	done, err := op(ctx, gw)
	if errors.Is(err, errInquiryUnsupported) {
		response.Error(w, http.StatusNotImplemented, "Inquiry is not supported", err)
		return
	}
	if !h.save(w, r, rec, txn) {
		return
	}
	if err != nil {
		h.fail(w, r, "Operation failed", err, rec)
		return
	}
	if !done {
		response.ErrorWithData(w, http.StatusPaymentRequired, "Operation was not confirmed by the bank", nil, rec)
		return
	}
	response.Success(w, http.StatusOK, message, rec)
}

func (h *PaymentHandler) gateway(name string, txn provider.Transaction) (provider.Gateway, error) {
	params, err := h.credentials.Get(name)
	if err != nil {
		return nil, provider.NewConfigurationError(name, provider.OpConfigure, "%s", err)
	}
	return h.gateways.Create(name, txn, params)
}

func (h *PaymentHandler) load(w http.ResponseWriter, r *http.Request) (*store.Record, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		response.Error(w, http.StatusBadRequest, "Missing payment ID", nil)
		return nil, false
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Payment not found", err, nil)
		return nil, false
	}
	return rec, true
}

func (h *PaymentHandler) save(w http.ResponseWriter, r *http.Request, rec *store.Record, txn *provider.BasicTransaction) bool {
	// the bank call already happened; a detached context keeps its outcome
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()

	if err := h.store.Save(ctx, rec, txn); err != nil {
		h.fail(w, r, "Failed to store payment", err, nil)
		return false
	}
	return true
}

func (h *PaymentHandler) fail(w http.ResponseWriter, r *http.Request, message string, err error, data any) {
	status := StatusFor(err)
	fields := []zap.Field{
		zap.String("request_id", middle.RequestIDFromContext(r.Context())),
		zap.Int("status", status),
		zap.Error(err),
	}
	var gwErr *provider.Error
	if errors.As(err, &gwErr) {
		fields = append(fields, zap.String("gateway", gwErr.Gateway), zap.String("op", string(gwErr.Op)))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Warn(message, fields...)
	}

	if data != nil {
		response.ErrorWithData(w, status, message, err, data)
		return
	}
	response.Error(w, status, message, err)
}

// StatusFor maps an error to its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateOrder), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}

	switch provider.KindOf(err) {
	case provider.KindValidation:
		return http.StatusBadRequest
	case provider.KindState:
		return http.StatusConflict
	case provider.KindBusiness:
		return http.StatusPaymentRequired
	case provider.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// callbackParameters reads the bank callback from the query, a form body or a JSON body
func callbackParameters(r *http.Request) (map[string]string, error) {
	params := make(map[string]string)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON callback: %w", err)
		}
		for k, v := range body {
			switch val := v.(type) {
			case nil:
			case string:
				params[k] = val
			case json.Number:
				params[k] = val.String()
			default:
				params[k] = fmt.Sprint(val)
			}
		}
	} else {
		if mediaType == "multipart/form-data" {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				return nil, fmt.Errorf("invalid form callback: %w", err)
			}
		} else if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form callback: %w", err)
		}
		for k := range r.Form {
			params[k] = r.Form.Get(k)
		}
	}

	for k, v := range r.URL.Query() {
		if _, ok := params[k]; !ok && len(v) > 0 {
			params[k] = v[0]
		}
	}
	if len(params) == 0 {
		return nil, errors.New("callback carries no parameters")
	}
	return params, nil
}
