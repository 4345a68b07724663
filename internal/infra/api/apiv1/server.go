package apiv1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/usecase"
)

// Server exposes the billing use cases over JSON.
type Server struct {
	subscribe usecase.SubscribeUseCase
	prices    usecase.PriceUseCase
	subs      usecase.SubscriptionUseCase
	portal    usecase.PortalUseCase
	log       *zerolog.Logger
}

func NewServer(subscribe usecase.SubscribeUseCase, prices usecase.PriceUseCase, subs usecase.SubscriptionUseCase, portal usecase.PortalUseCase, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{subscribe: subscribe, prices: prices, subs: subs, portal: portal, log: logger}
}

// RegisterAPIV1 mounts the v1 routes on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/prices", s.handleCreatePrice)
		r.Post("/subscriptions/change-price", s.handleChangePrice)
		r.Get("/subscriptions/{id}", s.handleGetSubscription)
		r.Post("/portal-sessions", s.handlePortalSession)
		r.Get("/saga-runs/{id}", s.handleGetRun)
		r.Post("/saga-runs/{id}/compensate", s.handleCompensate)
	})
}

// ---- DTOs ----

// SubscribeRequest takes the amount either in minor units (unit_amount) or whole units (amount).
type SubscribeRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	PaymentMethod string `json:"payment_method"`
	UnitAmount    int64  `json:"unit_amount,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
}

// CreatePriceRequest takes the amount like SubscribeRequest.
type CreatePriceRequest struct {
	ProductID  string `json:"product_id"`
	UnitAmount int64  `json:"unit_amount,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
}

type Price struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Interval   string `json:"interval"`
}

type ChangePriceRequest struct {
	SubscriptionID string `json:"subscription_id"`
	NewPriceID     string `json:"new_price_id"`
	ItemID         string `json:"item_id,omitempty"`
	CurrentPriceID string `json:"current_price_id,omitempty"`
}

// PortalRequest accepts customerId as an alias of customer_id.
type PortalRequest struct {
	CustomerID      string `json:"customer_id"`
	CustomerIDCamel string `json:"customerId,omitempty"`
	ReturnURL       string `json:"return_url,omitempty"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

type SubscriptionItem struct {
	ID       string `json:"id"`
	PriceID  string `json:"price_id"`
	Quantity int64  `json:"quantity"`
}

type Subscription struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	Status     string             `json:"status"`
	Items      []SubscriptionItem `json:"items"`
}

type SagaRun struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	Cursor         string   `json:"cursor,omitempty"`
	FailedStep     string   `json:"failed_step,omitempty"`
	Error          string   `json:"error,omitempty"`
	UnitAmount     int64    `json:"unit_amount"`
	Currency       string   `json:"currency"`
	Interval       string   `json:"interval"`
	ProductID      string   `json:"product_id,omitempty"`
	PriceID        string   `json:"price_id,omitempty"`
	CustomerID     string   `json:"customer_id,omitempty"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
	ItemID         string   `json:"item_id,omitempty"`
	Compensated    []string `json:"compensated,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

// ---- handlers ----

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := unitAmount(req.UnitAmount, req.Amount)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}

	res, err := s.subscribe.Run(r.Context(), usecase.SubscribeInput{
		Email:          req.Email,
		Name:           req.Name,
		PaymentMethod:  req.PaymentMethod,
		UnitAmount:     amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreatePrice(w http.ResponseWriter, r *http.Request) {
	var req CreatePriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := unitAmount(req.UnitAmount, req.Amount)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	price, err := s.prices.Create(r.Context(), usecase.CreatePriceInput{
		ProductID:      req.ProductID,
		UnitAmount:     amount,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Price{"price": toPrice(price)})
}

func (s *Server) handleChangePrice(w http.ResponseWriter, r *http.Request) {
	var req ChangePriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.subs.ChangePrice(r.Context(), usecase.ChangePriceInput{
		SubscriptionID: req.SubscriptionID,
		NewPriceID:     req.NewPriceID,
		ItemID:         req.ItemID,
		CurrentPriceID: req.CurrentPriceID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Subscription{"subscription": toSubscription(sub)})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, map[string]Subscription{"subscription": toSubscription(sub)})
}

func (s *Server) handlePortalSession(w http.ResponseWriter, r *http.Request) {
	var req PortalRequest
	if !s.decode(w, r, &req) {
		return
	}
	customerID := req.CustomerID
	switch {
	case customerID == "":
		customerID = req.CustomerIDCamel
	case req.CustomerIDCamel != "" && req.CustomerIDCamel != customerID:
		s.fail(w, r, domain.Invalid("customer_id and customerId disagree"), false)
		return
	}
	url, err := s.portal.CreateSession(r.Context(), customerID, req.ReturnURL)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, PortalResponse{URL: url})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.subscribe.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, toSagaRun(run))
}

func (s *Server) handleCompensate(w http.ResponseWriter, r *http.Request) {
	run, err := s.subscribe.Compensate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	writeJSON(w, http.StatusOK, toSagaRun(run))
}

// ---- helpers ----

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		s.fail(w, r, domain.Invalid("request body is required"), false)
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			s.fail(w, r, domain.Invalid("request body is required"), false)
		} else {
			s.fail(w, r, domain.Invalid("malformed JSON: %s", strings.TrimPrefix(err.Error(), "json: ")), false)
		}
		return false
	}
	return true
}

// unitAmount resolves the minor-unit amount from either unit_amount or whole-unit amount.
func unitAmount(minor, major int64) (int64, error) {
	switch {
	case minor != 0 && major != 0:
		return 0, domain.Invalid("pass either unit_amount or amount, not both")
	case major != 0:
		return model.MinorUnits(major)
	}
	return minor, nil
}

// StatusFor maps a use case error to an HTTP status. lookup marks read endpoints, where a
// missing entity is 404 rather than 400.
func StatusFor(err error, lookup bool) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if lookup {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInputValidation),
		errors.Is(err, domain.ErrProviderValidation),
		errors.Is(err, domain.ErrState):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProviderAuth), errors.Is(err, domain.ErrProviderTransient):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, lookup bool) {
	code := StatusFor(err, lookup)
	resp := ErrorResponse{Error: err.Error(), Step: domain.FailedStep(err)}
	if code == http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		resp = ErrorResponse{Error: "internal error"}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func toSubscription(s *model.Subscription) Subscription {
	out := Subscription{ID: s.ID, CustomerID: s.CustomerID, Status: s.Status, Items: make([]SubscriptionItem, 0, len(s.Items))}
	for _, it := range s.Items {
		out.Items = append(out.Items, SubscriptionItem{ID: it.ID, PriceID: it.PriceID, Quantity: it.Quantity})
	}
	return out
}

func toPrice(p *model.Price) Price {
	return Price{ID: p.ID, ProductID: p.ProductID, UnitAmount: p.UnitAmount, Currency: p.Currency, Interval: p.Interval}
}

func toSagaRun(run *model.SagaRun) SagaRun {
	out := SagaRun{
		ID:             run.ID,
		Status:         string(run.Status),
		Cursor:         string(run.Cursor),
		FailedStep:     string(run.FailedStep),
		Error:          run.Error,
		UnitAmount:     run.UnitAmount,
		Currency:       run.Currency,
		Interval:       run.Interval,
		ProductID:      run.ProductID,
		PriceID:        run.PriceID,
		CustomerID:     run.CustomerID,
		SubscriptionID: run.SubscriptionID,
		ItemID:         run.ItemID,
		CreatedAt:      run.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      run.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, st := range run.Compensated {
		out.Compensated = append(out.Compensated, string(st))
	}
	return out
}
