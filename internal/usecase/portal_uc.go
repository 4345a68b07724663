// File: internal/usecase/portal_uc.go
package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/metrics"
)

type portalInput struct {
	CustomerID string `json:"customer_id" validate:"required"`
	ReturnURL  string `json:"return_url" validate:"required,url"`
}

// PortalUseCase issues hosted billing portal sessions.
type PortalUseCase interface {
	// CreateSession returns a one-time portal URL for customerID. An empty returnURL
	// falls back to the configured default.
	CreateSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// Compile-time check
var _ PortalUseCase = (*portalUC)(nil)

type portalUC struct {
	provider      adapter.BillingProvider
	defaultReturn string
	log           *zerolog.Logger
}

func NewPortalUseCase(provider adapter.BillingProvider, defaultReturnURL string, logger *zerolog.Logger) PortalUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	return &portalUC{provider: provider, defaultReturn: defaultReturnURL, log: logger}
}

func (u *portalUC) CreateSession(ctx context.Context, customerID, returnURL string) (string, error) {
	in := portalInput{CustomerID: strings.TrimSpace(customerID), ReturnURL: strings.TrimSpace(returnURL)}
	if in.ReturnURL == "" {
		in.ReturnURL = u.defaultReturn
	}
	if err := validateInput(in); err != nil {
		return "", err
	}

	sess, err := u.provider.CreatePortalSession(ctx, in.CustomerID, in.ReturnURL)
	metrics.IncPortalSession(err == nil)
	if err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Str("customer_id", in.CustomerID).Msg("portal session failed")
		return "", err
	}
	logging.With(ctx, u.log).Debug().Str("customer_id", in.CustomerID).Str("session_id", sess.ID).Msg("portal session issued")
	return sess.URL, nil
}
