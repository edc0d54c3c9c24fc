package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

// Ensure Finalizer implements the driving port
var _ driving.FinalizationService = (*Finalizer)(nil)

// Conversion error codes recorded for failures that carry no provider code.
const (
	conversionCodeValidation = "validation"
	conversionCodeReAuth     = "reauth_required"
	conversionCodeTransient  = "transient"
	conversionCodeFault      = "remote_fault"
	conversionCodeUnknown    = "error"
)

// Finalizer converts local orders into remote estimates and keeps one
// audit record per order number.
type Finalizer struct {
	companies   driven.CompanyStore
	clients     ClientSource
	conversions driven.ConversionStore
	metrics     driven.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// FinalizerConfig holds dependencies for Finalizer.
type FinalizerConfig struct {
	Companies   driven.CompanyStore
	Clients     ClientSource
	Conversions driven.ConversionStore
	Metrics     driven.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewFinalizer creates a new finalization service.
func NewFinalizer(cfg FinalizerConfig) *Finalizer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = driven.NopMetrics{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Finalizer{
		companies:   cfg.Companies,
		clients:     cfg.Clients,
		conversions: cfg.Conversions,
		metrics:     metrics,
		logger:      logger,
		now:         now,
	}
}

// FinalizeOrder validates the order, creates the remote estimate and records
// the outcome. Lines must already carry external item ids.
func (f *Finalizer) FinalizeOrder(ctx context.Context, companyID string, order *domain.Order) (*domain.ConversionOutcome, error) {
	if order == nil {
		return nil, &domain.ValidationError{Problems: []string{"order is required"}}
	}

	var provider domain.ProviderType
	if company, err := f.companies.Get(ctx, companyID); err == nil {
		provider = company.Provider
	}

	if verr := validateOrder(order); verr != nil {
		f.recordFailure(ctx, companyID, provider, order.Number, verr)
		return nil, verr
	}

	client, err := f.clients.GetUsableClient(ctx, companyID)
	if err != nil {
		f.recordFailure(ctx, companyID, provider, order.Number, err)
		return nil, err
	}
	provider = client.Provider()

	payload := buildEstimatePayload(order, f.now())
	remote, err := client.CreateEstimate(ctx, payload)
	if err != nil {
		f.recordFailure(ctx, companyID, provider, order.Number, err)
		return nil, err
	}

	record := &domain.ConversionRecord{
		CompanyID:    companyID,
		OrderNumber:  order.Number,
		Provider:     provider,
		Status:       domain.ConversionSuccess,
		RemoteID:     remote.ID,
		RemoteNumber: remote.Number,
		RemoteURL:    remote.URL,
		CreatedAt:    f.now(),
		UpdatedAt:    f.now(),
	}
	f.metrics.ObserveConversion(provider, domain.ConversionSuccess)

	outcome := &domain.ConversionOutcome{Record: record, Remote: remote}
	if err := f.conversions.Upsert(context.WithoutCancel(ctx), record); err != nil {
		// The remote document exists; the caller needs the reference even
		// though the audit row could not be written.
		f.logger.Error("failed to record conversion",
			"company_id", companyID,
			"order_number", order.Number,
			"remote_id", remote.ID,
			"error", err,
		)
		return outcome, fmt.Errorf("record conversion: %w", err)
	}

	f.logger.Info("order finalized",
		"company_id", companyID,
		"provider", provider,
		"order_number", order.Number,
		"remote_id", remote.ID,
		"lines", len(payload.Lines),
		"total", payload.Total(),
	)
	return outcome, nil
}

// GetConversion returns the last recorded outcome for an order number.
func (f *Finalizer) GetConversion(ctx context.Context, companyID, orderNumber string) (*domain.ConversionRecord, error) {
	return f.conversions.Get(ctx, companyID, orderNumber)
}

// ListConversions returns recent outcomes for a company.
func (f *Finalizer) ListConversions(ctx context.Context, companyID string, limit int) ([]*domain.ConversionRecord, error) {
	return f.conversions.ListByCompany(ctx, companyID, limit)
}

// recordFailure upserts a failed record. Orders without a number cannot be keyed.
func (f *Finalizer) recordFailure(ctx context.Context, companyID string, provider domain.ProviderType, orderNumber string, cause error) {
	f.metrics.ObserveConversion(provider, domain.ConversionFailed)

	if strings.TrimSpace(orderNumber) == "" {
		return
	}

	record := &domain.ConversionRecord{
		CompanyID:    companyID,
		OrderNumber:  orderNumber,
		Provider:     provider,
		Status:       domain.ConversionFailed,
		ErrorCode:    conversionErrorCode(cause),
		ErrorMessage: cause.Error(),
		CreatedAt:    f.now(),
		UpdatedAt:    f.now(),
	}
	if err := f.conversions.Upsert(context.WithoutCancel(ctx), record); err != nil {
		f.logger.Error("failed to record conversion failure",
			"company_id", companyID,
			"order_number", orderNumber,
			"error", err,
		)
		return
	}

	f.logger.Warn("order finalization failed",
		"company_id", companyID,
		"provider", provider,
		"order_number", orderNumber,
		"error_code", record.ErrorCode,
		"error", cause,
	)
}

func conversionErrorCode(err error) string {
	var (
		verr  *domain.ValidationError
		fault *domain.RemoteDocumentFault
	)
	switch {
	case errors.As(err, &verr):
		return conversionCodeValidation
	case errors.As(err, &fault):
		if fault.Code != "" {
			return fault.Code
		}
		return conversionCodeFault
	case domain.IsReAuthRequired(err):
		return conversionCodeReAuth
	case domain.IsTransient(err):
		return conversionCodeTransient
	default:
		return conversionCodeUnknown
	}
}

// validateOrder collects every problem so the caller can fix them in one pass.
func validateOrder(order *domain.Order) *domain.ValidationError {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(order.Number) == "" {
		verr.Add("order number is required")
	}
	if strings.TrimSpace(order.CustomerExternalID) == "" {
		verr.Add("customer is not linked to the accounting provider")
	}
	if len(order.Lines) == 0 {
		verr.Add("order has no lines")
	}
	for i, line := range order.Lines {
		n := i + 1
		if line.ExternalItemID == "" {
			label := line.SKU
			if label == "" {
				label = line.Description
			}
			verr.Add("line %d (%s): product is not linked to the accounting provider", n, label)
		}
		if line.Quantity <= 0 {
			verr.Add("line %d: quantity must be positive", n)
		}
		if line.UnitPrice < 0 {
			verr.Add("line %d: unit price must not be negative", n)
		}
	}
	if verr.HasProblems() {
		return verr
	}
	return nil
}

func buildEstimatePayload(order *domain.Order, now time.Time) *domain.EstimatePayload {
	payload := &domain.EstimatePayload{
		DocNumber:          order.Number,
		CustomerExternalID: order.CustomerExternalID,
		Memo:               order.Memo,
		TxnDate:            order.TxnDate,
		Lines:              make([]domain.EstimateLine, 0, len(order.Lines)),
	}
	if payload.Memo == "" {
		payload.Memo = "Order " + order.Number
	}
	if payload.TxnDate.IsZero() {
		payload.TxnDate = now
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, domain.EstimateLine{
			ExternalItemID: line.ExternalItemID,
			SKU:            line.SKU,
			Description:    line.Description,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			Amount:         line.Amount(),
		})
	}
	return payload
}
