package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

func finalizableOrder() *domain.Order {
	return &domain.Order{
		Number:             "SO-1001",
		CustomerExternalID: "C1",
		Lines: []domain.OrderLine{
			{ExternalItemID: "10", Description: "Pallet wrap", Quantity: 3, UnitPrice: 4.99},
			{ExternalItemID: "11", Description: "Strapping", Quantity: 1.5, UnitPrice: 20},
		},
	}
}

func TestFinalizeOrder_CreatesEstimate(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderQuickBooks)

	outcome, err := h.finalizer.FinalizeOrder(context.Background(), "c1", finalizableOrder())
	if err != nil {
		t.Fatalf("FinalizeOrder() error = %v", err)
	}
	if outcome.Remote.ID != "est-1" {
		t.Errorf("Remote.ID = %s, want est-1", outcome.Remote.ID)
	}
	if outcome.Record.Status != domain.ConversionSuccess || outcome.Record.Attempts != 1 {
		t.Errorf("record = %+v", outcome.Record)
	}

	if len(h.qbo.Estimates) != 1 {
		t.Fatalf("estimates sent = %d, want 1", len(h.qbo.Estimates))
	}
	got := h.qbo.Estimates[0]
	want := []domain.EstimateLine{
		{ExternalItemID: "10", Description: "Pallet wrap", Quantity: 3, UnitPrice: 4.99, Amount: 14.97},
		{ExternalItemID: "11", Description: "Strapping", Quantity: 1.5, UnitPrice: 20, Amount: 30},
	}
	if diff := cmp.Diff(want, got.Lines); diff != "" {
		t.Errorf("estimate lines mismatch (-want +got):\n%s", diff)
	}
	if got.DocNumber != "SO-1001" || got.CustomerExternalID != "C1" {
		t.Errorf("payload header = %+v", got)
	}
	if got.Memo != "Order SO-1001" {
		t.Errorf("Memo = %q", got.Memo)
	}
	if time.Since(got.TxnDate) > time.Minute {
		t.Errorf("TxnDate = %v, want defaulted to now", got.TxnDate)
	}

	rec, err := h.finalizer.GetConversion(context.Background(), "c1", "SO-1001")
	if err != nil {
		t.Fatalf("GetConversion() error = %v", err)
	}
	if rec.RemoteID != "est-1" || rec.Provider != domain.ProviderQuickBooks {
		t.Errorf("stored record = %+v", rec)
	}
	if h.metrics.Conversions[domain.ConversionSuccess] != 1 {
		t.Errorf("success conversions = %d", h.metrics.Conversions[domain.ConversionSuccess])
	}
}

func TestFinalizeOrder_KeepsTxnDate(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderXero)

	order := finalizableOrder()
	order.TxnDate = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	for i := range order.Lines {
		order.Lines[i].SKU = "SKU-" + order.Lines[i].ExternalItemID
	}

	if _, err := h.finalizer.FinalizeOrder(context.Background(), "c1", order); err != nil {
		t.Fatalf("FinalizeOrder() error = %v", err)
	}
	if len(h.xero.Estimates) != 1 {
		t.Fatalf("estimates sent = %d, want 1", len(h.xero.Estimates))
	}
	if got := h.xero.Estimates[0].TxnDate; !got.Equal(order.TxnDate) {
		t.Errorf("TxnDate = %v, want %v", got, order.TxnDate)
	}
}

func TestFinalizeOrder_ValidationBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderXero)

	order := &domain.Order{
		Number: "SO-7",
		Lines: []domain.OrderLine{
			{SKU: "UNMAPPED", Quantity: 1, UnitPrice: 5},
			{ExternalItemID: "1", Quantity: 0, UnitPrice: -1},
		},
	}

	_, err := h.finalizer.FinalizeOrder(context.Background(), "c1", order)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(verr.Problems) != 4 {
		t.Errorf("problems = %v, want 4", verr.Problems)
	}
	if !strings.Contains(verr.Problems[1], "UNMAPPED") {
		t.Errorf("unresolved line should be named: %v", verr.Problems)
	}
	if h.xero.CreateEstimateCalls != 0 {
		t.Error("no remote call expected")
	}

	rec, err := h.conversions.Get(context.Background(), "c1", "SO-7")
	if err != nil {
		t.Fatalf("failure should be recorded: %v", err)
	}
	if rec.Status != domain.ConversionFailed || rec.ErrorCode != "validation" {
		t.Errorf("record = %+v", rec)
	}
}

func TestFinalizeOrder_WithoutNumberNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderXero)

	order := finalizableOrder()
	order.Number = ""
	_, err := h.finalizer.FinalizeOrder(context.Background(), "c1", order)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if h.conversions.Count() != 0 {
		t.Errorf("records = %d, want 0", h.conversions.Count())
	}
}

func TestFinalizeOrder_RemoteFaultVerbatim(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderXero)

	fault := &domain.RemoteDocumentFault{
		Provider: domain.ProviderXero,
		Code:     "ValidationException",
		Message:  "Contact is archived",
	}
	h.xero.CreateEstimateFn = func(*domain.EstimatePayload) (*domain.RemoteDocumentRef, error) {
		return nil, fault
	}

	_, err := h.finalizer.FinalizeOrder(context.Background(), "c1", finalizableOrder())
	if err != fault {
		t.Fatalf("error = %v, want the provider fault unmodified", err)
	}

	rec, _ := h.conversions.Get(context.Background(), "c1", "SO-1001")
	if rec.ErrorCode != "ValidationException" || !strings.Contains(rec.ErrorMessage, "Contact is archived") {
		t.Errorf("record = %+v", rec)
	}
}

func TestFinalizeOrder_RetryOverwritesRecord(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderQuickBooks)

	h.qbo.CreateEstimateFn = func(*domain.EstimatePayload) (*domain.RemoteDocumentRef, error) {
		return nil, &domain.ProviderError{Provider: domain.ProviderQuickBooks, Op: "create estimate", StatusCode: 502}
	}
	_, err := h.finalizer.FinalizeOrder(context.Background(), "c1", finalizableOrder())
	if !domain.IsTransient(err) {
		t.Fatalf("first attempt error = %v, want TransientError", err)
	}

	h.qbo.CreateEstimateFn = nil
	if _, err := h.finalizer.FinalizeOrder(context.Background(), "c1", finalizableOrder()); err != nil {
		t.Fatalf("second attempt error = %v", err)
	}

	records, err := h.finalizer.ListConversions(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("ListConversions() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(records))
	}
	rec := records[0]
	if rec.Status != domain.ConversionSuccess || rec.Attempts != 2 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ErrorCode != "" || rec.ErrorMessage != "" {
		t.Errorf("success should clear the earlier error: %+v", rec)
	}
}

func TestFinalizeOrder_ReAuthSurfaces(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderXero)
	_ = h.companies.SetConnectionStatus(context.Background(), "c1", domain.ConnectionStatusReAuthRequired)

	_, err := h.finalizer.FinalizeOrder(context.Background(), "c1", finalizableOrder())
	if !domain.IsReAuthRequired(err) {
		t.Fatalf("error = %v, want ReAuthRequiredError", err)
	}
	rec, _ := h.conversions.Get(context.Background(), "c1", "SO-1001")
	if rec == nil || rec.ErrorCode != "reauth_required" {
		t.Errorf("record = %+v", rec)
	}
}

func TestFinalizeOrder_AuditFailureKeepsRemoteRef(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c1", domain.ProviderQuickBooks)
	h.conversions.UpsertFn = func(*domain.ConversionRecord) error {
		return errors.New("db down")
	}

	outcome, err := h.finalizer.FinalizeOrder(context.Background(), "c1", finalizableOrder())
	if err == nil {
		t.Fatal("expected audit error")
	}
	if outcome == nil || outcome.Remote == nil || outcome.Remote.ID != "est-1" {
		t.Errorf("outcome = %+v, want remote reference", outcome)
	}
}
