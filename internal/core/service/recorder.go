package service

import "github.com/rl1809/storefront/internal/core/domain"

// Recorder receives operational counters from the core. The metrics adapter
// implements it with Prometheus collectors.
type Recorder interface {
	CatalogLoaded(source string, items, dropped int, err error)
	StockAdjusted(outcome string)
	CheckoutCompleted(outcome string, rejected int)
	OrderTransitioned(to domain.OrderStatus, err error)
	NotificationDropped()
}

// Stock adjustment outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient"
	OutcomeNotFound     = "not_found"
	OutcomePersistFail  = "persist_failed"
	OutcomeRejected     = "rejected"
	OutcomeDuplicate    = "duplicate"
	OutcomeInvalid      = "invalid"
)

type nopRecorder struct{}

func (nopRecorder) CatalogLoaded(string, int, int, error)       {}
func (nopRecorder) StockAdjusted(string)                        {}
func (nopRecorder) CheckoutCompleted(string, int)               {}
func (nopRecorder) OrderTransitioned(domain.OrderStatus, error) {}
func (nopRecorder) NotificationDropped()                        {}

// NopRecorder discards everything.
func NopRecorder() Recorder { return nopRecorder{} }
