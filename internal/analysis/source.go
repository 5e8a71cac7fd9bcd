// Package analysis produces candidate insider-trade events for a tick.
//
// Sources are restartable: every call to Events starts a fresh, finite
// sequence and keeps no state between ticks. Which trades count as
// significant is decided by the upstream feed.
package analysis

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// Source yields the candidate events of one tick. A non-nil error ends the
// sequence.
type Source interface {
	Events(ctx context.Context) iter.Seq2[domain.AnalysisEvent, error]
}

// valid filters out records the feed sent half-filled.
func valid(t domain.InsiderTrade) bool {
	if strings.TrimSpace(t.Company) == "" || strings.TrimSpace(t.TransactionDate) == "" {
		return false
	}
	if !t.IsBuy() && !t.IsSell() {
		return false
	}
	return t.Quantity > 0 && t.Price >= 0
}

// StaticSource replays a fixed list of trades.
type StaticSource struct {
	trades []domain.InsiderTrade
	now    func() time.Time
}

// NewStaticSource serves trades, or SampleTrades when none are given.
func NewStaticSource(trades ...domain.InsiderTrade) *StaticSource {
	if len(trades) == 0 {
		trades = SampleTrades()
	}
	return &StaticSource{trades: trades, now: time.Now}
}

func (s *StaticSource) Events(ctx context.Context) iter.Seq2[domain.AnalysisEvent, error] {
	return func(yield func(domain.AnalysisEvent, error) bool) {
		now := s.now()
		for _, t := range s.trades {
			if err := ctx.Err(); err != nil {
				yield(domain.AnalysisEvent{}, err)
				return
			}
			if !valid(t) {
				continue
			}
			if !yield(domain.NewAnalysisEvent(t, now), nil) {
				return
			}
		}
	}
}

// SampleTrades is the demo feed used when no FEED_URL is configured.
func SampleTrades() []domain.InsiderTrade {
	return []domain.InsiderTrade{
		{
			Company:         "TechCorp Inc.",
			Insider:         "John Doe",
			Relationship:    "CEO",
			TransactionDate: "2025-11-01",
			TransactionType: "Buy",
			Price:           150.25,
			Quantity:        1000,
			TotalValue:      150250.00,
		},
		{
			Company:         "Global Solutions Ltd.",
			Insider:         "Jane Smith",
			Relationship:    "CFO",
			TransactionDate: "2025-10-31",
			TransactionType: "Sell",
			Price:           42.75,
			Quantity:        5000,
			TotalValue:      213750.00,
		},
	}
}
