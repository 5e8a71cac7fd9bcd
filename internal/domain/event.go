package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// InsiderTrade is a single insider transaction reported by an analysis source.
type InsiderTrade struct {
	Company         string  `json:"company_name"`
	Insider         string  `json:"insider_name"`
	Relationship    string  `json:"relationship"`
	TransactionDate string  `json:"transaction_date"` // YYYY-MM-DD
	TransactionType string  `json:"transaction_type"` // Buy|Sell
	Price           float64 `json:"price"`
	Quantity        int64   `json:"quantity"`
	TotalValue      float64 `json:"total_value"`
}

func (t InsiderTrade) IsBuy() bool  { return strings.EqualFold(t.TransactionType, "buy") }
func (t InsiderTrade) IsSell() bool { return strings.EqualFold(t.TransactionType, "sell") }

// AnalysisEvent is the immutable unit of deduplication.
type AnalysisEvent struct {
	ID           string
	Payload      InsiderTrade
	DiscoveredAt time.Time // UTC
}

// EventIDFor derives a stable identifier from the trade content, so the same
// transaction seen on different ticks maps to the same event.
func EventIDFor(t InsiderTrade) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(t.Company)),
		strings.ToLower(strings.TrimSpace(t.Insider)),
		t.TransactionDate,
		strings.ToLower(t.TransactionType),
		strconv.FormatFloat(t.Price, 'f', 4, 64),
		strconv.FormatInt(t.Quantity, 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NewAnalysisEvent wraps a trade discovered at now.
func NewAnalysisEvent(t InsiderTrade, now time.Time) AnalysisEvent {
	return AnalysisEvent{ID: EventIDFor(t), Payload: t, DiscoveredAt: now.UTC()}
}

// DeliveryRecord is durable proof that EventID was sent to UserID.
// (EventID, UserID) is unique.
type DeliveryRecord struct {
	EventID     string
	UserID      int64
	DeliveredAt time.Time // UTC
}
