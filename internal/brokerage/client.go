// Package brokerage defines the remote brokerage contract used by the
// session manager, plus a simulated paper-trading implementation.
package brokerage

import (
	"context"
	"errors"
	"time"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// ErrSessionInvalid is returned by calls made with a token the remote side
// no longer accepts.
var ErrSessionInvalid = errors.New("brokerage session invalid")

// Client is the remote brokerage service. Implementations return errors
// wrapping domain.ErrAuthentication for rejected credentials and
// domain.ErrTransientRemote for network failures or timeouts.
type Client interface {
	Login(ctx context.Context, creds domain.Credentials) (token string, err error)
	Validate(ctx context.Context, token string) (bool, error)
	FetchPortfolio(ctx context.Context, token string) (Portfolio, error)
}

// Position is one holding in the account.
type Position struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	TotalValue float64 `json:"total_value"`
}

// Portfolio is a snapshot of the account.
type Portfolio struct {
	Currency       string     `json:"currency"`
	AvailableFunds float64    `json:"available_funds"`
	Positions      []Position `json:"positions"`
	FetchedAt      time.Time  `json:"fetched_at"`
}

// Total is the market value of all positions plus available funds.
func (p Portfolio) Total() float64 {
	sum := p.AvailableFunds
	for _, pos := range p.Positions {
		sum += pos.TotalValue
	}
	return sum
}
