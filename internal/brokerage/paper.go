package brokerage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// Paper is a simulated brokerage. It accepts any non-empty credentials,
// issues random tokens that expire after TTL and serves a fixed portfolio.
type Paper struct {
	ttl     time.Duration
	latency time.Duration
	now     func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiry
}

// PaperOption customizes a Paper client.
type PaperOption func(*Paper)

// WithTTL sets how long issued tokens stay valid.
func WithTTL(d time.Duration) PaperOption { return func(p *Paper) { p.ttl = d } }

// WithLatency makes every call wait d, honoring context cancellation.
func WithLatency(d time.Duration) PaperOption { return func(p *Paper) { p.latency = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) PaperOption { return func(p *Paper) { p.now = now } }

func NewPaper(opts ...PaperOption) *Paper {
	p := &Paper{
		ttl:    30 * time.Minute,
		now:    time.Now,
		tokens: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Paper) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrTransientRemote, ctx.Err())
	case <-t.C:
		return nil
	}
}

func (p *Paper) Login(ctx context.Context, creds domain.Credentials) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if creds.Empty() {
		return "", fmt.Errorf("%w: missing username or password", domain.ErrAuthentication)
	}
	token := uuid.NewString()

	p.mu.Lock()
	p.tokens[token] = p.now().Add(p.ttl)
	p.mu.Unlock()
	return token, nil
}

func (p *Paper) Validate(ctx context.Context, token string) (bool, error) {
	if err := p.wait(ctx); err != nil {
		return false, err
	}
	return p.valid(token), nil
}

func (p *Paper) valid(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	exp, ok := p.tokens[token]
	if !ok {
		return false
	}
	if !p.now().Before(exp) {
		delete(p.tokens, token)
		return false
	}
	return true
}

// Expire drops a token as if the remote side had ended the session.
func (p *Paper) Expire(token string) {
	p.mu.Lock()
	delete(p.tokens, token)
	p.mu.Unlock()
}

func (p *Paper) FetchPortfolio(ctx context.Context, token string) (Portfolio, error) {
	if err := p.wait(ctx); err != nil {
		return Portfolio{}, err
	}
	if !p.valid(token) {
		return Portfolio{}, ErrSessionInvalid
	}
	return Portfolio{
		Currency:       "EUR",
		AvailableFunds: 5000,
		Positions: []Position{
			{ID: "12345", Symbol: "AAPL", Name: "Apple Inc.", Quantity: 10, Price: 150.25, TotalValue: 1502.50},
			{ID: "67890", Symbol: "GOOGL", Name: "Alphabet Inc.", Quantity: 5, Price: 2500.75, TotalValue: 12503.75},
		},
		FetchedAt: p.now().UTC(),
	}, nil
}
