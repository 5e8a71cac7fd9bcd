package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// HTTPSource reads a JSON array of trades from a URL. Requests are retried
// on network errors and 5xx responses; the body is decoded as a stream.
type HTTPSource struct {
	url    string
	client *retryablehttp.Client
	log    *zap.Logger
	now    func() time.Time
}

// HTTPOption customizes an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithRetry sets the retry budget and wait bounds.
func WithRetry(max int, waitMin, waitMax time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.client.RetryMax = max
		s.client.RetryWaitMin = waitMin
		s.client.RetryWaitMax = waitMax
	}
}

func NewHTTPSource(url string, timeout time.Duration, log *zap.Logger, opts ...HTTPOption) *HTTPSource {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("feed")

	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = leveledLogger{log.Sugar()}

	s := &HTTPSource{url: url, client: c, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *HTTPSource) Events(ctx context.Context) iter.Seq2[domain.AnalysisEvent, error] {
	return func(yield func(domain.AnalysisEvent, error) bool) {
		body, err := s.fetch(ctx)
		if err != nil {
			yield(domain.AnalysisEvent{}, err)
			return
		}
		defer body.Close()

		dec := json.NewDecoder(body)
		if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
			yield(domain.AnalysisEvent{}, fmt.Errorf("feed: expected JSON array"))
			return
		}

		now := s.now()
		skipped := 0
		for dec.More() {
			var t domain.InsiderTrade
			if err := dec.Decode(&t); err != nil {
				yield(domain.AnalysisEvent{}, fmt.Errorf("feed: decode trade: %w", err))
				return
			}
			if !valid(t) {
				skipped++
				continue
			}
			if !yield(domain.NewAnalysisEvent(t, now), nil) {
				return
			}
		}
		if skipped > 0 {
			s.log.Warn("feed records skipped", zap.Int("count", skipped))
		}
	}
}

func (s *HTTPSource) fetch(ctx context.Context) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: feed: %w", domain.ErrTransientRemote, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("feed: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct{ s *zap.SugaredLogger }

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
