// Package chain implements C1, the chain gateway: a pool of redundant RPC
// endpoints with round-robin selection, TTL-cached health state, a bounded
// concurrent health sweep, and per-endpoint rate limiting around the two
// calls the rest of the system needs — submit a signed batch, and query a
// signature's confirmation status.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/google/uuid"

	"github.com/reecen9696/atomiq-bet-settlement/internal/bet"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlement"
)

// SignatureStatus is the tri-state result of a confirmation query (§4.6).
type SignatureStatus string

const (
	StatusConfirmed SignatureStatus = "confirmed"
	StatusFailed    SignatureStatus = "failed"
	StatusUnknown   SignatureStatus = "unknown"
)

// BetResult is one bet's outcome after a batch submission, returned
// alongside the batch signature.
type BetResult struct {
	BetID        uuid.UUID
	Won          bool
	PayoutAmount int64
}

// RPC is the narrow capability a single endpoint exposes; Endpoint wraps a
// concrete implementation (an HTTP JSON-RPC client in production, a fake in
// tests) with health bookkeeping.
type RPC interface {
	Health(ctx context.Context) error
	SubmitBetBatch(ctx context.Context, bets []*bet.Bet) (signature string, results []BetResult, err error)
	SubmitSettlementBatch(ctx context.Context, batch *settlement.Batch) (signature string, err error)
	SignatureStatus(ctx context.Context, signature string) (SignatureStatus, error)
}

type endpoint struct {
	url     string
	client  RPC
	limiter *rate.Limiter
}

// Config bounds the gateway's health-check cadence and per-endpoint
// throttle, matching §4.6 and §9's rate-limiting note.
type Config struct {
	HealthCheckPeriod time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches the spec's 60s health-check window with a
// conservative default throttle.
func DefaultConfig() Config {
	return Config{HealthCheckPeriod: 60 * time.Second, RequestsPerSecond: 20, Burst: 40}
}

// Gateway is the production C1 implementation.
type Gateway struct {
	logger *zap.Logger
	cfg    Config

	mu        sync.Mutex
	endpoints []*endpoint
	nextIdx   int

	health *cache.Cache
	pool   *ants.Pool
}

// NewGateway builds a gateway over the given endpoints. urls and clients
// must be parallel slices (one RPC implementation per endpoint URL).
func NewGateway(logger *zap.Logger, cfg Config, urls []string, clients []RPC) (*Gateway, error) {
	if len(urls) != len(clients) {
		return nil, fmt.Errorf("%w: urls/clients length mismatch", bet.ErrInternal)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one chain endpoint is required", bet.ErrInternal)
	}

	pool, err := ants.NewPool(len(urls), ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("%w: health sweep pool: %v", bet.ErrInternal, err)
	}

	g := &Gateway{
		logger: logger,
		cfg:    cfg,
		health: cache.New(cfg.HealthCheckPeriod, 2*cfg.HealthCheckPeriod),
		pool:   pool,
	}
	for i, url := range urls {
		g.endpoints = append(g.endpoints, &endpoint{
			url:     url,
			client:  clients[i],
			limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		})
		g.health.Set(url, true, cache.DefaultExpiration)
	}
	return g, nil
}

// Close releases the bounded goroutine pool used for health sweeps.
func (g *Gateway) Close() {
	g.pool.Release()
}

// GetClient round-robins across all configured endpoints regardless of
// health, for callers that want raw load distribution.
func (g *Gateway) GetClient() RPC {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.endpoints[g.nextIdx]
	g.nextIdx = (g.nextIdx + 1) % len(g.endpoints)
	return e.client
}

// GetHealthyClient returns the first endpoint whose cached health bit is
// true, or nil if none are currently marked healthy.
func (g *Gateway) GetHealthyClient() RPC {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.endpoints {
		if healthy, ok := g.health.Get(e.url); ok && healthy.(bool) {
			return e.client
		}
	}
	return nil
}

// MarkUnhealthy lets a caller that observed a persistent failure flip an
// endpoint's cached health bit without waiting for the next sweep.
func (g *Gateway) MarkUnhealthy(url string) {
	g.health.Set(url, false, cache.DefaultExpiration)
	g.logger.Warn("chain endpoint marked unhealthy", zap.String("url", url))
}

// HealthCheckAll probes every endpoint concurrently, bounded by the ants
// pool so a stalled RPC node cannot spawn unbounded goroutines.
func (g *Gateway) HealthCheckAll(ctx context.Context) {
	g.mu.Lock()
	endpoints := append([]*endpoint(nil), g.endpoints...)
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range endpoints {
		e := e
		wg.Add(1)
		if err := g.pool.Submit(func() {
			defer wg.Done()
			healthy := e.client.Health(ctx) == nil
			g.health.Set(e.url, healthy, cache.DefaultExpiration)
			if healthy {
				g.logger.Debug("chain endpoint healthy", zap.String("url", e.url))
			} else {
				g.logger.Warn("chain endpoint health check failed", zap.String("url", e.url))
			}
		}); err != nil {
			wg.Done()
			g.logger.Error("health sweep submit failed", zap.String("url", e.url), zap.Error(err))
		}
	}
	wg.Wait()
}

// SubmitBetBatch submits a chunk of bets via a healthy endpoint, throttled
// per-endpoint by its token bucket.
func (g *Gateway) SubmitBetBatch(ctx context.Context, bets []*bet.Bet) (string, []BetResult, error) {
	e := g.pickHealthy()
	if e == nil {
		return "", nil, fmt.Errorf("%w: no healthy chain endpoint available", bet.ErrInternal)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", nil, err
	}
	sig, results, err := e.client.SubmitBetBatch(ctx, bets)
	if err != nil {
		g.MarkUnhealthy(e.url)
		return "", nil, err
	}
	return sig, results, nil
}

// SubmitSettlementBatch submits a settlement batch via a healthy endpoint.
func (g *Gateway) SubmitSettlementBatch(ctx context.Context, batch *settlement.Batch) (string, error) {
	e := g.pickHealthy()
	if e == nil {
		return "", fmt.Errorf("%w: no healthy chain endpoint available", bet.ErrInternal)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	sig, err := e.client.SubmitSettlementBatch(ctx, batch)
	if err != nil {
		g.MarkUnhealthy(e.url)
		return "", err
	}
	return sig, nil
}

// GetSignatureStatus queries confirmation status via any healthy endpoint.
func (g *Gateway) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	e := g.pickHealthy()
	if e == nil {
		return StatusUnknown, fmt.Errorf("%w: no healthy chain endpoint available", bet.ErrInternal)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return StatusUnknown, err
	}
	return e.client.SignatureStatus(ctx, signature)
}

func (g *Gateway) pickHealthy() *endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.endpoints)
	for i := 0; i < n; i++ {
		idx := (g.nextIdx + i) % n
		e := g.endpoints[idx]
		if healthy, ok := g.health.Get(e.url); ok && healthy.(bool) {
			g.nextIdx = (idx + 1) % n
			return e
		}
	}
	return nil
}
