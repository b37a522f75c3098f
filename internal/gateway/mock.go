package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"paycore/internal/domain"
)

// MockGateway simulates the external settlement gateway. It remembers
// submissions by reference so repeat submissions return the original
// result, introduces a small delay, and fails a configurable fraction of
// calls with transient errors.
type MockGateway struct {
	// FailureRate is the probability of a transient failure (0.0 to 1.0).
	FailureRate float64
	// MaxDelay bounds the simulated network latency. Zero disables it.
	MaxDelay time.Duration

	mu        sync.Mutex
	submitted map[string]SubmitResult
	statuses  map[string]VerifyStatus
}

// NewMockGateway creates a gateway mock with a 10% transient failure rate.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MaxDelay:    500 * time.Millisecond,
		submitted:   map[string]SubmitResult{},
		statuses:    map[string]VerifyStatus{},
	}
}

func (g *MockGateway) SubmitPayment(ctx context.Context, p *domain.Payment) (SubmitResult, error) {
	if err := g.simulate(ctx); err != nil {
		return SubmitResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.submitted[p.ReferenceNumber]; ok {
		return existing, nil
	}
	result := SubmitResult{
		Status:      SubmitAccepted,
		ExternalRef: fmt.Sprintf("EXT-%s", ulid.Make()),
	}
	g.submitted[p.ReferenceNumber] = result
	g.statuses[p.ReferenceNumber] = VerifyCompleted
	return result, nil
}

func (g *MockGateway) VerifyTransaction(ctx context.Context, reference string) (VerifyResult, error) {
	if err := g.simulate(ctx); err != nil {
		return VerifyResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[reference]
	if !ok {
		return VerifyResult{Status: VerifyUnknown}, nil
	}
	return VerifyResult{Status: status, ExternalRef: g.submitted[reference].ExternalRef}, nil
}

// SetStatus overrides the verify result for a reference. Test hook.
func (g *MockGateway) SetStatus(reference string, status VerifyStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[reference] = status
}

func (g *MockGateway) simulate(ctx context.Context) error {
	if g.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(g.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &domain.GatewayTimeoutError{Err: ctx.Err()}
		}
	}
	if rand.Float64() < g.FailureRate {
		return &domain.GatewayConnectionError{Err: fmt.Errorf("gateway temporarily unavailable")}
	}
	return nil
}
