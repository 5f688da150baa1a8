package mock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/config"
	"github.com/acme/campaign-engine/internal/telephony"
)

// ErrSimulated is returned for randomly failed legs.
var ErrSimulated = errors.New("simulated failure")

// Provider simulates the media provider for local runs.
type Provider struct {
	successRate float64
	latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.CallBridgeConfig) *Provider {
	seed := time.Now().UnixNano()
	rate := cfg.MockSuccessRate
	if rate <= 0 {
		rate = 0.8
	}
	return &Provider{
		successRate: rate,
		latency:     50 * time.Millisecond,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// CreateSession simulates room creation.
func (p *Provider) CreateSession(ctx context.Context, name string, _ []byte) (telephony.SessionRef, error) {
	if err := p.wait(ctx); err != nil {
		return telephony.SessionRef{}, err
	}
	return telephony.SessionRef{Name: name, SID: "RM_" + uuid.NewString()[:12]}, nil
}

// DispatchAgent simulates agent dispatch.
func (p *Provider) DispatchAgent(ctx context.Context, _ string, _ string, _ []byte) (telephony.DispatchResult, error) {
	if err := p.wait(ctx); err != nil {
		return telephony.DispatchResult{}, err
	}
	return telephony.DispatchResult{DispatchID: "AD_" + uuid.NewString()[:12]}, nil
}

// PlaceOutboundLeg fails with probability 1-successRate.
func (p *Provider) PlaceOutboundLeg(ctx context.Context, leg telephony.OutboundLeg) (telephony.CallRef, error) {
	if err := p.wait(ctx); err != nil {
		return telephony.CallRef{}, err
	}

	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()
	if roll > p.successRate {
		return telephony.CallRef{}, fmt.Errorf("dial %s: %w", leg.Destination, ErrSimulated)
	}
	return telephony.CallRef{ParticipantID: "PA_" + uuid.NewString()[:12], SIPCallID: "SCL_" + uuid.NewString()[:12]}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.latency):
		return nil
	}
}
