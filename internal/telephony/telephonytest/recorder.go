// Package telephonytest provides a recording telephony.Adapter for tests.
package telephonytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/campaign-engine/internal/telephony"
)

// ErrInjected is returned by legs configured to fail.
var ErrInjected = errors.New("injected provider failure")

// Call is one recorded adapter invocation.
type Call struct {
	Op          string
	SessionName string
	AgentName   string
	Metadata    []byte
	Leg         telephony.OutboundLeg
}

// Recorder records every call and can fail selected outbound legs.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	failLegs  map[string]error
	legsSoFar int
	failNth   map[int]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{failLegs: make(map[string]error), failNth: make(map[int]error)}
}

// FailDestination makes legs to the destination fail.
func (r *Recorder) FailDestination(destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLegs[destination] = fmt.Errorf("dial %s: %w", destination, ErrInjected)
}

// FailNthLeg makes the n-th outbound leg (1-based) fail.
func (r *Recorder) FailNthLeg(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNth[n] = fmt.Errorf("leg %d: %w", n, ErrInjected)
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls of op were recorded; an empty op counts all.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op == "" {
		return len(r.calls)
	}
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Legs returns the recorded outbound legs in order.
func (r *Recorder) Legs() []telephony.OutboundLeg {
	r.mu.Lock()
	defer r.mu.Unlock()
	var legs []telephony.OutboundLeg
	for _, c := range r.calls {
		if c.Op == "leg" {
			legs = append(legs, c.Leg)
		}
	}
	return legs
}

func (r *Recorder) CreateSession(ctx context.Context, name string, metadata []byte) (telephony.SessionRef, error) {
	if err := ctx.Err(); err != nil {
		return telephony.SessionRef{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "session", SessionName: name, Metadata: metadata})
	return telephony.SessionRef{Name: name, SID: "RM_" + name}, nil
}

func (r *Recorder) DispatchAgent(ctx context.Context, sessionName, agentName string, metadata []byte) (telephony.DispatchResult, error) {
	if err := ctx.Err(); err != nil {
		return telephony.DispatchResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "agent", SessionName: sessionName, AgentName: agentName, Metadata: metadata})
	return telephony.DispatchResult{DispatchID: "AD_" + sessionName}, nil
}

func (r *Recorder) PlaceOutboundLeg(ctx context.Context, leg telephony.OutboundLeg) (telephony.CallRef, error) {
	if err := ctx.Err(); err != nil {
		return telephony.CallRef{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "leg", SessionName: leg.SessionName, Leg: leg})
	r.legsSoFar++
	if err, ok := r.failNth[r.legsSoFar]; ok {
		return telephony.CallRef{}, err
	}
	if err, ok := r.failLegs[leg.Destination]; ok {
		return telephony.CallRef{}, err
	}
	return telephony.CallRef{ParticipantID: "PA_" + leg.Destination}, nil
}

var _ telephony.Adapter = (*Recorder)(nil)
