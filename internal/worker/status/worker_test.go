package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/metrics"
	"github.com/acme/campaign-engine/internal/queue"
	"github.com/acme/campaign-engine/internal/repository/memory"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func message(t *testing.T, evt queue.CallEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Key: evt.CampaignID[:], Value: value}
}

func TestHandleAppliesDeltas(t *testing.T) {
	store := memory.NewStore()
	m := metrics.New()
	w := New(&fakeReader{}, store.Stats(), m, nil)
	campaignID := uuid.New()
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, message(t, queue.CallEvent{CampaignID: campaignID, Status: string(domain.CallStatusCompleted), Dispatched: true})))
	require.NoError(t, w.Handle(ctx, message(t, queue.CallEvent{CampaignID: campaignID, Status: string(domain.CallStatusFailed)})))
	require.NoError(t, w.Handle(ctx, message(t, queue.CallEvent{CampaignID: campaignID, Status: string(domain.CallStatusCompleted), Dispatched: true})))

	stats, err := store.Stats().Get(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStats{Dials: 3, Dispatched: 2, Failed: 1}, *stats)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsConsumedTotal.WithLabelValues(resultApplied)))
}

func TestHandleRejectsInvalidPayload(t *testing.T) {
	m := metrics.New()
	w := New(&fakeReader{}, memory.NewStore().Stats(), m, nil)

	err := w.Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsConsumedTotal.WithLabelValues(resultInvalid)))
}

func TestHandleIgnoresEventsWithoutCampaign(t *testing.T) {
	store := memory.NewStore()
	store.FailOn("stats.apply", errors.New("must not be called"))
	w := New(&fakeReader{}, store.Stats(), nil, nil)

	assert.NoError(t, w.Handle(context.Background(), message(t, queue.CallEvent{Status: "completed"})))
}

func TestHandleReportsStoreFailure(t *testing.T) {
	store := memory.NewStore()
	store.FailOn("stats.apply", errors.New("db down"))
	w := New(&fakeReader{}, store.Stats(), nil, nil)

	err := w.Handle(context.Background(), message(t, queue.CallEvent{CampaignID: uuid.New(), Dispatched: true}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestRunCommitsEveryMessage(t *testing.T) {
	store := memory.NewStore()
	campaignID := uuid.New()
	reader := &fakeReader{pending: []kafka.Message{
		message(t, queue.CallEvent{CampaignID: campaignID, Dispatched: true}),
		{Value: []byte("garbage")},
		message(t, queue.CallEvent{CampaignID: campaignID}),
	}}
	w := New(reader, store.Stats(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return reader.committedCount() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, reader.closed)

	stats, err := store.Stats().Get(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Dials)
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Failed)
}
