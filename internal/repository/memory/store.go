// Package memory provides an in-process implementation of every repository
// interface. It backs unit tests and local runs without external stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository"
)

// Store holds all state behind a single mutex.
type Store struct {
	mu sync.Mutex

	campaigns  map[uuid.UUID]*domain.Campaign
	calls      map[uuid.UUID]*domain.CampaignCall
	callIndex  map[string]uuid.UUID
	queue      map[uuid.UUID]*domain.CallQueueItem
	queueSeq   map[uuid.UUID]int64
	nextSeq    int64
	lists      map[uuid.UUID][]repository.ContactRecord
	csvFiles   map[uuid.UUID][]repository.ContactRecord
	numbers    map[uuid.UUID]*domain.OutboundNumber
	attempts   []domain.CallAttempt
	stats      map[uuid.UUID]*domain.CampaignStats
	writes     int
	failOnCall map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:  make(map[uuid.UUID]*domain.Campaign),
		calls:      make(map[uuid.UUID]*domain.CampaignCall),
		callIndex:  make(map[string]uuid.UUID),
		queue:      make(map[uuid.UUID]*domain.CallQueueItem),
		queueSeq:   make(map[uuid.UUID]int64),
		lists:      make(map[uuid.UUID][]repository.ContactRecord),
		csvFiles:   make(map[uuid.UUID][]repository.ContactRecord),
		numbers:    make(map[uuid.UUID]*domain.OutboundNumber),
		stats:      make(map[uuid.UUID]*domain.CampaignStats),
		failOnCall: make(map[string]error),
	}
}

// Writes counts mutating operations that changed state.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailOn makes the named operation return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOnCall, op)
		return
	}
	s.failOnCall[op] = err
}

// Campaigns returns the CampaignRepository view.
func (s *Store) Campaigns() *CampaignRepo { return &CampaignRepo{s} }

// Calls returns the CallRepository view.
func (s *Store) Calls() *CallRepo { return &CallRepo{s} }

// Queue returns the QueueRepository view.
func (s *Store) Queue() *QueueRepo { return &QueueRepo{s} }

// Contacts returns the ContactRepository view.
func (s *Store) Contacts() *ContactRepo { return &ContactRepo{s} }

// PhoneNumbers returns the PhoneNumberRepository view.
func (s *Store) PhoneNumbers() *PhoneNumberRepo { return &PhoneNumberRepo{s} }

// Attempts returns the AttemptStore view.
func (s *Store) Attempts() *AttemptRepo { return &AttemptRepo{s} }

// Stats returns the CampaignStatisticsRepository view.
func (s *Store) Stats() *StatsRepo { return &StatsRepo{s} }

// PutCampaign seeds or replaces a campaign.
func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.campaigns[c.ID] = &cp
}

// Campaign returns a copy of the stored campaign.
func (s *Store) Campaign(id uuid.UUID) domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return *c
	}
	return domain.Campaign{}
}

// PutContactList seeds a contact list.
func (s *Store) PutContactList(id uuid.UUID, records ...repository.ContactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[id] = append(s.lists[id], records...)
}

// PutCSVFile seeds CSV rows.
func (s *Store) PutCSVFile(id uuid.UUID, records ...repository.ContactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csvFiles[id] = append(s.csvFiles[id], records...)
}

// PutPhoneNumber binds an outbound number to an assistant.
func (s *Store) PutPhoneNumber(assistantID uuid.UUID, n domain.OutboundNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := n
	s.numbers[assistantID] = &cp
}

// PutQueueItem seeds a queue item directly.
func (s *Store) PutQueueItem(item domain.CallQueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := item
	s.putQueue(&cp)
}

func (s *Store) putQueue(q *domain.CallQueueItem) {
	if _, ok := s.queueSeq[q.ID]; !ok {
		s.nextSeq++
		s.queueSeq[q.ID] = s.nextSeq
	}
	s.queue[q.ID] = q
}

// AllCalls returns copies of every call for a campaign, oldest first.
func (s *Store) AllCalls(campaignID uuid.UUID) []domain.CampaignCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CampaignCall
	for _, c := range s.calls {
		if c.CampaignID == campaignID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// AllQueueItems returns copies of every queue item for a campaign in
// insertion order.
func (s *Store) AllQueueItems(campaignID uuid.UUID) []domain.CallQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CallQueueItem
	for _, q := range s.queue {
		if q.CampaignID == campaignID {
			out = append(out, *q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.queueSeq[out[i].ID] < s.queueSeq[out[j].ID] })
	return out
}

func (s *Store) fail(op string) error {
	return s.failOnCall[op]
}

func callKey(campaignID uuid.UUID, phone string) string {
	return campaignID.String() + "|" + phone
}

// CampaignRepo implements repository.CampaignRepository.
type CampaignRepo struct{ s *Store }

func (r *CampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("campaigns.get"); err != nil {
		return nil, err
	}
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) ListRunning(_ context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("campaigns.list_running"); err != nil {
		return nil, err
	}
	var out []*domain.Campaign
	for _, c := range r.s.campaigns {
		if c.ExecutionStatus != domain.ExecutionRunning {
			continue
		}
		if c.NextCallAt != nil && c.NextCallAt.After(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].NextCallAt, out[j].NextCallAt
		switch {
		case a == nil && b == nil:
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CampaignRepo) UpdateExecution(_ context.Context, id uuid.UUID, tr domain.ExecutionTransition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("campaigns.update_execution"); err != nil {
		return false, err
	}
	c, ok := r.s.campaigns[id]
	if !ok || !tr.Allows(c.ExecutionStatus) {
		return false, nil
	}
	c.ExecutionStatus = tr.To
	c.Status = tr.Status
	if tr.NextCallAt != nil {
		t := *tr.NextCallAt
		c.NextCallAt = &t
	}
	c.UpdatedAt = time.Now().UTC()
	r.s.writes++
	return true, nil
}

func (r *CampaignRepo) IncrementDailyCalls(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("campaigns.increment_daily_calls"); err != nil {
		return false, err
	}
	c, ok := r.s.campaigns[id]
	if !ok || c.CurrentDailyCalls >= c.DailyCap {
		return false, nil
	}
	c.CurrentDailyCalls++
	c.TotalCallsMade++
	t := at
	c.LastExecutionAt = &t
	r.s.writes++
	return true, nil
}

func (r *CampaignRepo) ReleaseDailyCall(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("campaigns.release_daily_call"); err != nil {
		return err
	}
	c, ok := r.s.campaigns[id]
	if !ok || c.CurrentDailyCalls == 0 {
		return nil
	}
	c.CurrentDailyCalls--
	if c.TotalCallsMade > 0 {
		c.TotalCallsMade--
	}
	r.s.writes++
	return nil
}

func (r *CampaignRepo) RollDailyCounter(_ context.Context, id uuid.UUID, day time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, nil
	}
	if c.DailyCallsDate != nil && sameDate(*c.DailyCallsDate, day) {
		return false, nil
	}
	if c.DailyCallsDate != nil {
		c.CurrentDailyCalls = 0
	}
	d := day
	c.DailyCallsDate = &d
	r.s.writes++
	return true, nil
}

func (r *CampaignRepo) IncrementErrors(_ context.Context, id uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	c.ConsecutiveErrors++
	r.s.writes++
	return c.ConsecutiveErrors, nil
}

func (r *CampaignRepo) ResetErrors(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.campaigns[id]; ok && c.ConsecutiveErrors != 0 {
		c.ConsecutiveErrors = 0
		r.s.writes++
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CallRepo implements repository.CallRepository.
type CallRepo struct{ s *Store }

func (r *CallRepo) CreateWithQueueItem(_ context.Context, call *domain.CampaignCall, item *domain.CallQueueItem) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("calls.create"); err != nil {
		return false, err
	}
	key := callKey(call.CampaignID, call.PhoneNumber)
	if _, exists := r.s.callIndex[key]; exists {
		return false, nil
	}
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if call.Outcome == "" {
		call.Outcome = domain.OutcomeNone
	}
	item.CampaignCallID = call.ID

	c := *call
	q := *item
	r.s.calls[c.ID] = &c
	r.s.callIndex[key] = c.ID
	r.s.putQueue(&q)
	r.s.writes++
	return true, nil
}

func (r *CallRepo) Get(_ context.Context, id uuid.UUID) (*domain.CampaignCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CallRepo) MarkCalling(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	return r.update(id, func(c *domain.CampaignCall) {
		c.Status = domain.CallStatusCalling
		t := startedAt
		c.StartedAt = &t
	})
}

func (r *CallRepo) MarkDispatched(_ context.Context, id uuid.UUID, callSID, roomName string) error {
	return r.update(id, func(c *domain.CampaignCall) {
		c.CallSID = callSID
		c.RoomName = roomName
	})
}

func (r *CallRepo) MarkFailed(_ context.Context, id uuid.UUID, at time.Time, notes string) error {
	return r.update(id, func(c *domain.CampaignCall) {
		c.Status = domain.CallStatusFailed
		t := at
		c.CompletedAt = &t
		c.Notes = notes
	})
}

func (r *CallRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, limit, offset int) ([]domain.CampaignCall, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []domain.CampaignCall
	for _, c := range r.s.calls {
		if c.CampaignID == campaignID {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *CallRepo) update(id uuid.UUID, fn func(*domain.CampaignCall)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	r.s.writes++
	return nil
}

// QueueRepo implements repository.QueueRepository.
type QueueRepo struct{ s *Store }

func (r *QueueRepo) CountQueued(_ context.Context, campaignID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, q := range r.s.queue {
		if q.CampaignID == campaignID && q.Status == domain.QueueStatusQueued {
			n++
		}
	}
	return n, nil
}

func (r *QueueRepo) FindDue(_ context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]domain.CallQueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var out []domain.CallQueueItem
	for _, q := range r.s.queue {
		if q.CampaignID == campaignID && q.Status == domain.QueueStatusQueued && !q.ScheduledFor.After(now) {
			out = append(out, *q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ScheduledFor.Before(out[j].ScheduledFor)
		}
		return r.s.queueSeq[out[i].ID] < r.s.queueSeq[out[j].ID]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *QueueRepo) Claim(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.queue[id]
	if !ok || q.Status != domain.QueueStatusQueued {
		return false, nil
	}
	q.Status = domain.QueueStatusProcessing
	q.Attempts++
	t := at
	q.LastAttemptAt = &t
	r.s.writes++
	return true, nil
}

func (r *QueueRepo) Finish(_ context.Context, id uuid.UUID, status domain.QueueStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if q, ok := r.s.queue[id]; ok {
		q.Status = status
		q.UpdatedAt = at
		r.s.writes++
	}
	return nil
}

// ContactRepo implements repository.ContactRepository.
type ContactRepo struct{ s *Store }

func (r *ContactRepo) ListByContactList(_ context.Context, listID uuid.UUID) ([]repository.ContactRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("contacts.list"); err != nil {
		return nil, err
	}
	return append([]repository.ContactRecord(nil), r.s.lists[listID]...), nil
}

func (r *ContactRepo) ListByCSVFile(_ context.Context, fileID uuid.UUID) ([]repository.ContactRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("contacts.list"); err != nil {
		return nil, err
	}
	return append([]repository.ContactRecord(nil), r.s.csvFiles[fileID]...), nil
}

// PhoneNumberRepo implements repository.PhoneNumberRepository.
type PhoneNumberRepo struct{ s *Store }

func (r *PhoneNumberRepo) FindActiveOutbound(_ context.Context, assistantID uuid.UUID) (*domain.OutboundNumber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.numbers[assistantID]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

// AttemptRepo implements repository.AttemptStore. The paging state is the
// decimal offset of the next row.
type AttemptRepo struct{ s *Store }

func (r *AttemptRepo) AppendAttempt(_ context.Context, attempt domain.CallAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("attempts.append"); err != nil {
		return err
	}
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	r.s.attempts = append(r.s.attempts, attempt)
	return nil
}

func (r *AttemptRepo) ListAttemptsByCampaign(_ context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []domain.CallAttempt
	for i := len(r.s.attempts) - 1; i >= 0; i-- {
		if r.s.attempts[i].CampaignID == campaignID {
			all = append(all, r.s.attempts[i])
		}
	}
	offset := decodeOffset(pagingState)
	if offset >= len(all) {
		return nil, nil, nil
	}
	all = all[offset:]
	if limit <= 0 || len(all) <= limit {
		return all, nil, nil
	}
	return all[:limit], encodeOffset(offset + limit), nil
}

// StatsRepo implements repository.CampaignStatisticsRepository.
type StatsRepo struct{ s *Store }

func (r *StatsRepo) Ensure(_ context.Context, campaignID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.stats[campaignID]; !ok {
		r.s.stats[campaignID] = &domain.CampaignStats{}
	}
	return nil
}

func (r *StatsRepo) Get(_ context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stats[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *StatsRepo) ApplyDelta(_ context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("stats.apply"); err != nil {
		return err
	}
	st, ok := r.s.stats[campaignID]
	if !ok {
		st = &domain.CampaignStats{}
		r.s.stats[campaignID] = st
	}
	st.Dials += delta.DialsDelta
	st.Dispatched += delta.DispatchedDelta
	st.Failed += delta.FailedDelta
	return nil
}

var (
	_ repository.CampaignRepository           = (*CampaignRepo)(nil)
	_ repository.CallRepository               = (*CallRepo)(nil)
	_ repository.QueueRepository              = (*QueueRepo)(nil)
	_ repository.ContactRepository            = (*ContactRepo)(nil)
	_ repository.PhoneNumberRepository        = (*PhoneNumberRepo)(nil)
	_ repository.AttemptStore                 = (*AttemptRepo)(nil)
	_ repository.CampaignStatisticsRepository = (*StatsRepo)(nil)
)
