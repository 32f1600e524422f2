package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/opsdesk-io/opsdesk/internal/mailbox"
	"github.com/opsdesk-io/opsdesk/internal/search"
	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// memStore is an in-memory ticket.Store with the same atomic semantics as
// the SQLite implementation.
type memStore struct {
	mu     sync.Mutex
	recs   map[string]*protocol.TicketRecord
	events map[string]string // event id -> correlation id
}

func newMemStore() *memStore {
	return &memStore{
		recs:   make(map[string]*protocol.TicketRecord),
		events: make(map[string]string),
	}
}

func cloneRecord(r *protocol.TicketRecord) *protocol.TicketRecord {
	c := *r
	c.Chain = append([]protocol.ChainEntry(nil), r.Chain...)
	c.Ledger = append([]protocol.UpdateEntry(nil), r.Ledger...)
	c.Actions = make(map[string][]protocol.ActionRecord, len(r.Actions))
	for k, v := range r.Actions {
		c.Actions[k] = append([]protocol.ActionRecord(nil), v...)
	}
	return &c
}

func (s *memStore) InsertIfAbsent(rec *protocol.TicketRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.CorrelationID]; ok {
		return false, nil
	}
	s.recs[rec.CorrelationID] = cloneRecord(rec)
	return true, nil
}

func (s *memStore) Get(correlationID string) (*protocol.TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *memStore) GetByRemoteID(remoteID int64) (*protocol.TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.RemoteTicketID == remoteID {
			return cloneRecord(rec), nil
		}
	}
	return nil, ticket.ErrNotFound
}

func (s *memStore) List(filter ticket.Filter) ([]*protocol.TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.TicketRecord
	for _, rec := range s.recs {
		if filter.RemoteOnly && rec.RemoteTicketID == 0 {
			continue
		}
		if filter.RequestType != "" && string(rec.RequestType) != filter.RequestType {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CorrelationID < out[j].CorrelationID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) RequestTypes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, rec := range s.recs {
		seen[string(rec.RequestType)] = struct{}{}
	}
	var out []string
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) AppendChain(correlationID string, e protocol.ChainEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.EventID]; ok {
		return false, nil
	}
	rec, ok := s.recs[correlationID]
	if !ok {
		return false, ticket.ErrNotFound
	}
	rec.Chain = append(rec.Chain, e)
	s.events[e.EventID] = correlationID
	return true, nil
}

func (s *memStore) HasEvent(eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *memStore) EventIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.events {
		out = append(out, id)
	}
	return out, nil
}

func (s *memStore) AppendUpdate(correlationID string, u protocol.UpdateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	rec.Ledger = append(rec.Ledger, u)
	return nil
}

func (s *memStore) CountUpdates(correlationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return 0, ticket.ErrNotFound
	}
	return len(rec.Ledger), nil
}

func (s *memStore) AppendAction(correlationID, domain string, a protocol.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	if rec.Actions == nil {
		rec.Actions = make(map[string][]protocol.ActionRecord)
	}
	rec.Actions[domain] = append(rec.Actions[domain], a)
	return nil
}

func (s *memStore) ResolveAction(correlationID, domain, actionType, target string, to protocol.ActionStatus, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return false, ticket.ErrNotFound
	}
	for i, a := range rec.Actions[domain] {
		if a.ActionType == actionType && a.Target == target && a.Status == protocol.ActionPending {
			rec.Actions[domain][i].Status = to
			rec.Actions[domain][i].Message = message
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SetSummary(correlationID, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	rec.Title, rec.Description = title, description
	return nil
}

func (s *memStore) SetRemoteID(correlationID string, remoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	if rec.RemoteTicketID != 0 {
		return ticket.ErrNotFound
	}
	rec.RemoteTicketID = remoteID
	return nil
}

func (s *memStore) SetPendingActions(correlationID string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	rec.PendingActions = pending
	return nil
}

func (s *memStore) SetIndexed(correlationID string, indexed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	rec.IndexedInSearch = indexed
	return nil
}

func (s *memStore) Unindexed() ([]*protocol.TicketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.TicketRecord
	for _, rec := range s.recs {
		if !rec.IndexedInSearch && rec.RemoteTicketID != 0 {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *memStore) AdvanceWatermark(correlationID string, revision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[correlationID]
	if !ok {
		return ticket.ErrNotFound
	}
	if revision > rec.HighWaterMark {
		rec.HighWaterMark = revision
	}
	return nil
}

// fakeClassifier returns canned verdicts and summaries.
type fakeClassifier struct {
	mu          sync.Mutex
	verdict     *protocol.Verdict
	classifyErr error
	summaryErr  error
	calls       int
}

func (c *fakeClassifier) ClassifyIntent(_ context.Context, _, _ string, _ []protocol.Attachment) (*protocol.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.classifyErr != nil {
		return nil, c.classifyErr
	}
	return c.verdict, nil
}

func (c *fakeClassifier) SummarizeTicket(_ context.Context, rec *protocol.TicketRecord) (string, error) {
	if c.summaryErr != nil {
		return "", c.summaryErr
	}
	return "Summary of " + rec.Title, nil
}

func (c *fakeClassifier) SummarizeRevisions(_ context.Context, _ *protocol.TicketRecord, revs []protocol.Revision) (string, error) {
	if c.summaryErr != nil {
		return "", c.summaryErr
	}
	return fmt.Sprintf("%d new update(s) on your ticket", len(revs)), nil
}

func (c *fakeClassifier) ActionReply(_ context.Context, _ *protocol.TicketRecord, action protocol.ActionRecord) (string, error) {
	return "Action " + action.ActionType + ": " + string(action.Status), nil
}

// fakeTracker hands out sequential remote ids and records update calls.
type fakeTracker struct {
	mu        sync.Mutex
	nextID    int64
	createErr error
	revisions []protocol.Revision
	updates   []string // "id:status"
	creates   int
}

func (t *fakeTracker) Create(_ context.Context, title, _ string, _ []protocol.Attachment) (*protocol.RemoteTicket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return nil, t.createErr
	}
	t.creates++
	t.nextID++
	return &protocol.RemoteTicket{ID: t.nextID, Title: title}, nil
}

func (t *fakeTracker) Update(_ context.Context, remoteID int64, status, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, fmt.Sprintf("%d:%s", remoteID, status))
	return nil
}

func (t *fakeTracker) Revisions(_ context.Context, _ int64) ([]protocol.Revision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Revision(nil), t.revisions...), nil
}

func (t *fakeTracker) ListAll(_ context.Context) ([]protocol.RemoteTicket, error) {
	return nil, nil
}

func (t *fakeTracker) lastUpdate() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.updates) == 0 {
		return ""
	}
	return t.updates[len(t.updates)-1]
}

// fakeAccess records grant/revoke invocations.
type fakeAccess struct {
	mu       sync.Mutex
	grantErr error
	grants   int
	revokes  int
}

func (a *fakeAccess) Grant(_ context.Context, repository, principal, level string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grantErr != nil {
		return "", a.grantErr
	}
	a.grants++
	return fmt.Sprintf("granted %s on %s to %s", level, repository, principal), nil
}

func (a *fakeAccess) Revoke(_ context.Context, repository, principal string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revokes++
	return fmt.Sprintf("revoked %s for %s", repository, principal), nil
}

// fakeReader serves a fixed batch of events once.
type fakeReader struct {
	mu     sync.Mutex
	events []protocol.InboundEvent
}

func (r *fakeReader) FetchNew(_ context.Context, limit int) ([]protocol.InboundEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil, nil
	}
	n := len(r.events)
	if limit > 0 && n > limit {
		n = limit
	}
	batch := r.events[:n]
	r.events = r.events[n:]
	return batch, nil
}

// fakeReplier records sends and mints sequential outgoing ids.
type fakeReplier struct {
	mu      sync.Mutex
	sendErr error
	sent    []mailbox.SendRequest
}

func (r *fakeReplier) Send(_ context.Context, req mailbox.SendRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return "", r.sendErr
	}
	r.sent = append(r.sent, req)
	return fmt.Sprintf("out-%d", len(r.sent)), nil
}

func (r *fakeReplier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// fakeIndex counts upserts.
type fakeIndex struct {
	mu      sync.Mutex
	upserts int
	err     error
}

func (i *fakeIndex) Upsert(_ context.Context, _ *protocol.TicketRecord) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.upserts++
	return nil
}

func (i *fakeIndex) Query(_ context.Context, _ string, _ int) ([]search.Hit, error) {
	return nil, nil
}
