package ticket

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.DB().Close() })
	return store
}

func testRecord(correlationID string, remoteID int64) *protocol.TicketRecord {
	return &protocol.TicketRecord{
		CorrelationID:  correlationID,
		RemoteTicketID: remoteID,
		Title:          "Grant access",
		Description:    "Read access to repo X",
		RequestType:    protocol.RequestAccessGrant,
		Sender:         "alice",
		Subject:        "Grant access",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestInsertIfAbsent(t *testing.T) {
	store := newTestStore(t)

	inserted, err := store.InsertIfAbsent(testRecord("tg:1", 10))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Error("first insert should report true")
	}

	inserted, err = store.InsertIfAbsent(testRecord("tg:1", 99))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Error("second insert must be a no-op")
	}

	rec, err := store.Get("tg:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.RemoteTicketID != 10 {
		t.Errorf("remote id = %d, want original 10", rec.RemoteTicketID)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByRemoteID(123); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByRemoteID(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 42))
	store.InsertIfAbsent(testRecord("tg:2", 0))

	rec, err := store.GetByRemoteID(42)
	if err != nil {
		t.Fatalf("get by remote: %v", err)
	}
	if rec.CorrelationID != "tg:1" {
		t.Errorf("correlation id = %q", rec.CorrelationID)
	}
	// Remote id 0 means "no ticket" and must never resolve.
	if _, err := store.GetByRemoteID(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("remote id 0 resolved: %v", err)
	}
}

func TestAppendChainDeduplicatesEventIDs(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))
	store.InsertIfAbsent(testRecord("tg:2", 11))

	entry := protocol.ChainEntry{EventID: "e1", Sender: "alice", Body: "hello", Timestamp: time.Now().UTC()}
	appended, err := store.AppendChain("tg:1", entry)
	if err != nil || !appended {
		t.Fatalf("first append = %v, %v", appended, err)
	}

	// Same event id again, same record.
	appended, err = store.AppendChain("tg:1", entry)
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if appended {
		t.Error("duplicate event id must not append")
	}

	// Same event id on a different record: still refused, the check is global.
	appended, err = store.AppendChain("tg:2", entry)
	if err != nil {
		t.Fatalf("cross-record append: %v", err)
	}
	if appended {
		t.Error("event ids are globally unique across records")
	}

	ok, err := store.HasEvent("e1")
	if err != nil || !ok {
		t.Errorf("HasEvent(e1) = %v, %v", ok, err)
	}
	ok, _ = store.HasEvent("e2")
	if ok {
		t.Error("HasEvent(e2) should be false")
	}
}

func TestEventIDsPrimeTheGuard(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))
	store.AppendChain("tg:1", protocol.ChainEntry{EventID: "e1", Sender: "a", Timestamp: time.Now().UTC()})
	store.AppendChain("tg:1", protocol.ChainEntry{EventID: "e2", Sender: "b", Timestamp: time.Now().UTC()})

	ids, err := store.EventIDs()
	if err != nil {
		t.Fatalf("event ids: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2", len(ids))
	}
}

func TestLedgerPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))

	for i, rev := range []int{3, 5, 7} {
		err := store.AppendUpdate("tg:1", protocol.UpdateEntry{
			Status:     "Doing",
			Comment:    "update",
			RevisionID: []string{"3", "5", "7"}[i],
			Revision:   rev,
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("append update: %v", err)
		}
	}

	rec, _ := store.Get("tg:1")
	if len(rec.Ledger) != 3 {
		t.Fatalf("ledger length = %d", len(rec.Ledger))
	}
	for i, want := range []int{3, 5, 7} {
		if rec.Ledger[i].Revision != want {
			t.Errorf("ledger[%d].Revision = %d, want %d", i, rec.Ledger[i].Revision, want)
		}
	}

	n, err := store.CountUpdates("tg:1")
	if err != nil || n != 3 {
		t.Errorf("CountUpdates = %d, %v", n, err)
	}
}

func TestWatermarkNeverMovesBackward(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))

	if err := store.AdvanceWatermark("tg:1", 5); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := store.AdvanceWatermark("tg:1", 3); err != nil {
		t.Fatalf("advance lower: %v", err)
	}
	rec, _ := store.Get("tg:1")
	if rec.HighWaterMark != 5 {
		t.Errorf("watermark = %d, want 5", rec.HighWaterMark)
	}

	if err := store.AdvanceWatermark("tg:1", 9); err != nil {
		t.Fatalf("advance higher: %v", err)
	}
	rec, _ = store.Get("tg:1")
	if rec.HighWaterMark != 9 {
		t.Errorf("watermark = %d, want 9", rec.HighWaterMark)
	}
}

func TestResolveActionTransitionsOldestPending(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))

	store.AppendAction("tg:1", "access", protocol.ActionRecord{
		ActionType: "grant", Target: "X", Parameter: "U", Status: protocol.ActionPending,
	})
	store.AppendAction("tg:1", "access", protocol.ActionRecord{
		ActionType: "grant", Target: "X", Parameter: "V", Status: protocol.ActionPending,
	})

	resolved, err := store.ResolveAction("tg:1", "access", "grant", "X", protocol.ActionCompleted, "done")
	if err != nil || !resolved {
		t.Fatalf("resolve = %v, %v", resolved, err)
	}

	rec, _ := store.Get("tg:1")
	actions := rec.Actions["access"]
	if actions[0].Status != protocol.ActionCompleted || actions[0].Message != "done" {
		t.Errorf("oldest action = %+v, want completed", actions[0])
	}
	if actions[1].Status != protocol.ActionPending {
		t.Errorf("newer action = %+v, want still pending", actions[1])
	}

	// Nothing pending for a different target.
	resolved, err = store.ResolveAction("tg:1", "access", "grant", "Y", protocol.ActionCompleted, "done")
	if err != nil {
		t.Fatalf("resolve other target: %v", err)
	}
	if resolved {
		t.Error("no pending action for target Y")
	}
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	a := testRecord("tg:1", 10)
	b := testRecord("tg:2", 0)
	b.RequestType = protocol.RequestGeneral
	c := testRecord("tg:3", 12)
	c.RequestType = protocol.RequestGeneral
	for _, r := range []*protocol.TicketRecord{a, b, c} {
		store.InsertIfAbsent(r)
	}

	all, err := store.List(Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("List all = %d, %v", len(all), err)
	}

	general, _ := store.List(Filter{RequestType: "general_it_request"})
	if len(general) != 2 {
		t.Errorf("general = %d, want 2", len(general))
	}

	remote, _ := store.List(Filter{RemoteOnly: true})
	if len(remote) != 2 {
		t.Errorf("remote = %d, want 2", len(remote))
	}

	limited, _ := store.List(Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}

	types, _ := store.RequestTypes()
	if len(types) != 2 {
		t.Errorf("types = %v, want 2 distinct", types)
	}
}

func TestIndexedFlagAndUnindexed(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))
	store.InsertIfAbsent(testRecord("tg:2", 0)) // local-only, never indexed

	un, err := store.Unindexed()
	if err != nil {
		t.Fatalf("unindexed: %v", err)
	}
	if len(un) != 1 || un[0].CorrelationID != "tg:1" {
		t.Errorf("unindexed = %+v", un)
	}

	if err := store.SetIndexed("tg:1", true); err != nil {
		t.Fatalf("set indexed: %v", err)
	}
	un, _ = store.Unindexed()
	if len(un) != 0 {
		t.Errorf("unindexed after set = %d, want 0", len(un))
	}

	if err := store.SetIndexed("missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("set indexed on missing = %v, want ErrNotFound", err)
	}
}

func TestSetSummaryAndPending(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))

	if err := store.SetSummary("tg:1", "New title", "New description"); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	if err := store.SetPendingActions("tg:1", true); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	rec, _ := store.Get("tg:1")
	if rec.Title != "New title" || !rec.PendingActions {
		t.Errorf("record = %+v", rec)
	}
}

func TestSetRemoteIDOnlyFillsUnset(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 0))

	if err := store.SetRemoteID("tg:1", 42); err != nil {
		t.Fatalf("set remote id: %v", err)
	}
	rec, _ := store.Get("tg:1")
	if rec.RemoteTicketID != 42 {
		t.Fatalf("remote id = %d, want 42", rec.RemoteTicketID)
	}

	// A second assignment must not move the ticket to another work item.
	if err := store.SetRemoteID("tg:1", 99); err == nil {
		t.Fatal("expected error when remote id is already set")
	}
	rec, _ = store.Get("tg:1")
	if rec.RemoteTicketID != 42 {
		t.Errorf("remote id = %d, want 42", rec.RemoteTicketID)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	store.InsertIfAbsent(testRecord("tg:1", 10))
	store.AppendChain("tg:1", protocol.ChainEntry{
		EventID:     "e1",
		Sender:      "alice",
		Subject:     "Grant access",
		Body:        "please",
		Attachments: []protocol.Attachment{{Filename: "screen.png", MimeType: "image/png"}},
		Timestamp:   time.Now().UTC(),
	})
	store.AppendUpdate("tg:1", protocol.UpdateEntry{
		Status: "Done", Comment: "granted", RevisionID: "access-grant-10-1",
		ReplySent: true, ReplyEventID: "out-1", Timestamp: time.Now().UTC(),
	})
	store.AppendAction("tg:1", "access", protocol.ActionRecord{
		ActionType: "grant", Target: "X", Parameter: "U",
		Status: protocol.ActionCompleted, Message: "granted",
	})

	rec, err := store.Get("tg:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rec.Chain) != 1 || len(rec.Chain[0].Attachments) != 1 {
		t.Errorf("chain = %+v", rec.Chain)
	}
	if len(rec.Ledger) != 1 || !rec.Ledger[0].ReplySent || rec.Ledger[0].RevisionID != "access-grant-10-1" {
		t.Errorf("ledger = %+v", rec.Ledger)
	}
	if len(rec.Actions["access"]) != 1 || rec.Actions["access"][0].Status != protocol.ActionCompleted {
		t.Errorf("actions = %+v", rec.Actions)
	}
}
