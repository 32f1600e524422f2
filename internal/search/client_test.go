package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

func TestUpsertProjectsLedgerComments(t *testing.T) {
	var got upsertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/index/tickets/42") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	rec := &protocol.TicketRecord{
		CorrelationID:  "tg:100",
		RemoteTicketID: 42,
		Title:          "Grant access",
		Description:    "Read access to poc",
		Ledger: []protocol.UpdateEntry{
			{Status: "Doing", Comment: "Granted read access"},
			{Status: "Done", Comment: ""},
		},
	}
	if err := c.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// title + description + one non-empty comment
	if len(got.Documents) != 3 {
		t.Fatalf("got %d documents, want 3", len(got.Documents))
	}
	if got.Documents[2].TextType != "comment" {
		t.Errorf("third doc type = %q, want comment", got.Documents[2].TextType)
	}
}

func TestUpsertSkipsLocalOnlyRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for record without remote ticket")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	rec := &protocol.TicketRecord{CorrelationID: "tg:100", Title: "chit-chat"}
	if err := c.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient("", nil)
	if c.Enabled() {
		t.Error("empty baseURL should disable the client")
	}
	if err := c.Upsert(context.Background(), &protocol.TicketRecord{RemoteTicketID: 1}); err != nil {
		t.Errorf("upsert on disabled client: %v", err)
	}
	hits, err := c.Query(context.Background(), "anything", 5)
	if err != nil || hits != nil {
		t.Errorf("query on disabled client: hits=%v err=%v", hits, err)
	}
}

func TestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "vpn issue" {
			t.Errorf("q = %q", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hits": []Hit{{RemoteTicketID: 7, Title: "VPN down", Distance: 0.12}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	hits, err := c.Query(context.Background(), "vpn issue", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].RemoteTicketID != 7 {
		t.Errorf("unexpected hits: %+v", hits)
	}
}
