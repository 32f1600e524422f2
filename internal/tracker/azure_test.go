package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json-patch+json" {
			t.Errorf("content type = %q", ct)
		}
		var ops []patchOp
		if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
			t.Fatalf("decode patch: %v", err)
		}
		if len(ops) != 2 || ops[0].Path != "/fields/System.Title" {
			t.Errorf("unexpected patch document: %+v", ops)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": 42,
			"_links": map[string]any{
				"html": map[string]any{"href": "https://dev.azure.com/org/proj/_workitems/edit/42"},
			},
		})
	}))
	defer srv.Close()

	c := NewAzure("org", "proj", "pat", WithAzureBaseURL(srv.URL))
	ticket, err := c.Create(context.Background(), "Grant access", "Grant read access to poc", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.ID != 42 {
		t.Errorf("id = %d, want 42", ticket.ID)
	}
	if ticket.URL == "" {
		t.Error("expected work item URL")
	}
}

func TestRevisions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"rev": 1, "fields": map[string]any{
					"System.State": map[string]any{"newValue": "To Do"},
				}},
				{"rev": 2, "fields": map[string]any{
					"System.State":   map[string]any{"newValue": "Doing"},
					"System.History": map[string]any{"newValue": "Started work"},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewAzure("org", "proj", "pat", WithAzureBaseURL(srv.URL))
	revs, err := c.Revisions(context.Background(), 42)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("got %d revisions, want 2", len(revs))
	}
	if revs[1].ID != 2 || revs[1].Status != "Doing" || revs[1].Comment != "Started work" {
		t.Errorf("unexpected revision: %+v", revs[1])
	}
}

func TestUpdateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "work item not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewAzure("org", "proj", "pat", WithAzureBaseURL(srv.URL))
	if err := c.Update(context.Background(), 99, StatusDone, "done"); err == nil {
		t.Fatal("expected error on 404")
	}
}
