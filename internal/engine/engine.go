// Package engine is the correlation and reconciliation core: it absorbs
// inbound support events idempotently, drives the per-ticket intent workflow,
// and reconciles local records against the issue tracker's revision history.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk-io/opsdesk/internal/access"
	"github.com/opsdesk-io/opsdesk/internal/broadcast"
	"github.com/opsdesk-io/opsdesk/internal/classifier"
	"github.com/opsdesk-io/opsdesk/internal/dedup"
	"github.com/opsdesk-io/opsdesk/internal/mailbox"
	"github.com/opsdesk-io/opsdesk/internal/search"
	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/internal/tracker"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

const (
	defaultPollInterval      = 15 * time.Second
	defaultReconcileInterval = 60 * time.Second
	defaultFetchLimit        = 10
)

// Params collects the engine's collaborators and tuning knobs.
type Params struct {
	Store      ticket.Store
	Guard      *dedup.Guard
	Classifier classifier.Classifier
	Tracker    tracker.Client
	Access     access.Controller
	Reader     mailbox.Reader
	Replier    mailbox.Replier
	Index      search.Index // optional
	Sink       broadcast.Sink
	Logger     *slog.Logger

	PollInterval      time.Duration
	ReconcileInterval time.Duration
	FetchLimit        int
}

// Engine owns the two polling loops and all per-event workflow state. There
// is no package-level mutable state: everything lives here, created on Start
// and torn down on Stop.
type Engine struct {
	store      ticket.Store
	guard      *dedup.Guard
	classifier classifier.Classifier
	tracker    tracker.Client
	access     access.Controller
	reader     mailbox.Reader
	replier    mailbox.Replier
	index      search.Index
	sink       broadcast.Sink
	logger     *slog.Logger

	pollInterval      time.Duration
	reconcileInterval time.Duration
	fetchLimit        int

	mu              sync.Mutex
	running         bool
	sessionID       string
	cancelIngest    context.CancelFunc
	cancelReconcile context.CancelFunc
	wg              sync.WaitGroup
}

// New creates a stopped engine.
func New(p Params) *Engine {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Sink == nil {
		p.Sink = broadcast.Discard{}
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaultPollInterval
	}
	if p.ReconcileInterval <= 0 {
		p.ReconcileInterval = defaultReconcileInterval
	}
	if p.FetchLimit <= 0 {
		p.FetchLimit = defaultFetchLimit
	}
	return &Engine{
		store:             p.Store,
		guard:             p.Guard,
		classifier:        p.Classifier,
		tracker:           p.Tracker,
		access:            p.Access,
		reader:            p.Reader,
		replier:           p.Replier,
		index:             p.Index,
		sink:              p.Sink,
		logger:            p.Logger,
		pollInterval:      p.PollInterval,
		reconcileInterval: p.ReconcileInterval,
		fetchLimit:        p.FetchLimit,
	}
}

// Start launches the ingestion and reconciliation loops. It is an error to
// start an already running engine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine: already running")
	}

	e.sessionID = uuid.NewString()
	e.running = true

	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	reconcileCtx, cancelReconcile := context.WithCancel(context.Background())
	e.cancelIngest = cancelIngest
	e.cancelReconcile = cancelReconcile

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.ingestLoop(ingestCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.reconcileLoop(reconcileCtx)
	}()

	e.logger.Info("engine started", "session_id", e.sessionID,
		"poll_interval", e.pollInterval, "reconcile_interval", e.reconcileInterval)
	e.sink.Publish(protocol.LifecycleEvent{
		Type:      protocol.EventSession,
		SessionID: e.sessionID,
		Status:    "started",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Stop cancels both loops at their next iteration boundary and waits for
// in-flight iterations to flush.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	sessionID := e.sessionID
	e.cancelIngest()
	e.cancelReconcile()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.logger.Info("engine stopped", "session_id", sessionID)
	e.sink.Publish(protocol.LifecycleEvent{
		Type:      protocol.EventSession,
		SessionID: sessionID,
		Status:    "stopped",
		Timestamp: time.Now().UTC(),
	})
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SessionID returns the identifier of the current (or last) run.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

func (e *Engine) ingestLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		if err := e.ingestOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("ingest cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.reconcileInterval)
	defer ticker.Stop()
	for {
		if err := e.reconcileOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("reconcile cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) ingestOnce(ctx context.Context) error {
	events, err := e.reader.FetchNew(ctx, e.fetchLimit)
	if err != nil {
		return fmt.Errorf("engine: fetch events: %w", err)
	}
	for _, ev := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.ProcessEvent(ctx, ev); err != nil {
			// One bad event never terminates the cycle.
			e.logger.Error("event processing failed",
				"event_id", ev.EventID, "conversation", ev.ConversationKey, "error", err)
		}
	}
	return nil
}
