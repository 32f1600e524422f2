package ticket

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// SQLiteStore implements Store using SQLite. Chain and ledger tables are
// append-only; the chain's event_id primary key makes AppendChain an atomic
// insert-if-absent.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			correlation_id    TEXT PRIMARY KEY,
			remote_ticket_id  INTEGER NOT NULL DEFAULT 0,
			title             TEXT NOT NULL DEFAULT '',
			description       TEXT NOT NULL DEFAULT '',
			request_type      TEXT NOT NULL DEFAULT '',
			sender            TEXT NOT NULL DEFAULT '',
			subject           TEXT NOT NULL DEFAULT '',
			pending_actions   INTEGER NOT NULL DEFAULT 0,
			indexed_in_search INTEGER NOT NULL DEFAULT 0,
			high_water_mark   INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chain_entries (
			event_id       TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL REFERENCES tickets(correlation_id),
			sender         TEXT NOT NULL,
			subject        TEXT NOT NULL DEFAULT '',
			body           TEXT NOT NULL DEFAULT '',
			outbound       INTEGER NOT NULL DEFAULT 0,
			attachments    TEXT NOT NULL DEFAULT '[]',
			timestamp      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL REFERENCES tickets(correlation_id),
			status         TEXT NOT NULL,
			comment        TEXT NOT NULL DEFAULT '',
			revision_id    TEXT NOT NULL,
			revision       INTEGER NOT NULL DEFAULT 0,
			reply_sent     INTEGER NOT NULL DEFAULT 0,
			reply_event_id TEXT NOT NULL DEFAULT '',
			timestamp      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS action_records (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL REFERENCES tickets(correlation_id),
			domain         TEXT NOT NULL,
			action_type    TEXT NOT NULL,
			target         TEXT NOT NULL DEFAULT '',
			parameter      TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			message        TEXT NOT NULL DEFAULT ''
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_remote
			ON tickets(remote_ticket_id) WHERE remote_ticket_id != 0;
		CREATE INDEX IF NOT EXISTS idx_chain_correlation ON chain_entries(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_correlation ON ledger_entries(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_actions_correlation ON action_records(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_type ON tickets(request_type);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertIfAbsent(rec *protocol.TicketRecord) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO tickets (correlation_id, remote_ticket_id, title, description, request_type,
			sender, subject, pending_actions, indexed_in_search, high_water_mark, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING
	`, rec.CorrelationID, rec.RemoteTicketID, rec.Title, rec.Description, string(rec.RequestType),
		rec.Sender, rec.Subject, boolInt(rec.PendingActions), boolInt(rec.IndexedInSearch),
		rec.HighWaterMark, rec.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("ticket store: insert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Get(correlationID string) (*protocol.TicketRecord, error) {
	row := s.db.QueryRow(`SELECT correlation_id, remote_ticket_id, title, description, request_type,
		sender, subject, pending_actions, indexed_in_search, high_water_mark, created_at
		FROM tickets WHERE correlation_id = ?`, correlationID)
	return s.loadRecord(row)
}

func (s *SQLiteStore) GetByRemoteID(remoteID int64) (*protocol.TicketRecord, error) {
	row := s.db.QueryRow(`SELECT correlation_id, remote_ticket_id, title, description, request_type,
		sender, subject, pending_actions, indexed_in_search, high_water_mark, created_at
		FROM tickets WHERE remote_ticket_id = ? AND remote_ticket_id != 0`, remoteID)
	return s.loadRecord(row)
}

func (s *SQLiteStore) loadRecord(row *sql.Row) (*protocol.TicketRecord, error) {
	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	if rec.Chain, err = s.loadChain(rec.CorrelationID); err != nil {
		return nil, err
	}
	if rec.Ledger, err = s.loadLedger(rec.CorrelationID); err != nil {
		return nil, err
	}
	if rec.Actions, err = s.loadActions(rec.CorrelationID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.TicketRecord, error) {
	query := `SELECT correlation_id, remote_ticket_id, title, description, request_type,
		sender, subject, pending_actions, indexed_in_search, high_water_mark, created_at
		FROM tickets WHERE 1=1`
	var args []any
	if filter.RequestType != "" {
		query += " AND request_type = ?"
		args = append(args, filter.RequestType)
	}
	if filter.RemoteOnly {
		query += " AND remote_ticket_id != 0"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var recs []*protocol.TicketRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) RequestTypes() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT request_type FROM tickets WHERE request_type != '' ORDER BY request_type`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: request types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("ticket store: request types scan: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *SQLiteStore) AppendChain(correlationID string, e protocol.ChainEntry) (bool, error) {
	attachments, _ := json.Marshal(e.Attachments)
	res, err := s.db.Exec(`
		INSERT INTO chain_entries (event_id, correlation_id, sender, subject, body, outbound, attachments, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, e.EventID, correlationID, e.Sender, e.Subject, e.Body, boolInt(e.Outbound),
		string(attachments), e.Timestamp.Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("ticket store: append chain: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) HasEvent(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chain_entries WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ticket store: has event: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) EventIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT event_id FROM chain_entries`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ticket store: event ids scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) AppendUpdate(correlationID string, u protocol.UpdateEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO ledger_entries (correlation_id, status, comment, revision_id, revision, reply_sent, reply_event_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, correlationID, u.Status, u.Comment, u.RevisionID, u.Revision, boolInt(u.ReplySent),
		u.ReplyEventID, u.Timestamp.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ticket store: append update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountUpdates(correlationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE correlation_id = ?`, correlationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ticket store: count updates: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AppendAction(correlationID, domain string, a protocol.ActionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO action_records (correlation_id, domain, action_type, target, parameter, status, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, correlationID, domain, a.ActionType, a.Target, a.Parameter, string(a.Status), a.Message)
	if err != nil {
		return fmt.Errorf("ticket store: append action: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveAction(correlationID, domain, actionType, target string, to protocol.ActionStatus, message string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE action_records SET status = ?, message = ?
		WHERE id = (
			SELECT id FROM action_records
			WHERE correlation_id = ? AND domain = ? AND action_type = ? AND target = ? AND status = 'pending'
			ORDER BY id LIMIT 1
		)
	`, string(to), message, correlationID, domain, actionType, target)
	if err != nil {
		return false, fmt.Errorf("ticket store: resolve action: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) SetSummary(correlationID, title, description string) error {
	return s.setFields(correlationID, `UPDATE tickets SET title = ?, description = ? WHERE correlation_id = ?`,
		title, description)
}

// SetRemoteID is conditional: it only fills an unset remote id, so a ticket
// never migrates between tracker work items.
func (s *SQLiteStore) SetRemoteID(correlationID string, remoteID int64) error {
	return s.setFields(correlationID, `UPDATE tickets SET remote_ticket_id = ? WHERE correlation_id = ? AND remote_ticket_id = 0`,
		remoteID)
}

func (s *SQLiteStore) SetPendingActions(correlationID string, pending bool) error {
	return s.setFields(correlationID, `UPDATE tickets SET pending_actions = ? WHERE correlation_id = ?`,
		boolInt(pending))
}

func (s *SQLiteStore) SetIndexed(correlationID string, indexed bool) error {
	return s.setFields(correlationID, `UPDATE tickets SET indexed_in_search = ? WHERE correlation_id = ?`,
		boolInt(indexed))
}

func (s *SQLiteStore) setFields(correlationID, query string, args ...any) error {
	res, err := s.db.Exec(query, append(args, correlationID)...)
	if err != nil {
		return fmt.Errorf("ticket store: update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Unindexed() ([]*protocol.TicketRecord, error) {
	rows, err := s.db.Query(`SELECT correlation_id, remote_ticket_id, title, description, request_type,
		sender, subject, pending_actions, indexed_in_search, high_water_mark, created_at
		FROM tickets WHERE indexed_in_search = 0 AND remote_ticket_id != 0`)
	if err != nil {
		return nil, fmt.Errorf("ticket store: unindexed: %w", err)
	}
	defer rows.Close()

	var recs []*protocol.TicketRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: unindexed scan: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// AdvanceWatermark is monotonic: a lower revision than the stored mark
// leaves the row untouched.
func (s *SQLiteStore) AdvanceWatermark(correlationID string, revision int) error {
	_, err := s.db.Exec(`
		UPDATE tickets SET high_water_mark = MAX(high_water_mark, ?)
		WHERE correlation_id = ?
	`, revision, correlationID)
	if err != nil {
		return fmt.Errorf("ticket store: advance watermark: %w", err)
	}
	return nil
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func (s *SQLiteStore) loadChain(correlationID string) ([]protocol.ChainEntry, error) {
	rows, err := s.db.Query(`SELECT event_id, sender, subject, body, outbound, attachments, timestamp
		FROM chain_entries WHERE correlation_id = ? ORDER BY rowid`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: load chain: %w", err)
	}
	defer rows.Close()

	var chain []protocol.ChainEntry
	for rows.Next() {
		var e protocol.ChainEntry
		var outbound int
		var attachmentsJSON, ts string
		if err := rows.Scan(&e.EventID, &e.Sender, &e.Subject, &e.Body, &outbound, &attachmentsJSON, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan chain: %w", err)
		}
		e.Outbound = outbound != 0
		json.Unmarshal([]byte(attachmentsJSON), &e.Attachments)
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		chain = append(chain, e)
	}
	return chain, rows.Err()
}

func (s *SQLiteStore) loadLedger(correlationID string) ([]protocol.UpdateEntry, error) {
	rows, err := s.db.Query(`SELECT status, comment, revision_id, revision, reply_sent, reply_event_id, timestamp
		FROM ledger_entries WHERE correlation_id = ? ORDER BY id`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: load ledger: %w", err)
	}
	defer rows.Close()

	var ledger []protocol.UpdateEntry
	for rows.Next() {
		var u protocol.UpdateEntry
		var replySent int
		var ts string
		if err := rows.Scan(&u.Status, &u.Comment, &u.RevisionID, &u.Revision, &replySent, &u.ReplyEventID, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan ledger: %w", err)
		}
		u.ReplySent = replySent != 0
		u.Timestamp, _ = time.Parse(time.RFC3339, ts)
		ledger = append(ledger, u)
	}
	return ledger, rows.Err()
}

func (s *SQLiteStore) loadActions(correlationID string) (map[string][]protocol.ActionRecord, error) {
	rows, err := s.db.Query(`SELECT domain, action_type, target, parameter, status, message
		FROM action_records WHERE correlation_id = ? ORDER BY id`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: load actions: %w", err)
	}
	defer rows.Close()

	actions := make(map[string][]protocol.ActionRecord)
	for rows.Next() {
		var a protocol.ActionRecord
		var domain, status string
		if err := rows.Scan(&domain, &a.ActionType, &a.Target, &a.Parameter, &status, &a.Message); err != nil {
			return nil, fmt.Errorf("ticket store: scan action: %w", err)
		}
		a.Status = protocol.ActionStatus(status)
		actions[domain] = append(actions[domain], a)
	}
	if len(actions) == 0 {
		return nil, rows.Err()
	}
	return actions, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*protocol.TicketRecord, error) {
	var rec protocol.TicketRecord
	var requestType, createdAt string
	var pending, indexed int

	err := row.Scan(&rec.CorrelationID, &rec.RemoteTicketID, &rec.Title, &rec.Description,
		&requestType, &rec.Sender, &rec.Subject, &pending, &indexed, &rec.HighWaterMark, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.RequestType = protocol.RequestType(requestType)
	rec.PendingActions = pending != 0
	rec.IndexedInSearch = indexed != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
