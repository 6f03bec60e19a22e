package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"guiascan/internal"
	"guiascan/internal/util"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS clients (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  identifier TEXT NOT NULL,
  normalizedIdentifier TEXT NOT NULL,
  lastSeenAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_clients_normalized ON clients(normalizedIdentifier);
CREATE INDEX IF NOT EXISTS idx_clients_identifier ON clients(identifier);

CREATE TABLE IF NOT EXISTS ledger_entries (
  id INTEGER PRIMARY KEY,
  clientId INTEGER NOT NULL,
  rawPeriod TEXT NOT NULL,
  periodKey TEXT NOT NULL,
  amount TEXT NOT NULL,
  state TEXT NOT NULL DEFAULT 'pending',
  paidAt TEXT,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(clientId) REFERENCES clients(id)
);
CREATE INDEX IF NOT EXISTS idx_ledger_client_period ON ledger_entries(clientId, periodKey);

CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS guides (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  emailId INTEGER,
  page INTEGER NOT NULL,
  rawIdentifier TEXT NOT NULL,
  normalizedIdentifier TEXT NOT NULL,
  rawPeriod TEXT NOT NULL,
  periodKey TEXT NOT NULL,
  amount TEXT NOT NULL,
  status TEXT NOT NULL,
  clientId INTEGER,
  clientName TEXT,
  artifactPath TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);
CREATE INDEX IF NOT EXISTS idx_guides_email ON guides(emailId);
CREATE INDEX IF NOT EXISTS idx_guides_run ON guides(runId);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  emailId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) UpsertClients(clients []internal.ClientRecord) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO clients (id, name, identifier, normalizedIdentifier, lastSeenAt)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  identifier = excluded.identifier,
  normalizedIdentifier = excluded.normalizedIdentifier,
  lastSeenAt = CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range clients {
		normalized := c.NormalizedIdentifier
		if normalized == "" {
			normalized = util.NormalizeIdentifier(c.Identifier)
		}
		if _, err := stmt.Exec(c.ID, c.Name, c.Identifier, normalized); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) UpsertLedgerEntries(entries []internal.LedgerEntry) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO ledger_entries (id, clientId, rawPeriod, periodKey, amount, state, paidAt, updatedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  clientId = excluded.clientId,
  rawPeriod = excluded.rawPeriod,
  periodKey = excluded.periodKey,
  amount = excluded.amount,
  state = excluded.state,
  paidAt = excluded.paidAt,
  updatedAt = CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var paidAt any
		if e.PaidAt != nil {
			paidAt = *e.PaidAt
		}
		if _, err := stmt.Exec(e.ID, e.ClientID, e.RawPeriod, util.PeriodKey(e.RawPeriod), e.Amount.String(), string(e.State), paidAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LookupIdentifiers resolves a set of raw or normalized identifiers to
// client records in one query.
func (d *DB) LookupIdentifiers(ctx context.Context, identifiers []string) ([]internal.ClientRecord, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(identifiers)), ",")
	args := make([]any, 0, len(identifiers)*2)
	for _, ident := range identifiers {
		args = append(args, ident)
	}
	for _, ident := range identifiers {
		args = append(args, ident)
	}

	query := fmt.Sprintf(`
SELECT id, name, identifier, normalizedIdentifier
FROM clients
WHERE normalizedIdentifier IN (%s) OR identifier IN (%s)
`, placeholders, placeholders)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.ClientRecord{}
	for rows.Next() {
		var c internal.ClientRecord
		if err := rows.Scan(&c.ID, &c.Name, &c.Identifier, &c.NormalizedIdentifier); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEntries returns every ledger entry of the given clients, grouped by
// client id, in one query.
func (d *DB) ListEntries(ctx context.Context, clientIDs []int) (map[int][]internal.LedgerEntry, error) {
	if len(clientIDs) == 0 {
		return map[int][]internal.LedgerEntry{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clientIDs)), ",")
	args := make([]any, 0, len(clientIDs))
	for _, id := range clientIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
SELECT id, clientId, rawPeriod, amount, state, paidAt
FROM ledger_entries
WHERE clientId IN (%s)
ORDER BY clientId, id
`, placeholders)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int][]internal.LedgerEntry{}
	for rows.Next() {
		var e internal.LedgerEntry
		var amount string
		var state string
		var paidAt sql.NullString
		if err := rows.Scan(&e.ID, &e.ClientID, &e.RawPeriod, &amount, &state, &paidAt); err != nil {
			return nil, err
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d: bad amount %q: %w", e.ID, amount, err)
		}
		e.State = internal.PaymentState(state)
		if paidAt.Valid {
			v := paidAt.String
			e.PaidAt = &v
		}
		out[e.ClientID] = append(out[e.ClientID], e)
	}
	return out, rows.Err()
}

// MarkPaid flips the oldest non-paid ledger entry for the client and
// competência to paid, recording the payment timestamp and amount. It is
// an error when no such entry exists; nothing is written in that case.
func (d *DB) MarkPaid(ctx context.Context, clientID int, rawPeriod string, amount decimal.Decimal) error {
	periodKey := util.PeriodKey(rawPeriod)

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var entryID int
	err = tx.QueryRowContext(ctx, `
SELECT id FROM ledger_entries
WHERE clientId = ? AND periodKey = ? AND state != 'paid'
ORDER BY id LIMIT 1
`, clientID, periodKey).Scan(&entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark paid: no open ledger entry for client %d period %s", clientID, periodKey)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
UPDATE ledger_entries
SET state = 'paid', paidAt = ?, amount = ?, updatedAt = CURRENT_TIMESTAMP
WHERE id = ?
`, now, amount.String(), entryID); err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}

	return tx.Commit()
}

func (d *DB) UpsertEmail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject = excluded.subject,
  sender = excluded.sender,
  receivedAt = excluded.receivedAt,
  hash = excluded.hash,
  rawRef = excluded.rawRef,
  updatedAt = CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}
	return d.MustEmailByProviderMessageID(provider, messageID)
}

func (d *DB) MustEmailByProviderMessageID(provider, messageID string) (internal.EmailRow, error) {
	row := d.conn.QueryRow(`
SELECT id, provider, messageId, IFNULL(subject,''), IFNULL(sender,''), IFNULL(receivedAt,''), hash, status, rawRef
FROM emails WHERE provider = ? AND messageId = ?
`, provider, messageID)

	var e internal.EmailRow
	if err := row.Scan(&e.ID, &e.Provider, &e.MessageID, &e.Subject, &e.Sender, &e.ReceivedAt, &e.Hash, &e.Status, &e.RawRef); err != nil {
		return internal.EmailRow{}, fmt.Errorf("email %s/%s: %w", provider, messageID, err)
	}
	return e, nil
}

func (d *DB) ListEmailsByStatus(status string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.Query(`
SELECT id, provider, messageId, IFNULL(subject,''), IFNULL(sender,''), IFNULL(receivedAt,''), hash, status, rawRef
FROM emails WHERE status = ? ORDER BY id LIMIT ?
`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.EmailRow{}
	for rows.Next() {
		var e internal.EmailRow
		if err := rows.Scan(&e.ID, &e.Provider, &e.MessageID, &e.Subject, &e.Sender, &e.ReceivedAt, &e.Hash, &e.Status, &e.RawRef); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(id int, status string) error {
	_, err := d.conn.Exec(`UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

func (d *DB) ClearEmailProcessing(emailID int) error {
	_, err := d.conn.Exec(`DELETE FROM guides WHERE emailId = ?`, emailID)
	return err
}

func (d *DB) InsertGuide(runID string, emailID int, g internal.ReconciledGuide, artifactPath string) error {
	var clientID any
	var clientName any
	if g.MatchedClientID != nil {
		clientID = *g.MatchedClientID
	}
	if g.MatchedClientName != nil {
		clientName = *g.MatchedClientName
	}
	var artifact any
	if artifactPath != "" {
		artifact = artifactPath
	}

	_, err := d.conn.Exec(`
INSERT INTO guides (runId, emailId, page, rawIdentifier, normalizedIdentifier, rawPeriod, periodKey, amount, status, clientId, clientName, artifactPath)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, runID, emailID, g.PageNumber, g.RawIdentifier, g.NormalizedIdentifier, g.RawPeriod, g.PeriodKey, g.Amount.String(), string(g.Status), clientID, clientName, artifact)
	return err
}

func (d *DB) GetExportRows(emailID int) ([]internal.GuideExportRow, error) {
	rows, err := d.conn.Query(`
SELECT page, rawIdentifier, normalizedIdentifier, clientId, clientName, rawPeriod, periodKey, amount, status, artifactPath
FROM guides WHERE emailId = ? ORDER BY id
`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []internal.GuideExportRow{}
	for rows.Next() {
		var r internal.GuideExportRow
		var clientID sql.NullInt64
		var clientName sql.NullString
		var artifact sql.NullString
		if err := rows.Scan(&r.Page, &r.RawIdentifier, &r.NormalizedIdentifier, &clientID, &clientName, &r.RawPeriod, &r.PeriodKey, &r.Amount, &r.Status, &artifact); err != nil {
			return nil, err
		}
		if clientID.Valid {
			v := int(clientID.Int64)
			r.ClientID = &v
		}
		if clientName.Valid {
			v := clientName.String
			r.ClientName = &v
		}
		if artifact.Valid {
			v := artifact.String
			r.ArtifactPath = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) InsertRun(traceID string, emailID int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	var email any
	if emailID > 0 {
		email = emailID
	}
	_, err := d.conn.Exec(`
INSERT INTO runs (traceId, emailId, timingsJson, countsJson) VALUES (?, ?, ?, ?)
`, traceID, email, timingsJSON, countsJSON)
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value, updatedAt) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	row := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}
