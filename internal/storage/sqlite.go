package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "clanbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers; a single
	// connection also makes EventTx a true serialization point per process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const eventCols = `id, kind, title, detail, status, due_at, winner_count, chat_id, message_id, meta, outcome, created_by, created_at, settled_at`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var (
		e         Event
		kind, st  string
		due, crt  string
		settledAt sql.NullString
	)
	err := row.Scan(&e.ID, &kind, &e.Title, &e.Detail, &st, &due, &e.WinnerCount,
		&e.ChatID, &e.MessageID, &e.Meta, &e.Outcome, &e.CreatedBy, &crt, &settledAt)
	if err != nil {
		return Event{}, err
	}
	e.Kind = Kind(kind)
	e.Status = Status(st)
	e.DueAt = parseTime(due)
	e.CreatedAt = parseTime(crt)
	if settledAt.Valid {
		e.SettledAt = parseTime(settledAt.String)
	}
	return e, nil
}

func (s *sqliteStore) CreateEvent(ctx context.Context, e Event) (int64, error) {
	if !e.Kind.Valid() {
		return 0, fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.Status == "" {
		e.Status = StatusOpen
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.WinnerCount <= 0 {
		e.WinnerCount = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events(kind, title, detail, status, due_at, winner_count, chat_id, message_id, meta, outcome, created_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(e.Kind), e.Title, e.Detail, string(e.Status), fmtTime(e.DueAt), e.WinnerCount,
		e.ChatID, e.MessageID, e.Meta, e.Outcome, e.CreatedBy, fmtTime(e.CreatedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int64) (Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, err
}

func (s *sqliteStore) SetMessageRef(ctx context.Context, id, chatID, messageID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET chat_id = ?, message_id = ? WHERE id = ?`, chatID, messageID, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DueEvents(ctx context.Context, now time.Time) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventCols+` FROM events
		 WHERE status = ? AND settled_at IS NULL AND due_at <= ?
		 ORDER BY due_at ASC, id ASC`,
		string(StatusOpen), fmtTime(now))
}

func (s *sqliteStore) ActiveEvents(ctx context.Context) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventCols+` FROM events WHERE status = ? ORDER BY due_at ASC, id ASC`,
		string(StatusOpen))
}

func (s *sqliteStore) ActiveByKind(ctx context.Context, kind Kind) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventCols+` FROM events WHERE status = ? AND kind = ? ORDER BY due_at ASC, id ASC`,
		string(StatusOpen), string(kind))
}

func (s *sqliteStore) ActiveWithMessageRef(ctx context.Context) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventCols+` FROM events
		 WHERE status = ? AND chat_id != 0 AND message_id != 0
		 ORDER BY due_at ASC, id ASC`,
		string(StatusOpen))
}

func (s *sqliteStore) queryEvents(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// eventTx implements EventTx over one sql.Tx.
type eventTx struct {
	tx *sql.Tx
	ev Event
}

func (s *sqliteStore) EventTx(ctx context.Context, id int64, fn func(tx EventTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(&eventTx{tx: tx, ev: ev}); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *eventTx) Event() Event { return t.ev }

func (t *eventTx) Entries() ([]Entry, error) {
	rows, err := t.tx.Query(
		`SELECT id, event_id, user_id, username, source, created_at
		 FROM entries WHERE event_id = ? ORDER BY id ASC`, t.ev.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *eventTx) EntryCount() (int, error) {
	var n int
	err := t.tx.QueryRow(`SELECT COUNT(*) FROM entries WHERE event_id = ?`, t.ev.ID).Scan(&n)
	return n, err
}

func (t *eventTx) UserEntryCount(userID int64, source EntrySource) (int, error) {
	var n int
	err := t.tx.QueryRow(
		`SELECT COUNT(*) FROM entries WHERE event_id = ? AND user_id = ? AND source = ?`,
		t.ev.ID, userID, string(source)).Scan(&n)
	return n, err
}

func (t *eventTx) InsertEntry(e Entry) (Entry, error) {
	e.EventID = t.ev.ID
	if e.Source == "" {
		e.Source = EntrySelf
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := t.tx.Exec(
		`INSERT INTO entries(event_id, user_id, username, source, created_at) VALUES(?,?,?,?,?)`,
		e.EventID, e.UserID, e.Username, string(e.Source), fmtTime(e.CreatedAt))
	if err != nil {
		return Entry{}, err
	}
	e.ID, _ = res.LastInsertId()
	return e, nil
}

func (t *eventTx) SetStatus(st Status) error {
	_, err := t.tx.Exec(`UPDATE events SET status = ? WHERE id = ?`, string(st), t.ev.ID)
	if err == nil {
		t.ev.Status = st
	}
	return err
}

func (t *eventTx) MarkSettled(outcome string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	// settled_at IS NULL guards against a double write inside one tx.
	res, err := t.tx.Exec(
		`UPDATE events SET status = ?, outcome = ?, settled_at = ? WHERE id = ? AND settled_at IS NULL`,
		string(StatusClosed), outcome, fmtTime(at), t.ev.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("event %d already settled", t.ev.ID)
	}
	t.ev.Status = StatusClosed
	t.ev.Outcome = outcome
	t.ev.SettledAt = at
	return nil
}

func (t *eventTx) AddLedger(le LedgerEntry) error {
	if le.CreatedAt.IsZero() {
		le.CreatedAt = time.Now()
	}
	if le.EventID == 0 {
		le.EventID = t.ev.ID
	}
	_, err := t.tx.Exec(
		`INSERT INTO points_ledger(id, user_id, delta, reason, event_id, created_at) VALUES(?,?,?,?,?,?)`,
		le.ID, le.UserID, le.Delta, le.Reason, le.EventID, fmtTime(le.CreatedAt))
	return err
}

func (t *eventTx) ReviewSubmission(id string, st SubmissionStatus, reviewer int64, at time.Time) (Submission, error) {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := t.tx.Exec(
		`UPDATE submissions SET status = ?, reviewed_by = ?, reviewed_at = ?
		 WHERE id = ? AND event_id = ? AND status = ?`,
		string(st), reviewer, fmtTime(at), id, t.ev.ID, string(SubmissionPending))
	if err != nil {
		return Submission{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Submission{}, ErrNotFound
	}
	row := t.tx.QueryRow(`SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id)
	return scanSubmission(row)
}

func (t *eventTx) CompleteTile(tile int, userID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := t.tx.Exec(
		`INSERT INTO completed_tiles(event_id, tile, user_id, completed_at) VALUES(?,?,?,?)
		 ON CONFLICT(event_id, tile) DO NOTHING`,
		t.ev.ID, tile, userID, fmtTime(at))
	return err
}

func (t *eventTx) CompletedTiles() ([]CompletedTile, error) {
	rows, err := t.tx.Query(
		`SELECT event_id, tile, user_id, completed_at FROM completed_tiles
		 WHERE event_id = ? ORDER BY tile ASC`, t.ev.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCompletedTiles(rows)
}

func (s *sqliteStore) Entries(ctx context.Context, eventID int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, username, source, created_at
		 FROM entries WHERE event_id = ? ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			src, crt string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.UserID, &e.Username, &src, &crt); err != nil {
			return nil, err
		}
		e.Source = EntrySource(src)
		e.CreatedAt = parseTime(crt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddPoints(ctx context.Context, le LedgerEntry) error {
	if le.CreatedAt.IsZero() {
		le.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO points_ledger(id, user_id, delta, reason, event_id, created_at) VALUES(?,?,?,?,?,?)`,
		le.ID, le.UserID, le.Delta, le.Reason, le.EventID, fmtTime(le.CreatedAt))
	return err
}

func (s *sqliteStore) SpendPoints(ctx context.Context, le LedgerEntry) error {
	if le.Delta >= 0 {
		return fmt.Errorf("spend delta must be negative, got %d", le.Delta)
	}
	if le.CreatedAt.IsZero() {
		le.CreatedAt = time.Now()
	}
	// Guarded insert: the balance check and the debit are one statement, so
	// no interleaved write can overdraw the ledger.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO points_ledger(id, user_id, delta, reason, event_id, created_at)
		 SELECT ?,?,?,?,?,?
		 WHERE (SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE user_id = ?) >= ?`,
		le.ID, le.UserID, le.Delta, le.Reason, le.EventID, fmtTime(le.CreatedAt),
		le.UserID, -le.Delta)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrInsufficientPoints
	}
	return nil
}

func (s *sqliteStore) PointsBalance(ctx context.Context, userID int64) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(delta) FROM points_ledger WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (s *sqliteStore) PointsLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.user_id, COALESCE(u.username, ''), SUM(l.delta) AS total
		 FROM points_ledger l
		 LEFT JOIN user_links u ON u.user_id = l.user_id
		 GROUP BY l.user_id
		 ORDER BY total DESC, l.user_id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardRow
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const submissionCols = `id, event_id, user_id, username, tile, proof, status, reviewed_by, created_at, reviewed_at`

func scanSubmission(row interface{ Scan(...any) error }) (Submission, error) {
	var (
		sub        Submission
		st, crt    string
		reviewedAt sql.NullString
	)
	err := row.Scan(&sub.ID, &sub.EventID, &sub.UserID, &sub.Username, &sub.Tile,
		&sub.Proof, &st, &sub.ReviewedBy, &crt, &reviewedAt)
	if err != nil {
		return Submission{}, err
	}
	sub.Status = SubmissionStatus(st)
	sub.CreatedAt = parseTime(crt)
	if reviewedAt.Valid {
		sub.ReviewedAt = parseTime(reviewedAt.String)
	}
	return sub, nil
}

func (s *sqliteStore) InsertSubmission(ctx context.Context, sub Submission) error {
	if sub.Status == "" {
		sub.Status = SubmissionPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions(id, event_id, user_id, username, tile, proof, status, reviewed_by, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		sub.ID, sub.EventID, sub.UserID, sub.Username, sub.Tile, sub.Proof,
		string(sub.Status), sub.ReviewedBy, fmtTime(sub.CreatedAt))
	return err
}

func (s *sqliteStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	return sub, err
}

func (s *sqliteStore) PendingSubmissions(ctx context.Context, eventID int64) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+submissionCols+` FROM submissions
		 WHERE event_id = ? AND status = ? ORDER BY created_at ASC`,
		eventID, string(SubmissionPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CompletedTiles(ctx context.Context, eventID int64) ([]CompletedTile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, tile, user_id, completed_at FROM completed_tiles
		 WHERE event_id = ? ORDER BY tile ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCompletedTiles(rows)
}

func scanCompletedTiles(rows *sql.Rows) ([]CompletedTile, error) {
	var out []CompletedTile
	for rows.Next() {
		var (
			ct  CompletedTile
			crt string
		)
		if err := rows.Scan(&ct.EventID, &ct.Tile, &ct.UserID, &crt); err != nil {
			return nil, err
		}
		ct.CompletedAt = parseTime(crt)
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListRewards(ctx context.Context) ([]Reward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cost, enabled FROM rewards WHERE enabled = 1 ORDER BY cost ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reward
	for rows.Next() {
		var r Reward
		if err := rows.Scan(&r.ID, &r.Name, &r.Cost, &r.Enabled); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetReward(ctx context.Context, id int64) (Reward, error) {
	var r Reward
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, cost, enabled FROM rewards WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Cost, &r.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Reward{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) UpsertReward(ctx context.Context, r Reward) (int64, error) {
	if r.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO rewards(name, cost, enabled) VALUES(?,?,?)`, r.Name, r.Cost, r.Enabled)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE rewards SET name = ?, cost = ?, enabled = ? WHERE id = ?`,
		r.Name, r.Cost, r.Enabled, r.ID)
	return r.ID, err
}

func (s *sqliteStore) LinkUser(ctx context.Context, l UserLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_links(user_id, username, rsn, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, rsn = excluded.rsn`,
		l.UserID, l.Username, l.RSN, fmtTime(l.CreatedAt))
	return err
}

func (s *sqliteStore) GetLink(ctx context.Context, userID int64) (UserLink, bool, error) {
	var (
		l   UserLink
		crt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, rsn, created_at FROM user_links WHERE user_id = ?`, userID).
		Scan(&l.UserID, &l.Username, &l.RSN, &crt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserLink{}, false, nil
	}
	if err != nil {
		return UserLink{}, false, err
	}
	l.CreatedAt = parseTime(crt)
	return l, true, nil
}

func (s *sqliteStore) LinkByRSN(ctx context.Context, rsn string) (UserLink, bool, error) {
	var (
		l   UserLink
		crt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, rsn, created_at FROM user_links WHERE rsn = ? COLLATE NOCASE`, rsn).
		Scan(&l.UserID, &l.Username, &l.RSN, &crt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserLink{}, false, nil
	}
	if err != nil {
		return UserLink{}, false, err
	}
	l.CreatedAt = parseTime(crt)
	return l, true, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
