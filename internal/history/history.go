package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eraser-privacy/baunsu/internal/bounce"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Source identifies where a detected message came from
type Source string

const (
	SourceFile Source = "file"
	SourceMbox Source = "mbox"
	SourceIMAP Source = "imap"
	SourceWeb  Source = "web"
)

// Record is one stored detection result
type Record struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"` // Groups records written by one scan
	Source    Source    `json:"source"`
	Origin    string    `json:"origin,omitempty"` // File path, mbox path or IMAP folder
	MessageID string    `json:"message_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	From      string    `json:"from,omitempty"`
	Score     float64   `json:"score"`
	Bounced   bool      `json:"bounced"`
	Recipient string    `json:"recipient,omitempty"` // Failed recipient reported by the bounce (if any)
	Headers   []string  `json:"headers"`             // Headers whose values matched a bounce pattern
	ScannedAt time.Time `json:"scanned_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRunID returns an identifier for a batch of detections
func NewRunID() string { return uuid.NewString() }

// FromResult fills the detection fields of a record from res
func FromResult(res *bounce.Result) Record {
	return Record{
		Score:     res.Score,
		Bounced:   res.Bounced,
		Recipient: res.Recipient(),
		Headers:   res.Matches.Keys(),
		ScannedAt: time.Now(),
	}
}

type Store struct {
	db *sql.DB
}

const recordColumns = `id, run_id, source, origin, message_id, subject, sender, score, bounced,
	recipient, headers, scanned_at, created_at`

// scanRecord handles nullable columns when scanning a row
func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var source string
	var bounced int
	var origin, messageID, subject, sender, recipient, headers sql.NullString
	var scannedAt, createdAt sql.NullTime

	err := scanner.Scan(&r.ID, &r.RunID, &source, &origin, &messageID, &subject, &sender,
		&r.Score, &bounced, &recipient, &headers, &scannedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	r.Source = Source(source)
	r.Origin = origin.String
	r.MessageID = messageID.String
	r.Subject = subject.String
	r.From = sender.String
	r.Bounced = bounced == 1
	r.Recipient = recipient.String
	r.ScannedAt = scannedAt.Time
	r.CreatedAt = createdAt.Time
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &r.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode matched headers: %w", err)
		}
	}
	return &r, nil
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		source TEXT NOT NULL,
		origin TEXT,
		message_id TEXT,
		subject TEXT,
		sender TEXT,
		score REAL NOT NULL,
		bounced INTEGER NOT NULL DEFAULT 0,
		recipient TEXT,
		headers TEXT,
		scanned_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_det_run_id ON detections(run_id);
	CREATE INDEX IF NOT EXISTS idx_det_message_id ON detections(message_id);
	CREATE INDEX IF NOT EXISTS idx_det_bounced ON detections(bounced);
	CREATE INDEX IF NOT EXISTS idx_det_scanned_at ON detections(scanned_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Add(record *Record) error {
	query := `
	INSERT INTO detections (run_id, source, origin, message_id, subject, sender, score, bounced,
		recipient, headers, scanned_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode matched headers: %w", err)
	}
	bounced := 0
	if record.Bounced {
		bounced = 1
	}
	if record.ScannedAt.IsZero() {
		record.ScannedAt = time.Now()
	}

	result, err := s.db.Exec(query,
		record.RunID, string(record.Source), record.Origin, record.MessageID, record.Subject, record.From,
		record.Score, bounced, record.Recipient, string(headers), record.ScannedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

func (s *Store) GetRecent(limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM detections ORDER BY scanned_at DESC, id DESC LIMIT ?`
	return s.queryRecords(query, limit)
}

// GetRun returns the records written by one scan, oldest first
func (s *Store) GetRun(runID string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM detections WHERE run_id = ? ORDER BY id`
	return s.queryRecords(query, runID)
}

func (s *Store) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// FindByMessageID returns the latest record for a Message-ID, or nil
func (s *Store) FindByMessageID(messageID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM detections WHERE message_id = ? ORDER BY id DESC LIMIT 1`

	record, err := scanRecord(s.db.QueryRow(query, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return record, nil
}

// Stats summarizes stored detections
type Stats struct {
	Total    int     `json:"total"`
	Bounced  int     `json:"bounced"`
	Runs     int     `json:"runs"`
	AvgScore float64 `json:"avg_score"`
}

func (s *Store) GetStats() (Stats, error) {
	query := `SELECT COUNT(*), SUM(CASE WHEN bounced=1 THEN 1 ELSE 0 END),
		COUNT(DISTINCT run_id), AVG(score) FROM detections`

	var st Stats
	var bounced sql.NullInt64
	var avg sql.NullFloat64
	if err := s.db.QueryRow(query).Scan(&st.Total, &bounced, &st.Runs, &avg); err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	st.Bounced = int(bounced.Int64)
	st.AvgScore = avg.Float64
	return st, nil
}

// DeleteBefore removes records scanned before t
func (s *Store) DeleteBefore(t time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM detections WHERE scanned_at < ?`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }
