package devserver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists meetings and their transcript record in SQLite.
type Store struct {
	db *sql.DB
}

// Meeting is one recorded meeting.
type Meeting struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// TranscriptRow mirrors the transcript record shape the client consumes.
type TranscriptRow struct {
	ID             string   `json:"id"`
	MeetingID      string   `json:"meeting_id"`
	Transcript     string   `json:"transcript"`
	Timestamp      string   `json:"timestamp"`
	Speaker        string   `json:"speaker"`
	AudioStartTime *float64 `json:"audio_start_time"`
	AudioEndTime   *float64 `json:"audio_end_time"`
}

// OpenStore opens (and if needed initializes) the database.
func OpenStore(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			meeting_id TEXT NOT NULL,
			transcript TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			speaker TEXT,
			audio_start_time REAL,
			audio_end_time REAL
		);
		CREATE INDEX IF NOT EXISTS idx_transcripts_meeting
			ON transcripts(meeting_id, audio_start_time);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMeeting inserts a meeting and returns it.
func (s *Store) CreateMeeting(ctx context.Context, title string) (Meeting, error) {
	m := Meeting{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, title, created_at) VALUES (?, ?, ?)`,
		m.ID, m.Title, m.CreatedAt)
	if err != nil {
		return Meeting{}, fmt.Errorf("insert meeting: %w", err)
	}
	return m, nil
}

// GetMeetings lists meetings, newest first.
func (s *Store) GetMeetings(ctx context.Context) ([]Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM meetings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var out []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.Title, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMeeting fetches one meeting; (nil, nil) when absent.
func (s *Store) GetMeeting(ctx context.Context, id string) (*Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM meetings WHERE id = ?`, id)
	var m Meeting
	if err := row.Scan(&m.ID, &m.Title, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan meeting: %w", err)
	}
	return &m, nil
}

// InsertTranscript appends one final transcript row.
func (s *Store) InsertTranscript(ctx context.Context, row TranscriptRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, meeting_id, transcript, timestamp, speaker, audio_start_time, audio_end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.MeetingID, row.Transcript, row.Timestamp,
		nullString(row.Speaker), row.AudioStartTime, row.AudioEndTime)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// GetTranscripts returns a meeting's transcript rows ordered by start time.
func (s *Store) GetTranscripts(ctx context.Context, meetingID string) ([]TranscriptRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, meeting_id, transcript, timestamp, speaker, audio_start_time, audio_end_time
		FROM transcripts
		WHERE meeting_id = ?
		ORDER BY audio_start_time`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []TranscriptRow
	for rows.Next() {
		var r TranscriptRow
		var speaker sql.NullString
		if err := rows.Scan(&r.ID, &r.MeetingID, &r.Transcript, &r.Timestamp,
			&speaker, &r.AudioStartTime, &r.AudioEndTime); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		if speaker.Valid {
			r.Speaker = speaker.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RenameSpeaker retags a speaker across a meeting's transcript record.
// Returns the number of rows changed.
func (s *Store) RenameSpeaker(ctx context.Context, meetingID, oldName, newName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET speaker = ? WHERE meeting_id = ? AND speaker = ?`,
		newName, meetingID, oldName)
	if err != nil {
		return 0, fmt.Errorf("rename speaker: %w", err)
	}
	return res.RowsAffected()
}

// MergeSpeakers folds one speaker into another across a meeting.
func (s *Store) MergeSpeakers(ctx context.Context, meetingID, fromSpeaker, toSpeaker string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcripts SET speaker = ? WHERE meeting_id = ? AND speaker = ?`,
		toSpeaker, meetingID, fromSpeaker)
	if err != nil {
		return 0, fmt.Errorf("merge speakers: %w", err)
	}
	return res.RowsAffected()
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
