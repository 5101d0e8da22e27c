package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/korjavin/voicenary/models"
	"github.com/korjavin/voicenary/session"
	_ "github.com/mattn/go-sqlite3"
)

// DB handles all database operations
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes tables
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS learner_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			learner TEXT NOT NULL,
			course_id TEXT NOT NULL,
			prompt_index INTEGER NOT NULL,
			input TEXT NOT NULL,
			channel TEXT NOT NULL,
			correct BOOLEAN NOT NULL,
			timestamp INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_learner_activity_learner ON learner_activity (learner, course_id)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tutor_cache (
			answer_key TEXT NOT NULL,
			input_key TEXT NOT NULL,
			reply TEXT NOT NULL,
			PRIMARY KEY (answer_key, input_key)
		)
	`)
	return err
}

// SaveActivity records one checked answer
func (db *DB) SaveActivity(ctx context.Context, a models.LearnerActivity) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO learner_activity (learner, course_id, prompt_index, input, channel, correct, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		a.Learner, a.CourseID, a.PromptIndex, a.Input, a.Channel, a.Correct, a.Timestamp,
	)
	return err
}

// LearnerStats counts the learner's correct and incorrect answers
func (db *DB) LearnerStats(ctx context.Context, learner string) (correct int, incorrect int, err error) {
	err = db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM learner_activity WHERE learner = ? AND correct = 1",
		learner,
	).Scan(&correct)
	if err != nil {
		return 0, 0, err
	}

	err = db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM learner_activity WHERE learner = ? AND correct = 0",
		learner,
	).Scan(&incorrect)
	return correct, incorrect, err
}

// HardestPrompts returns the prompts the learner missed most often
func (db *DB) HardestPrompts(ctx context.Context, learner string, limit int) ([]models.PromptStat, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT course_id, prompt_index, COUNT(*) AS misses
		FROM learner_activity
		WHERE learner = ? AND correct = 0
		GROUP BY course_id, prompt_index
		ORDER BY misses DESC, course_id, prompt_index
		LIMIT ?
	`, learner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.PromptStat
	for rows.Next() {
		var s models.PromptStat
		if err := rows.Scan(&s.CourseID, &s.PromptIndex, &s.Misses); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// UnmasteredPrompts returns the indexes in [0, total) the learner has never
// answered correctly in the course
func (db *DB) UnmasteredPrompts(ctx context.Context, learner, courseID string, total int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT DISTINCT prompt_index FROM learner_activity WHERE learner = ? AND course_id = ? AND correct = 1",
		learner, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mastered := make(map[int]bool)
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, err
		}
		mastered[index] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []int
	for i := 0; i < total; i++ {
		if !mastered[i] {
			result = append(result, i)
		}
	}
	return result, nil
}

// CacheReply stores a tutor reply
func (db *DB) CacheReply(ctx context.Context, answerKey, inputKey, reply string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO tutor_cache (answer_key, input_key, reply) VALUES (?, ?, ?)",
		answerKey, inputKey, reply,
	)
	return err
}

// CachedReply retrieves a cached tutor reply
func (db *DB) CachedReply(ctx context.Context, answerKey, inputKey string) (string, bool, error) {
	var reply string
	err := db.conn.QueryRowContext(ctx,
		"SELECT reply FROM tutor_cache WHERE answer_key = ? AND input_key = ?",
		answerKey, inputKey,
	).Scan(&reply)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return reply, true, nil
}

// LearnerRecorder writes a learner's session attempts to the activity log
type LearnerRecorder struct {
	db      *DB
	learner string
}

// Recorder returns a session.Recorder for one learner
func (db *DB) Recorder(learner string) *LearnerRecorder {
	return &LearnerRecorder{db: db, learner: learner}
}

func (r *LearnerRecorder) RecordAttempt(ctx context.Context, a session.Attempt) error {
	return r.db.SaveActivity(ctx, models.LearnerActivity{
		Learner:     r.learner,
		CourseID:    a.CourseID,
		PromptIndex: a.PromptIndex,
		Input:       a.Input,
		Channel:     string(a.Channel),
		Correct:     a.Correct,
		Timestamp:   a.At.Unix(),
	})
}
