package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sempr/labjudge/pkg/models"
)

var schemas = map[string]string{
	"mysql": `
CREATE TABLE IF NOT EXISTS submission (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    submission_id VARCHAR(255) NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    question_id VARCHAR(64) NOT NULL,
    lab_session_id VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL,
    passed_count INT NOT NULL,
    failed_count INT NOT NULL,
    time_ms BIGINT NOT NULL,
    detail MEDIUMTEXT NOT NULL,
    completed_at DATETIME NOT NULL,
    INDEX idx_submission_session (lab_session_id)
)`,
	"postgres": `
CREATE TABLE IF NOT EXISTS submission (
    id BIGSERIAL PRIMARY KEY,
    submission_id VARCHAR(255) NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    question_id VARCHAR(64) NOT NULL,
    lab_session_id VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL,
    passed_count INT NOT NULL,
    failed_count INT NOT NULL,
    time_ms BIGINT NOT NULL,
    detail TEXT NOT NULL,
    completed_at TIMESTAMP NOT NULL
)`,
}

// Submission is one persisted verdict row.
type Submission struct {
	ID           int64     `db:"id"`
	SubmissionID string    `db:"submission_id"`
	StudentID    string    `db:"student_id"`
	QuestionID   string    `db:"question_id"`
	LabSessionID string    `db:"lab_session_id"`
	Status       string    `db:"status"`
	PassedCount  int       `db:"passed_count"`
	FailedCount  int       `db:"failed_count"`
	TimeMs       int64     `db:"time_ms"`
	Detail       string    `db:"detail"`
	CompletedAt  time.Time `db:"completed_at"`
}

// VerdictStore writes terminal verdicts to MySQL or PostgreSQL.
type VerdictStore struct {
	db *sqlx.DB
}

func Open(driver, dsn string) (*VerdictStore, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", driver, err)
	}
	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return &VerdictStore{db: db}, nil
}

func (s *VerdictStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemas[s.db.DriverName()]); err != nil {
		return fmt.Errorf("create submission table: %w", err)
	}
	return nil
}

func newSubmission(v *models.Verdict) (*Submission, error) {
	detail, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode verdict: %w", err)
	}
	completed := v.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	return &Submission{
		SubmissionID: string(v.SubmissionID),
		StudentID:    v.StudentID,
		QuestionID:   v.QuestionID,
		LabSessionID: v.LabSessionID,
		Status:       v.Status,
		PassedCount:  len(v.Passed),
		FailedCount:  len(v.Failed),
		TimeMs:       v.TotalElapsedMs,
		Detail:       string(detail),
		CompletedAt:  completed.UTC(),
	}, nil
}

// SaveVerdict appends a row; every attempt is kept.
func (s *VerdictStore) SaveVerdict(ctx context.Context, v *models.Verdict) error {
	row, err := newSubmission(v)
	if err != nil {
		return err
	}
	query := `INSERT INTO submission
        (submission_id, student_id, question_id, lab_session_id, status, passed_count, failed_count, time_ms, detail, completed_at)
        VALUES
        (:submission_id, :student_id, :question_id, :lab_session_id, :status, :passed_count, :failed_count, :time_ms, :detail, :completed_at)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("insert verdict for %s: %w", v.SubmissionID, err)
	}
	return nil
}

// BySession lists a session's persisted verdicts, oldest first.
func (s *VerdictStore) BySession(ctx context.Context, labSessionID string) ([]Submission, error) {
	var rows []Submission
	query := s.db.Rebind(`SELECT * FROM submission WHERE lab_session_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, labSessionID); err != nil {
		return nil, fmt.Errorf("list session %s: %w", labSessionID, err)
	}
	return rows, nil
}

func (s *VerdictStore) Close() error {
	return s.db.Close()
}
