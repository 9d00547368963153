package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// similarityFloor is the minimum keyword overlap for a past execution
// to count as similar.
const similarityFloor = 0.4

// candidateWindow bounds how many recent rows a similarity query scans.
const candidateWindow = 200

// Store records finished executions and answers timing queries over them.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Fingerprint identifies a command irrespective of incidental whitespace.
func Fingerprint(command string) string {
	normalized := strings.Join(strings.Fields(command), " ")
	sum := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RecordExecution persists one finished run and returns its id.
func (s *Store) RecordExecution(ctx context.Context, rec Record) (string, error) {
	if rec.Command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if rec.Status == "" {
		return "", fmt.Errorf("status is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	category := rec.Category
	if category == "" {
		category = "general"
	}

	var exitCode any
	if rec.ExitCode != nil {
		exitCode = *rec.ExitCode
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO executions(
  id, session_id, fingerprint, command, keywords, category, status, exit_code,
  duration_seconds, stdout_bytes, stderr_bytes, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, rec.SessionID, Fingerprint(rec.Command), rec.Command,
		strings.Join(Keywords(rec.Command), " "), category, rec.Status, exitCode,
		rec.Duration, rec.StdoutBytes, rec.StderrBytes, now)
	if err != nil {
		return "", fmt.Errorf("record execution: %w", err)
	}
	return id, nil
}

// TaskStats returns timing statistics for prior successful runs of the
// exact same command. Returns (nil, nil) when none exist.
func (s *Store) TaskStats(ctx context.Context, command string) (*Stats, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(MAX(duration_seconds), 0), COALESCE(AVG(duration_seconds), 0)
FROM executions
WHERE fingerprint = ? AND status = ?;
`, Fingerprint(command), StatusCompleted)

	var st Stats
	if err := row.Scan(&st.Samples, &st.MaxDuration, &st.AvgDuration); err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	if st.Samples == 0 {
		return nil, nil
	}
	return &st, nil
}

// SimilarTasks returns past successful executions whose keywords overlap
// the query command, best matches first.
func (s *Store) SimilarTasks(ctx context.Context, command string, limit int) ([]Similar, error) {
	query := Keywords(command)
	if len(query) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	fingerprint := Fingerprint(command)
	rows, err := s.db.QueryContext(ctx, `
SELECT command, keywords, duration_seconds
FROM executions
WHERE status = ? AND fingerprint != ?
ORDER BY created_at DESC
LIMIT ?;
`, StatusCompleted, fingerprint, candidateWindow)
	if err != nil {
		return nil, fmt.Errorf("similar tasks: %w", err)
	}
	defer rows.Close()

	var matches []Similar
	for rows.Next() {
		var (
			cmd      string
			keywords string
			duration float64
		)
		if err := rows.Scan(&cmd, &keywords, &duration); err != nil {
			return nil, fmt.Errorf("scan similar task: %w", err)
		}
		score := overlapScore(query, strings.Fields(keywords))
		if score < similarityFloor {
			continue
		}
		matches = append(matches, Similar{Command: cmd, Duration: duration, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar tasks: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Recent returns the latest executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, fingerprint, command, keywords, category, status, exit_code,
  duration_seconds, stdout_bytes, stderr_bytes, created_at
FROM executions
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e          Execution
			keywords   string
			exitCode   sql.NullInt64
			createdAtS string
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Fingerprint, &e.Command, &keywords, &e.Category,
			&e.Status, &exitCode, &e.Duration, &e.StdoutBytes, &e.StderrBytes, &createdAtS,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Keywords = strings.Fields(keywords)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}
