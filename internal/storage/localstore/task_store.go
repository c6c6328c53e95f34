package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/status"
	"spectralnotify/internal/domain/task"
)

// Create inserts a new task row in status pending. Returns a DUPLICATE_ENTITY
// error if taskID already exists.
func (s *Store) Create(ctx context.Context, p task.CreateParams) (*task.Task, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, status, progress, created_at, updated_at, metadata)
		VALUES (?, ?, NULL, ?, ?, ?)`,
		p.TaskID, status.Pending, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), nullableMetadata(p.Metadata))
	if err != nil {
		return nil, apperr.DuplicateEntityError("task " + p.TaskID + " already exists")
	}
	return &task.Task{
		TaskID:    p.TaskID,
		Status:    status.Pending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  p.Metadata,
	}, nil
}

func (s *Store) Get(ctx context.Context, taskID string) (*task.Task, error) {
	return s.getTaskTx(ctx, s.db, taskID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) getTaskTx(ctx context.Context, q rowQuerier, taskID string) (*task.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT task_id, status, progress, created_at, updated_at, completed_at, failed_at, canceled_at, metadata
		FROM tasks WHERE task_id = ?`, taskID)

	var (
		t                                                  task.Task
		progress                                           sql.NullInt64
		createdAt, updatedAt                               string
		completedAt, failedAt, canceledAt, metadataNullStr sql.NullString
	)
	if err := row.Scan(&t.TaskID, &t.Status, &progress, &createdAt, &updatedAt, &completedAt, &failedAt, &canceledAt, &metadataNullStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundError("task " + taskID)
		}
		return nil, err
	}
	if progress.Valid {
		v := int(progress.Int64)
		t.Progress = &v
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	t.FailedAt = parseNullableTime(failedAt)
	t.CanceledAt = parseNullableTime(canceledAt)
	if metadataNullStr.Valid {
		t.Metadata = json.RawMessage(metadataNullStr.String)
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	out := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.getTaskTx(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, taskID string, limit int) ([]task.HistoryEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, event_type, message, progress, timestamp, metadata
		FROM task_history WHERE task_id = ? ORDER BY id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.HistoryEvent
	for rows.Next() {
		var (
			ev        task.HistoryEvent
			message   sql.NullString
			progress  sql.NullInt64
			ts        string
			metaNull  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.EventType, &message, &progress, &ts, &metaNull); err != nil {
			return nil, err
		}
		ev.Message = message.String
		if progress.Valid {
			v := int(progress.Int64)
			ev.Progress = &v
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if metaNull.Valid {
			ev.Metadata = json.RawMessage(metaNull.String)
		}
		out = append(out, ev)
	}
	return out, nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) appendTaskHistory(ctx context.Context, tx *sql.Tx, taskID string, eventType task.EventType, message string, progress *int, metadata json.RawMessage, ts time.Time) (task.HistoryEvent, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO task_history (task_id, event_type, message, progress, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, eventType, message, nullableInt(progress), ts.Format(time.RFC3339Nano), nullableMetadata(metadata))
	if err != nil {
		return task.HistoryEvent{}, err
	}
	id, _ := res.LastInsertId()
	return task.HistoryEvent{
		ID: id, TaskID: taskID, EventType: eventType, Message: message,
		Progress: progress, Timestamp: ts, Metadata: metadata,
	}, nil
}

// UpdateProgress implements the first-write pending->in-progress transition,
// clamps progress to [0,100], and appends a "progress" history row.
func (s *Store) UpdateProgress(ctx context.Context, taskID string, progress int, message string) (*task.Task, task.HistoryEvent, error) {
	progress = status.Clamp(progress)
	var out *task.Task
	var ev task.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return apperr.TerminalStateError("task " + taskID + " is terminal")
		}
		now := time.Now().UTC()
		newStatus := current.Status
		if newStatus == status.Pending {
			newStatus = status.InProgress
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, progress = ?, updated_at = ? WHERE task_id = ?`,
			newStatus, progress, now.Format(time.RFC3339Nano), taskID); err != nil {
			return err
		}
		ev, err = s.appendTaskHistory(ctx, tx, taskID, task.EventProgress, message, &progress, nil, now)
		if err != nil {
			return err
		}
		out, err = s.getTaskTx(ctx, tx, taskID)
		return err
	})
	return out, ev, err
}

// AppendEvent appends an arbitrary history row without transitioning status,
// other than the same pending->in-progress bump UpdateProgress performs.
func (s *Store) AppendEvent(ctx context.Context, taskID string, eventType task.EventType, message string, progress *int, metadata json.RawMessage) (*task.Task, task.HistoryEvent, error) {
	var clamped *int
	if progress != nil {
		v := status.Clamp(*progress)
		clamped = &v
	}
	var out *task.Task
	var ev task.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return apperr.TerminalStateError("task " + taskID + " is terminal")
		}
		now := time.Now().UTC()
		newStatus := current.Status
		args := []any{now.Format(time.RFC3339Nano), taskID}
		setClause := "updated_at = ?"
		if newStatus == status.Pending {
			setClause = "status = ?, " + setClause
			args = append([]any{status.InProgress}, args...)
		}
		if clamped != nil {
			setClause = "progress = ?, " + setClause
			args = append([]any{*clamped}, args...)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET `+setClause+` WHERE task_id = ?`, args...); err != nil {
			return err
		}
		ev, err = s.appendTaskHistory(ctx, tx, taskID, eventType, message, clamped, metadata, now)
		if err != nil {
			return err
		}
		out, err = s.getTaskTx(ctx, tx, taskID)
		return err
	})
	return out, ev, err
}

func (s *Store) terminalTaskTransition(ctx context.Context, taskID string, newStatus status.Status, eventType task.EventType, message string, setProgress100 bool) (*task.Task, task.HistoryEvent, error) {
	var out *task.Task
	var ev task.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			if current.Status == newStatus {
				out = current
				return nil
			}
			return apperr.TerminalStateError("task " + taskID + " is terminal")
		}
		now := time.Now().UTC()
		timestampCol := map[status.Status]string{
			status.Success:  "completed_at",
			status.Failed:   "failed_at",
			status.Canceled: "canceled_at",
		}[newStatus]

		progressClause := ""
		if setProgress100 {
			progressClause = "progress = 100, "
		}
		query := `UPDATE tasks SET status = ?, ` + progressClause + timestampCol + ` = ?, updated_at = ? WHERE task_id = ?`
		if _, err := tx.ExecContext(ctx, query, newStatus, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), taskID); err != nil {
			return err
		}
		ev, err = s.appendTaskHistory(ctx, tx, taskID, eventType, message, nil, nil, now)
		if err != nil {
			return err
		}
		out, err = s.getTaskTx(ctx, tx, taskID)
		return err
	})
	return out, ev, err
}

func (s *Store) Complete(ctx context.Context, taskID string) (*task.Task, task.HistoryEvent, error) {
	return s.terminalTaskTransition(ctx, taskID, status.Success, task.EventSuccess, "", true)
}

func (s *Store) Fail(ctx context.Context, taskID string, errMessage string) (*task.Task, task.HistoryEvent, error) {
	return s.terminalTaskTransition(ctx, taskID, status.Failed, task.EventError, errMessage, false)
}

func (s *Store) Cancel(ctx context.Context, taskID string) (*task.Task, task.HistoryEvent, error) {
	return s.terminalTaskTransition(ctx, taskID, status.Canceled, task.EventCancel, "", false)
}

func (s *Store) Delete(ctx context.Context, taskID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_history WHERE task_id = ?`, taskID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperr.NotFoundError("task " + taskID)
		}
		return nil
	})
}
