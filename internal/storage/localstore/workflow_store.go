package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"spectralnotify/internal/broker/apperr"
	"spectralnotify/internal/domain/status"
	"spectralnotify/internal/domain/workflow"
)

func (s *Store) Create(ctx context.Context, p workflow.CreateParams) (*workflow.Workflow, []workflow.Phase, error) {
	seen := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if seen[ph.PhaseKey] {
			return nil, nil, apperr.DuplicatePhaseError("duplicate phase key " + ph.PhaseKey)
		}
		seen[ph.PhaseKey] = true
		if ph.Weight < 0 {
			return nil, nil, apperr.ValidationError("phase " + ph.PhaseKey + " weight must be non-negative")
		}
	}

	var activeKeyArg any
	if len(p.Phases) > 0 {
		activeKeyArg = p.Phases[0].PhaseKey
	}

	now := time.Now().UTC()
	var wf *workflow.Workflow
	var phases []workflow.Phase
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (workflow_id, status, overall_progress, expected_phase_count, completed_phase_count, active_phase_key, created_at, updated_at, metadata)
			VALUES (?, ?, 0, ?, 0, ?, ?, ?, ?)`,
			p.WorkflowID, status.Pending, len(p.Phases), activeKeyArg, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), nullableMetadata(p.Metadata))
		if err != nil {
			return apperr.DuplicateEntityError("workflow " + p.WorkflowID + " already exists")
		}
		for i, ph := range p.Phases {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_phases (workflow_id, phase_key, label, weight, status, progress, order_idx)
				VALUES (?, ?, ?, ?, ?, 0, ?)`,
				p.WorkflowID, ph.PhaseKey, ph.Label, ph.Weight, status.Pending, i); err != nil {
				return err
			}
		}
		phases, err = s.getPhasesTx(ctx, tx, p.WorkflowID)
		if err != nil {
			return err
		}
		wf, err = s.getWorkflowTx(ctx, tx, p.WorkflowID)
		return err
	})
	return wf, phases, err
}

func (s *Store) getWorkflowTx(ctx context.Context, q rowQuerier, workflowID string) (*workflow.Workflow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT workflow_id, status, overall_progress, expected_phase_count, completed_phase_count, active_phase_key,
			created_at, updated_at, completed_at, failed_at, canceled_at, metadata
		FROM workflows WHERE workflow_id = ?`, workflowID)

	var (
		wf                                                  workflow.Workflow
		activePhaseKey                                      sql.NullString
		createdAt, updatedAt                                string
		completedAt, failedAt, canceledAt, metadataNullStr  sql.NullString
	)
	if err := row.Scan(&wf.WorkflowID, &wf.Status, &wf.OverallProgress, &wf.ExpectedPhaseCount, &wf.CompletedPhaseCount,
		&activePhaseKey, &createdAt, &updatedAt, &completedAt, &failedAt, &canceledAt, &metadataNullStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundError("workflow " + workflowID)
		}
		return nil, err
	}
	if activePhaseKey.Valid {
		v := activePhaseKey.String
		wf.ActivePhaseKey = &v
	}
	wf.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	wf.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	wf.CompletedAt = parseNullableTime(completedAt)
	wf.FailedAt = parseNullableTime(failedAt)
	wf.CanceledAt = parseNullableTime(canceledAt)
	if metadataNullStr.Valid {
		wf.Metadata = json.RawMessage(metadataNullStr.String)
	}
	return &wf, nil
}

func (s *Store) getPhasesTx(ctx context.Context, q rowQuerier, workflowID string) ([]workflow.Phase, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT phase_key, label, weight, status, progress, order_idx, started_at, updated_at, completed_at
		FROM workflow_phases WHERE workflow_id = ? ORDER BY order_idx`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Phase
	for rows.Next() {
		var (
			ph                               workflow.Phase
			startedAt, updatedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&ph.PhaseKey, &ph.Label, &ph.Weight, &ph.Status, &ph.Progress, &ph.Order, &startedAt, &updatedAt, &completedAt); err != nil {
			return nil, err
		}
		ph.StartedAt = parseNullableTime(startedAt)
		ph.UpdatedAt = parseNullableTime(updatedAt)
		ph.CompletedAt = parseNullableTime(completedAt)
		out = append(out, ph)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	return s.getWorkflowTx(ctx, s.db, workflowID)
}

func (s *Store) List(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT workflow_id FROM workflows ORDER BY created_at`)
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
	out := make([]*workflow.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.getWorkflowTx(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (s *Store) Phases(ctx context.Context, workflowID string) ([]workflow.Phase, error) {
	if _, err := s.getWorkflowTx(ctx, s.db, workflowID); err != nil {
		return nil, err
	}
	return s.getPhasesTx(ctx, s.db, workflowID)
}

func (s *Store) History(ctx context.Context, workflowID string, limit int) ([]workflow.HistoryEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, phase_key, event_type, message, progress, timestamp, metadata
		FROM workflow_history WHERE workflow_id = ? ORDER BY id DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.HistoryEvent
	for rows.Next() {
		var (
			ev           workflow.HistoryEvent
			phaseKey     sql.NullString
			message      sql.NullString
			progress     sql.NullInt64
			ts           string
			metaNull     sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &phaseKey, &ev.EventType, &message, &progress, &ts, &metaNull); err != nil {
			return nil, err
		}
		if phaseKey.Valid {
			v := phaseKey.String
			ev.PhaseKey = &v
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

func (s *Store) appendWorkflowHistory(ctx context.Context, tx *sql.Tx, workflowID string, phaseKey *string, eventType workflow.EventType, message string, progress *int, metadata json.RawMessage, ts time.Time) (workflow.HistoryEvent, error) {
	var phaseArg any
	if phaseKey != nil {
		phaseArg = *phaseKey
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_history (workflow_id, phase_key, event_type, message, progress, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workflowID, phaseArg, eventType, message, nullableInt(progress), ts.Format(time.RFC3339Nano), nullableMetadata(metadata))
	if err != nil {
		return workflow.HistoryEvent{}, err
	}
	id, _ := res.LastInsertId()
	return workflow.HistoryEvent{
		ID: id, WorkflowID: workflowID, PhaseKey: phaseKey, EventType: eventType,
		Message: message, Progress: progress, Timestamp: ts, Metadata: metadata,
	}, nil
}

// recomputeDerived rewrites overall_progress, completed_phase_count and
// active_phase_key from the current phase rows.
func (s *Store) recomputeDerived(ctx context.Context, tx *sql.Tx, workflowID string, now time.Time) (*workflow.Workflow, []workflow.Phase, error) {
	phases, err := s.getPhasesTx(ctx, tx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	overall := workflow.OverallProgress(phases)
	completed, activeKey := workflow.DerivedFields(phases)

	var activeArg any
	if activeKey != nil {
		activeArg = *activeKey
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE workflows SET overall_progress = ?, completed_phase_count = ?, active_phase_key = ?, updated_at = ?
		WHERE workflow_id = ?`,
		overall, completed, activeArg, now.Format(time.RFC3339Nano), workflowID); err != nil {
		return nil, nil, err
	}
	wf, err := s.getWorkflowTx(ctx, tx, workflowID)
	return wf, phases, err
}

func (s *Store) getPhaseTx(ctx context.Context, tx *sql.Tx, workflowID, phaseKey string) (*workflow.Phase, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT phase_key, label, weight, status, progress, order_idx, started_at, updated_at, completed_at
		FROM workflow_phases WHERE workflow_id = ? AND phase_key = ?`, workflowID, phaseKey)
	var (
		ph                                 workflow.Phase
		startedAt, updatedAt, completedAt sql.NullString
	)
	if err := row.Scan(&ph.PhaseKey, &ph.Label, &ph.Weight, &ph.Status, &ph.Progress, &ph.Order, &startedAt, &updatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundError("phase " + phaseKey + " of workflow " + workflowID)
		}
		return nil, err
	}
	ph.StartedAt = parseNullableTime(startedAt)
	ph.UpdatedAt = parseNullableTime(updatedAt)
	ph.CompletedAt = parseNullableTime(completedAt)
	return &ph, nil
}

// UpdatePhaseProgress clamps and writes a phase's progress, transitioning the
// phase pending->in-progress on first write and the parent workflow
// pending->in-progress to match, then recomputes derived fields.
func (s *Store) UpdatePhaseProgress(ctx context.Context, workflowID, phaseKey string, progress int) (*workflow.Workflow, []workflow.Phase, workflow.HistoryEvent, error) {
	progress = status.Clamp(progress)
	var wf *workflow.Workflow
	var phases []workflow.Phase
	var ev workflow.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		wfCurrent, err := s.getWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if wfCurrent.Status.IsTerminal() {
			return apperr.TerminalStateError("workflow " + workflowID + " is terminal")
		}
		ph, err := s.getPhaseTx(ctx, tx, workflowID, phaseKey)
		if err != nil {
			return err
		}
		if ph.Status.IsTerminal() {
			return apperr.TerminalStateError("phase " + phaseKey + " is terminal")
		}
		now := time.Now().UTC()
		newPhaseStatus := ph.Status
		startedClause := ""
		args := []any{newPhaseStatus, progress, now.Format(time.RFC3339Nano)}
		if newPhaseStatus == status.Pending {
			newPhaseStatus = status.InProgress
			args[0] = newPhaseStatus
			startedClause = ", started_at = ?"
			args = append(args, now.Format(time.RFC3339Nano))
		}
		args = append(args, workflowID, phaseKey)
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_phases SET status = ?, progress = ?, updated_at = ?`+startedClause+`
			WHERE workflow_id = ? AND phase_key = ?`, args...); err != nil {
			return err
		}
		if wfCurrent.Status == status.Pending {
			if _, err := tx.ExecContext(ctx, `UPDATE workflows SET status = ? WHERE workflow_id = ?`, status.InProgress, workflowID); err != nil {
				return err
			}
		}
		ev, err = s.appendWorkflowHistory(ctx, tx, workflowID, &phaseKey, workflow.EventPhaseProgress, "", &progress, nil, now)
		if err != nil {
			return err
		}
		wf, phases, err = s.recomputeDerived(ctx, tx, workflowID, now)
		return err
	})
	return wf, phases, ev, err
}

// CompletePhase seals a phase at 100% success, independent of any prior
// UpdatePhaseProgress(100) call: the two are never coalesced into one row.
func (s *Store) CompletePhase(ctx context.Context, workflowID, phaseKey string) (*workflow.Workflow, []workflow.Phase, workflow.HistoryEvent, error) {
	var wf *workflow.Workflow
	var phases []workflow.Phase
	var ev workflow.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		wfCurrent, err := s.getWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if wfCurrent.Status.IsTerminal() {
			return apperr.TerminalStateError("workflow " + workflowID + " is terminal")
		}
		ph, err := s.getPhaseTx(ctx, tx, workflowID, phaseKey)
		if err != nil {
			return err
		}
		if ph.Status.IsTerminal() {
			return apperr.TerminalStateError("phase " + phaseKey + " is terminal")
		}
		now := time.Now().UTC()
		startedClause := ""
		args := []any{status.Success, now.Format(time.RFC3339Nano)}
		if ph.StartedAt == nil {
			startedClause = ", started_at = ?"
			args = append(args, now.Format(time.RFC3339Nano))
		}
		args = append(args, now.Format(time.RFC3339Nano), workflowID, phaseKey)
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_phases SET status = ?, progress = 100, completed_at = ?`+startedClause+`, updated_at = ?
			WHERE workflow_id = ? AND phase_key = ?`, args...); err != nil {
			return err
		}
		ev, err = s.appendWorkflowHistory(ctx, tx, workflowID, &phaseKey, workflow.EventPhaseProgress, "", intPtr(100), nil, now)
		if err != nil {
			return err
		}
		wf, phases, err = s.recomputeDerived(ctx, tx, workflowID, now)
		return err
	})
	return wf, phases, ev, err
}

func intPtr(v int) *int { return &v }

// Complete seals the workflow success. When strictCompletion is false (the
// default), any non-terminal phases are force-completed first; when true,
// Complete fails with INVALID_INPUT unless every phase is already terminal.
func (s *Store) Complete(ctx context.Context, workflowID string, strictCompletion bool) (*workflow.Workflow, []workflow.Phase, workflow.HistoryEvent, error) {
	var wf *workflow.Workflow
	var phases []workflow.Phase
	var ev workflow.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		wfCurrent, err := s.getWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if wfCurrent.Status.IsTerminal() {
			if wfCurrent.Status == status.Success {
				wf, phases, err = wfCurrent, nil, nil
				phases, err = s.getPhasesTx(ctx, tx, workflowID)
				return err
			}
			return apperr.TerminalStateError("workflow " + workflowID + " is terminal")
		}
		now := time.Now().UTC()
		current, err := s.getPhasesTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		pendingPhases := false
		for _, ph := range current {
			if !ph.Status.IsTerminal() {
				pendingPhases = true
				break
			}
		}
		if pendingPhases {
			if strictCompletion {
				return apperr.ValidationError("workflow " + workflowID + " has incomplete phases")
			}
			for _, ph := range current {
				if ph.Status.IsTerminal() {
					continue
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE workflow_phases SET status = ?, progress = 100, completed_at = ?, updated_at = ? WHERE workflow_id = ? AND phase_key = ?`,
					status.Success, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), workflowID, ph.PhaseKey); err != nil {
					return err
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflows SET status = ?, completed_at = ?, updated_at = ? WHERE workflow_id = ?`,
			status.Success, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), workflowID); err != nil {
			return err
		}
		ev, err = s.appendWorkflowHistory(ctx, tx, workflowID, nil, workflow.EventSuccess, "", nil, nil, now)
		if err != nil {
			return err
		}
		wf, phases, err = s.recomputeDerived(ctx, tx, workflowID, now)
		return err
	})
	return wf, phases, ev, err
}

func (s *Store) terminalWorkflowTransition(ctx context.Context, workflowID string, newStatus status.Status, eventType workflow.EventType, message string) (*workflow.Workflow, []workflow.Phase, workflow.HistoryEvent, error) {
	var wf *workflow.Workflow
	var phases []workflow.Phase
	var ev workflow.HistoryEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getWorkflowTx(ctx, tx, workflowID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			if current.Status == newStatus {
				wf = current
				phases, err = s.getPhasesTx(ctx, tx, workflowID)
				return err
			}
			return apperr.TerminalStateError("workflow " + workflowID + " is terminal")
		}
		now := time.Now().UTC()
		timestampCol := map[status.Status]string{
			status.Failed:   "failed_at",
			status.Canceled: "canceled_at",
		}[newStatus]
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflows SET status = ?, `+timestampCol+` = ?, updated_at = ? WHERE workflow_id = ?`,
			newStatus, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), workflowID); err != nil {
			return err
		}
		ev, err = s.appendWorkflowHistory(ctx, tx, workflowID, nil, eventType, message, nil, nil, now)
		if err != nil {
			return err
		}
		wf, phases, err = s.recomputeDerived(ctx, tx, workflowID, now)
		return err
	})
	return wf, phases, ev, err
}

func (s *Store) Fail(ctx context.Context, workflowID string, errMessage string) (*workflow.Workflow, []workflow.Phase, workflow.HistoryEvent, error) {
	return s.terminalWorkflowTransition(ctx, workflowID, status.Failed, workflow.EventError, errMessage)
}

func (s *Store) Cancel(ctx context.Context, workflowID string) (*workflow.Workflow, []workflow.Phase, workflow.HistoryEvent, error) {
	return s.terminalWorkflowTransition(ctx, workflowID, status.Canceled, workflow.EventCancel, "")
}

func (s *Store) Delete(ctx context.Context, workflowID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_history WHERE workflow_id = ?`, workflowID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_phases WHERE workflow_id = ?`, workflowID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE workflow_id = ?`, workflowID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apperr.NotFoundError("workflow " + workflowID)
		}
		return nil
	})
}
