package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"atelier/internal/models"
)

const orderColumns = `id, booking_id, customer_id, tailor_id, status, version,
                 plan_submitted_at, plan_approved_at, plan_rejected_at, plan_rejection_reason,
                 total_estimated_days, estimated_completion, current_stage,
                 plan_deadline, plan_reminder_sent, plan_overdue, work_overdue,
                 work_completed_at, delivered_at, completed_at, rating, feedback,
                 dispute_raised_by, dispute_raised_role, dispute_reason, dispute_status,
                 dispute_resolution, dispute_prior_status, dispute_raised_at, dispute_resolved_at,
                 cancel_reason, created_at, updated_at`

// CreateOrder inserts the order, its initial stages (possibly none) and
// the first history entry in one transaction. A second order for the
// same booking fails with ErrDuplicateOrder.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order, stages []models.Stage, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE booking_id = ?)`, order.BookingID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existing order in tx: %w", err)
	}
	if exists {
		return ErrDuplicateOrder
	}

	now := time.Now()
	query := `INSERT INTO orders (
                booking_id, customer_id, tailor_id, status, version,
                total_estimated_days, estimated_completion, current_stage,
                plan_deadline, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, query,
		order.BookingID,
		order.CustomerID,
		order.TailorID,
		order.Status,
		1,
		order.TotalEstimatedDays,
		order.EstimatedCompletion,
		order.CurrentStage,
		order.PlanDeadline,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	order.ID = id
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Version = 1

	if len(stages) > 0 {
		if err := insertStages(ctx, tx, id, stages); err != nil {
			return err
		}
		order.Stages = stages
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	order, err := scanOrder(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if err := db.loadOrderChildren(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (db *DB) GetOrderByBookingID(ctx context.Context, bookingID int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE booking_id = ?`
	order, err := scanOrder(db.QueryRowContext(ctx, query, bookingID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by booking: %w", err)
	}
	if err := db.loadOrderChildren(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrdersByDateRange lists orders created inside [start, end],
// stages included, oldest first.
func (db *DB) GetOrdersByDateRange(ctx context.Context, start, end time.Time) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
              WHERE created_at >= ? AND created_at < ?
              ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to get orders by date range: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := db.loadOrderChildren(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (db *DB) GetOrderHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryPageSize
	}
	query := `SELECT id, status, changed_at, actor_role, actor_id, note
              FROM order_status_history WHERE order_id = ?
              ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusChange
	for rows.Next() {
		var h models.StatusChange
		if err := rows.Scan(&h.ID, &h.Status, &h.ChangedAt, &h.ActorRole, &h.ActorID, &h.Note); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ReplaceWorkPlan swaps the full stage set under the version guard.
// When archive is non-nil the previous stages are snapshotted into
// order_plan_revisions before being replaced. A target status of
// in_progress (approval waived) also records the approval timestamp and
// starts the first stage.
func (db *DB) ReplaceWorkPlan(ctx context.Context, id, version int64, from, to string, stages []models.Stage, totalDays int, estimatedCompletion time.Time, archive *models.PlanRevision, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	var approvedAt interface{}
	if to == models.OrderInProgress {
		approvedAt = now
	}
	query := `UPDATE orders SET status = ?, plan_submitted_at = ?, plan_approved_at = ?,
                plan_rejection_reason = '', total_estimated_days = ?, estimated_completion = ?,
                current_stage = 0, version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		to, now, approvedAt, totalDays, estimatedCompletion, now, id, from, version); err != nil {
		return err
	}

	if archive != nil {
		stagesJSON, err := json.Marshal(archive.Stages)
		if err != nil {
			return fmt.Errorf("failed to encode archived stages: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_plan_revisions (order_id, revision, stages, reason, revised_by, archived_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			id, archive.Revision, string(stagesJSON), archive.Reason, archive.RevisedBy, now)
		if err != nil {
			return fmt.Errorf("failed to archive plan revision: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_stages WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear stages: %w", err)
	}
	if to == models.OrderInProgress && len(stages) > 0 {
		stages[0].Status = models.StageInProgress
		stages[0].StartedAt = &now
	}
	if err := insertStages(ctx, tx, id, stages); err != nil {
		return err
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) CountPlanRevisions(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_plan_revisions WHERE order_id = ?`, orderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plan revisions: %w", err)
	}
	return count, nil
}

// StartOrderProgress moves an approved plan into execution and starts
// the first stage.
func (db *DB) StartOrderProgress(ctx context.Context, id, version int64, from string, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `UPDATE orders SET status = ?, plan_approved_at = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		models.OrderInProgress, now, now, id, from, version); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE order_stages SET status = ?, started_at = ? WHERE order_id = ? AND seq = 1`,
		models.StageInProgress, now, id)
	if err != nil {
		return fmt.Errorf("failed to start first stage: %w", err)
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) RejectWorkPlan(ctx context.Context, id, version int64, reason string, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `UPDATE orders SET status = ?, plan_rejected_at = ?, plan_rejection_reason = ?,
                version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		models.OrderPlanRejected, now, reason, now, id, models.OrderPlanReview, version); err != nil {
		return err
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

// CompleteStage finishes the stage with the given seq and either starts
// the next one or, when last is set, moves the order to ready.
func (db *DB) CompleteStage(ctx context.Context, id, version int64, seq int, note string, last bool, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	var query string
	var args []interface{}
	if last {
		query = `UPDATE orders SET status = ?, current_stage = ?, work_completed_at = ?,
                    version = version + 1, updated_at = ?
                 WHERE id = ? AND status = ? AND version = ?`
		args = []interface{}{models.OrderReady, seq, now, now, id, models.OrderInProgress, version}
	} else {
		query = `UPDATE orders SET current_stage = ?, version = version + 1, updated_at = ?
                 WHERE id = ? AND status = ? AND version = ?`
		args = []interface{}{seq, now, id, models.OrderInProgress, version}
	}
	if err := condUpdateOrder(ctx, tx, id, query, args...); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE order_stages SET status = ?, completed_at = ? WHERE order_id = ? AND seq = ? AND status != ?`,
		models.StageCompleted, now, id, seq, models.StageCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete stage: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	if note != "" {
		if err := appendStageNote(ctx, tx, id, seq, note); err != nil {
			return err
		}
	}

	if !last {
		_, err = tx.ExecContext(ctx,
			`UPDATE order_stages SET status = ?, started_at = ? WHERE order_id = ? AND seq = ?`,
			models.StageInProgress, now, id, seq+1)
		if err != nil {
			return fmt.Errorf("failed to start next stage: %w", err)
		}
	}

	if last {
		if err := appendOrderHistory(ctx, tx, id, change); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *DB) AddStageNote(ctx context.Context, orderID int64, seq int, note string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := appendStageNote(ctx, tx, orderID, seq, note); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateDelayRequest inserts a pending delay request, rejecting a
// second one while an earlier request is still unresolved.
func (db *DB) CreateDelayRequest(ctx context.Context, orderID int64, req *models.DelayRequest) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var pending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_delay_requests WHERE order_id = ? AND status = ?`,
		orderID, models.DelayPending).Scan(&pending)
	if err != nil {
		return fmt.Errorf("failed to check pending delays in tx: %w", err)
	}
	if pending > 0 {
		return ErrDuplicatePendingDelay
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO order_delay_requests (order_id, reason, additional_days, status, requested_at)
         VALUES (?, ?, ?, ?, ?)`,
		orderID, req.Reason, req.AdditionalDays, models.DelayPending, now)
	if err != nil {
		return fmt.Errorf("failed to insert delay request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	req.ID = id
	req.OrderID = orderID
	req.Status = models.DelayPending
	req.RequestedAt = now

	return tx.Commit()
}

// ReviewDelayRequest resolves a pending request. An approval with a new
// estimate also pushes the order's estimated completion and clears any
// work-overdue flag.
func (db *DB) ReviewDelayRequest(ctx context.Context, orderID, requestID int64, approved bool, reviewer int64, notes string, newEstimatedCompletion *time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	status := models.DelayRejected
	if approved {
		status = models.DelayApproved
	}
	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE order_delay_requests SET status = ?, reviewed_by = ?, review_notes = ?, reviewed_at = ?
         WHERE id = ? AND order_id = ? AND status = ?`,
		status, reviewer, notes, now, requestID, orderID, models.DelayPending)
	if err != nil {
		return fmt.Errorf("failed to review delay request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM order_delay_requests WHERE id = ? AND order_id = ?)`,
			requestID, orderID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check delay request existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrDelayProcessed
	}

	if approved && newEstimatedCompletion != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET estimated_completion = ?, work_overdue = 0, updated_at = ? WHERE id = ?`,
			newEstimatedCompletion, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to extend estimated completion: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) CompleteOrder(ctx context.Context, id, version int64, rating *int, feedback string, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `UPDATE orders SET status = ?, delivered_at = ?, completed_at = ?, rating = ?, feedback = ?,
                version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		models.OrderCompleted, now, now, rating, feedback, now, id, models.OrderReady, version); err != nil {
		return err
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) CancelOrder(ctx context.Context, id, version int64, from, reason string, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE orders SET status = ?, cancel_reason = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		models.OrderCancelled, reason, time.Now(), id, from, version); err != nil {
		return err
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

// RaiseDispute freezes the order in disputed, remembering the status it
// came from so resolution can put it back.
func (db *DB) RaiseDispute(ctx context.Context, id, version int64, from string, dispute *models.Dispute, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `UPDATE orders SET status = ?, dispute_raised_by = ?, dispute_raised_role = ?,
                dispute_reason = ?, dispute_status = ?, dispute_prior_status = ?, dispute_raised_at = ?,
                version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		models.OrderDisputed, dispute.RaisedBy, dispute.RaisedRole,
		dispute.Reason, models.DisputeOpen, from, now, now, id, from, version); err != nil {
		return err
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) ReviewDispute(ctx context.Context, id int64, status string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET dispute_status = ?, updated_at = ? WHERE id = ? AND dispute_status IS NOT NULL AND dispute_status != ?`,
		status, time.Now(), id, models.DisputeResolved)
	if err != nil {
		return fmt.Errorf("failed to update dispute status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveDispute closes the dispute and returns the order to returnTo,
// its pre-dispute status unless the resolution cancels the order.
func (db *DB) ResolveDispute(ctx context.Context, id, version int64, resolution, returnTo string, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `UPDATE orders SET status = ?, dispute_status = ?, dispute_resolution = ?, dispute_resolved_at = ?,
                version = version + 1, updated_at = ?
              WHERE id = ? AND status = ? AND version = ?`
	if err := condUpdateOrder(ctx, tx, id, query,
		returnTo, models.DisputeResolved, resolution, now, now, id, models.OrderDisputed, version); err != nil {
		return err
	}

	if err := appendOrderHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

// ListPlanDeadlineOrders returns orders still waiting for a plan whose
// deadline is approaching (due) or already past (overdue), skipping
// ones already reminded or flagged.
func (db *DB) ListPlanDeadlineOrders(ctx context.Context, now time.Time, remindBefore time.Duration) (due []*models.Order, overdue []*models.Order, err error) {
	query := `SELECT ` + orderColumns + ` FROM orders
              WHERE status IN (?, ?) AND plan_deadline IS NOT NULL
              AND ((plan_deadline <= ? AND plan_overdue = 0)
                OR (plan_deadline <= ? AND plan_reminder_sent = 0))`
	rows, err := db.QueryContext(ctx, query,
		models.OrderAwaitingPlan, models.OrderPlanRejected,
		now, now.Add(remindBefore))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list plan deadline orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan order: %w", err)
		}
		if order.PlanDeadline != nil && order.PlanDeadline.Before(now) {
			if !order.PlanOverdue {
				overdue = append(overdue, order)
			}
		} else if !order.PlanReminderSent {
			due = append(due, order)
		}
	}
	return due, overdue, rows.Err()
}

func (db *DB) MarkPlanReminderSent(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET plan_reminder_sent = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark plan reminder sent: %w", err)
	}
	return nil
}

func (db *DB) MarkPlanOverdue(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET plan_overdue = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark plan overdue: %w", err)
	}
	return nil
}

func (db *DB) ListWorkOverdueOrders(ctx context.Context, now time.Time) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
              WHERE status = ? AND estimated_completion IS NOT NULL
              AND estimated_completion < ? AND work_overdue = 0`
	rows, err := db.QueryContext(ctx, query, models.OrderInProgress, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list work overdue orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (db *DB) MarkWorkOverdue(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET work_overdue = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark work overdue: %w", err)
	}
	return nil
}

func condUpdateOrder(ctx context.Context, tx *sql.Tx, id int64, query string, args ...interface{}) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = ?)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check order existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

func appendOrderHistory(ctx context.Context, tx *sql.Tx, orderID int64, change models.StatusChange) error {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now()
	}
	query := `INSERT INTO order_status_history (order_id, status, changed_at, actor_role, actor_id, note)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query, orderID, change.Status, change.ChangedAt, change.ActorRole, change.ActorID, change.Note)
	if err != nil {
		return fmt.Errorf("failed to append order history: %w", err)
	}
	return nil
}

func insertStages(ctx context.Context, tx *sql.Tx, orderID int64, stages []models.Stage) error {
	query := `INSERT INTO order_stages (order_id, seq, name, description, estimated_days, status, started_at, completed_at, notes)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i := range stages {
		s := &stages[i]
		if s.Status == "" {
			s.Status = models.StagePending
		}
		notesJSON, err := json.Marshal(s.Notes)
		if err != nil {
			return fmt.Errorf("failed to encode stage notes: %w", err)
		}
		if s.Notes == nil {
			notesJSON = []byte("[]")
		}
		result, err := tx.ExecContext(ctx, query,
			orderID, s.Seq, s.Name, s.Description, s.EstimatedDays, s.Status, s.StartedAt, s.CompletedAt, string(notesJSON))
		if err != nil {
			return fmt.Errorf("failed to insert stage %d: %w", s.Seq, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}
		s.ID = id
		s.OrderID = orderID
	}
	return nil
}

func appendStageNote(ctx context.Context, tx *sql.Tx, orderID int64, seq int, note string) error {
	var notesJSON string
	err := tx.QueryRowContext(ctx,
		`SELECT notes FROM order_stages WHERE order_id = ? AND seq = ?`, orderID, seq).Scan(&notesJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read stage notes: %w", err)
	}

	var notes []string
	if notesJSON != "" {
		if err := json.Unmarshal([]byte(notesJSON), &notes); err != nil {
			return fmt.Errorf("failed to decode stage notes: %w", err)
		}
	}
	notes = append(notes, note)
	updated, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("failed to encode stage notes: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE order_stages SET notes = ? WHERE order_id = ? AND seq = ?`, string(updated), orderID, seq)
	if err != nil {
		return fmt.Errorf("failed to update stage notes: %w", err)
	}
	return nil
}

func (db *DB) loadOrderChildren(ctx context.Context, order *models.Order) error {
	stageRows, err := db.QueryContext(ctx,
		`SELECT id, order_id, seq, name, description, estimated_days, status, started_at, completed_at, notes
         FROM order_stages WHERE order_id = ? ORDER BY seq ASC`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load stages: %w", err)
	}
	defer stageRows.Close()

	for stageRows.Next() {
		var s models.Stage
		var notesJSON string
		err := stageRows.Scan(&s.ID, &s.OrderID, &s.Seq, &s.Name, &s.Description,
			&s.EstimatedDays, &s.Status, &s.StartedAt, &s.CompletedAt, &notesJSON)
		if err != nil {
			return fmt.Errorf("failed to scan stage: %w", err)
		}
		if notesJSON != "" && notesJSON != "[]" {
			if err := json.Unmarshal([]byte(notesJSON), &s.Notes); err != nil {
				return fmt.Errorf("failed to decode stage notes: %w", err)
			}
		}
		order.Stages = append(order.Stages, s)
	}
	if err := stageRows.Err(); err != nil {
		return err
	}

	delayRows, err := db.QueryContext(ctx,
		`SELECT id, order_id, reason, additional_days, status, requested_at, reviewed_by, review_notes, reviewed_at
         FROM order_delay_requests WHERE order_id = ? ORDER BY id ASC`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load delay requests: %w", err)
	}
	defer delayRows.Close()

	for delayRows.Next() {
		var d models.DelayRequest
		err := delayRows.Scan(&d.ID, &d.OrderID, &d.Reason, &d.AdditionalDays, &d.Status,
			&d.RequestedAt, &d.ReviewedBy, &d.ReviewNotes, &d.ReviewedAt)
		if err != nil {
			return fmt.Errorf("failed to scan delay request: %w", err)
		}
		order.DelayRequests = append(order.DelayRequests, d)
	}
	return delayRows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var disputeRaisedBy sql.NullInt64
	var disputeRaisedRole, disputeReason, disputeStatus, disputeResolution, disputePriorStatus sql.NullString
	var disputeRaisedAt, disputeResolvedAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.BookingID, &o.CustomerID, &o.TailorID, &o.Status, &o.Version,
		&o.PlanSubmittedAt, &o.PlanApprovedAt, &o.PlanRejectedAt, &o.PlanRejectionReason,
		&o.TotalEstimatedDays, &o.EstimatedCompletion, &o.CurrentStage,
		&o.PlanDeadline, &o.PlanReminderSent, &o.PlanOverdue, &o.WorkOverdue,
		&o.WorkCompletedAt, &o.DeliveredAt, &o.CompletedAt, &o.Rating, &o.Feedback,
		&disputeRaisedBy, &disputeRaisedRole, &disputeReason, &disputeStatus,
		&disputeResolution, &disputePriorStatus, &disputeRaisedAt, &disputeResolvedAt,
		&o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if disputeStatus.Valid {
		o.Dispute = &models.Dispute{
			RaisedBy:    disputeRaisedBy.Int64,
			RaisedRole:  disputeRaisedRole.String,
			Reason:      disputeReason.String,
			Status:      disputeStatus.String,
			Resolution:  disputeResolution.String,
			PriorStatus: disputePriorStatus.String,
			RaisedAt:    disputeRaisedAt.Time,
		}
		if disputeResolvedAt.Valid {
			o.Dispute.ResolvedAt = &disputeResolvedAt.Time
		}
	}
	return &o, nil
}
