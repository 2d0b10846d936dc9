package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/constellation/store"
)

func (d *DB) CreateJob(ctx context.Context, create *store.Job) (*store.Job, error) {
	fields := []string{
		"uid", "handle", "status", "priority", "force",
		"attempts", "max_attempts", "next_attempt_ts",
		"refresh_count", "last_refresh_date",
		"stage", "progress_current", "progress_total", "message", "details",
		"error_message",
	}
	placeholderValues := []any{
		create.UID, create.Handle, create.Status, create.Priority, create.Force,
		create.Attempts, create.MaxAttempts, create.NextAttemptTs,
		create.RefreshCount, create.LastRefreshDate,
		create.Stage, create.ProgressCurrent, create.ProgressTotal, create.Message, create.Details,
		create.ErrorMessage,
	}

	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields = append(fields, "updated_ts")
		placeholderValues = append(placeholderValues, create.UpdatedTs)
	}

	stmt := `INSERT INTO job (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return create, nil
}

func (d *DB) ListJobs(ctx context.Context, find *store.FindJob) ([]*store.Job, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "job.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "job.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Handle; v != nil {
		where, args = append(where, "job.handle = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(find.Statuses) > 0 {
		list := []string{}
		for _, status := range find.Statuses {
			list = append(list, placeholder(len(args)+1))
			args = append(args, string(status))
		}
		where = append(where, "job.status IN ("+strings.Join(list, ", ")+")")
	}
	if v := find.NextAttemptBefore; v != nil {
		where, args = append(where, "(job.next_attempt_ts IS NULL OR job.next_attempt_ts <= "+placeholder(len(args)+1)+")"), append(args, *v)
	}

	orderBy := "ORDER BY job.created_ts ASC"
	if find.OrderByQueue {
		orderBy = "ORDER BY job.priority DESC, job.created_ts ASC"
	} else if find.OrderByCreatedDesc {
		orderBy = "ORDER BY job.created_ts DESC, job.id DESC"
	}

	query := `
		SELECT
			id, uid, handle, status, priority, force,
			attempts, max_attempts, next_attempt_ts,
			refresh_count, last_refresh_date,
			stage, progress_current, progress_total, message, details,
			error_message, created_ts, updated_ts, started_ts
		FROM job
		WHERE ` + strings.Join(where, " AND ") + ` ` + orderBy

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Job, 0)
	for rows.Next() {
		var job store.Job
		var nextAttemptTs sql.NullInt64
		if err := rows.Scan(
			&job.ID,
			&job.UID,
			&job.Handle,
			&job.Status,
			&job.Priority,
			&job.Force,
			&job.Attempts,
			&job.MaxAttempts,
			&nextAttemptTs,
			&job.RefreshCount,
			&job.LastRefreshDate,
			&job.Stage,
			&job.ProgressCurrent,
			&job.ProgressTotal,
			&job.Message,
			&job.Details,
			&job.ErrorMessage,
			&job.CreatedTs,
			&job.UpdatedTs,
			&job.StartedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		if nextAttemptTs.Valid {
			job.NextAttemptTs = &nextAttemptTs.Int64
		}
		list = append(list, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateJob(ctx context.Context, update *store.UpdateJob) error {
	set, args := []string{}, []any{}

	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*v))
	}
	if update.ClearNextAttempt {
		set = append(set, "next_attempt_ts = NULL")
	} else if v := update.NextAttemptTs; v != nil {
		set, args = append(set, "next_attempt_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RefreshCount; v != nil {
		set, args = append(set, "refresh_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastRefreshDate; v != nil {
		set, args = append(set, "last_refresh_date = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Stage; v != nil {
		set, args = append(set, "stage = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ProgressCurrent; v != nil {
		set, args = append(set, "progress_current = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ProgressTotal; v != nil {
		set, args = append(set, "progress_total = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Message; v != nil {
		set, args = append(set, "message = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Details; v != nil {
		set, args = append(set, "details = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ErrorMessage; v != nil {
		set, args = append(set, "error_message = "+placeholder(len(args)+1)), append(args, *v)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, update.UpdatedTs)

	stmt := `UPDATE job SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (d *DB) ClaimJob(ctx context.Context, id int32, nowTs int64) (bool, error) {
	stmt := `UPDATE job
		SET status = 'in_progress', attempts = attempts + 1, started_ts = ` + placeholder(1) + `, updated_ts = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND status = 'pending'`

	result, err := d.db.ExecContext(ctx, stmt, nowTs, nowTs, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (d *DB) ResetStuckJobs(ctx context.Context, beforeTs int64, nowTs int64) (int64, error) {
	stmt := `UPDATE job
		SET status = 'pending', updated_ts = ` + placeholder(1) + `
		WHERE status = 'in_progress' AND started_ts < ` + placeholder(2)

	result, err := d.db.ExecContext(ctx, stmt, nowTs, beforeTs)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck jobs: %w", err)
	}
	return result.RowsAffected()
}
