package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/constellation/store"
)

func (d *DB) UpsertAnalysis(ctx context.Context, upsert *store.Analysis) (*store.Analysis, error) {
	stmt := `INSERT INTO analysis (uid, subject_did, handle, followers_count, following_count, mutuals_count, communities, created_ts, updated_ts, expires_ts)
		VALUES (` + placeholders(10) + `)
		ON CONFLICT (handle) DO UPDATE SET
			uid = EXCLUDED.uid,
			subject_did = EXCLUDED.subject_did,
			followers_count = EXCLUDED.followers_count,
			following_count = EXCLUDED.following_count,
			mutuals_count = EXCLUDED.mutuals_count,
			communities = EXCLUDED.communities,
			updated_ts = EXCLUDED.updated_ts,
			expires_ts = EXCLUDED.expires_ts
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.UID,
		upsert.SubjectDID,
		upsert.Handle,
		upsert.FollowersCount,
		upsert.FollowingCount,
		upsert.MutualsCount,
		upsert.Communities,
		upsert.CreatedTs,
		upsert.UpdatedTs,
		upsert.ExpiresTs,
	).Scan(&upsert.ID, &upsert.CreatedTs); err != nil {
		return nil, fmt.Errorf("failed to upsert analysis: %w", err)
	}

	return upsert, nil
}

func (d *DB) ListAnalyses(ctx context.Context, find *store.FindAnalysis) ([]*store.Analysis, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "analysis.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "analysis.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Handle; v != nil {
		where, args = append(where, "analysis.handle = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, uid, subject_did, handle,
			followers_count, following_count, mutuals_count,
			communities, created_ts, updated_ts, expires_ts
		FROM analysis
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY analysis.updated_ts DESC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Analysis, 0)
	for rows.Next() {
		var analysis store.Analysis
		if err := rows.Scan(
			&analysis.ID,
			&analysis.UID,
			&analysis.SubjectDID,
			&analysis.Handle,
			&analysis.FollowersCount,
			&analysis.FollowingCount,
			&analysis.MutualsCount,
			&analysis.Communities,
			&analysis.CreatedTs,
			&analysis.UpdatedTs,
			&analysis.ExpiresTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		list = append(list, &analysis)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteExpiredAnalyses(ctx context.Context, beforeTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM analysis WHERE expires_ts > 0 AND expires_ts < "+placeholder(1), beforeTs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired analyses: %w", err)
	}
	return result.RowsAffected()
}
