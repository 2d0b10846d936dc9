package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/constellation/store"
)

func (d *DB) UpsertConnectionSet(ctx context.Context, upsert *store.ConnectionSet) (*store.ConnectionSet, error) {
	stmt := `INSERT INTO connection_set (owner_did, kind, payload, fetched_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (owner_did, kind) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_ts = EXCLUDED.fetched_ts
		RETURNING id`

	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.OwnerDID,
		upsert.Kind,
		upsert.Payload,
		upsert.FetchedTs,
	).Scan(&upsert.ID); err != nil {
		return nil, fmt.Errorf("failed to upsert connection set: %w", err)
	}

	return upsert, nil
}

func (d *DB) ListConnectionSets(ctx context.Context, find *store.FindConnectionSet) ([]*store.ConnectionSet, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.OwnerDID; v != nil {
		where, args = append(where, "connection_set.owner_did = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Kind; v != nil {
		where, args = append(where, "connection_set.kind = "+placeholder(len(args)+1)), append(args, string(*v))
	}

	query := `
		SELECT id, owner_did, kind, payload, fetched_ts
		FROM connection_set
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection sets: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ConnectionSet, 0)
	for rows.Next() {
		var set store.ConnectionSet
		if err := rows.Scan(
			&set.ID,
			&set.OwnerDID,
			&set.Kind,
			&set.Payload,
			&set.FetchedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan connection set: %w", err)
		}
		list = append(list, &set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteExpiredConnectionSets(ctx context.Context, beforeTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM connection_set WHERE fetched_ts < "+placeholder(1), beforeTs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired connection sets: %w", err)
	}
	return result.RowsAffected()
}
