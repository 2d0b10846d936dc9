package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/constellation/store"
)

func (d *DB) UpsertAccount(ctx context.Context, upsert *store.Account) (*store.Account, error) {
	stmt := `INSERT INTO account (did, handle, display_name, followers_count, following_count, posts_count, fetched_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (did) DO UPDATE SET
			handle = EXCLUDED.handle,
			display_name = EXCLUDED.display_name,
			followers_count = EXCLUDED.followers_count,
			following_count = EXCLUDED.following_count,
			posts_count = EXCLUDED.posts_count,
			fetched_ts = EXCLUDED.fetched_ts
		RETURNING id`

	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.DID,
		upsert.Handle,
		upsert.DisplayName,
		upsert.FollowersCount,
		upsert.FollowingCount,
		upsert.PostsCount,
		upsert.FetchedTs,
	).Scan(&upsert.ID); err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}

	return upsert, nil
}

func (d *DB) ListAccounts(ctx context.Context, find *store.FindAccount) ([]*store.Account, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "account.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.DID; v != nil {
		where, args = append(where, "account.did = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Handle; v != nil {
		where, args = append(where, "account.handle = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, did, handle, display_name,
			followers_count, following_count, posts_count, fetched_ts
		FROM account
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY account.fetched_ts DESC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Account, 0)
	for rows.Next() {
		var account store.Account
		if err := rows.Scan(
			&account.ID,
			&account.DID,
			&account.Handle,
			&account.DisplayName,
			&account.FollowersCount,
			&account.FollowingCount,
			&account.PostsCount,
			&account.FetchedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		list = append(list, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteExpiredAccounts(ctx context.Context, beforeTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM account WHERE fetched_ts < "+placeholder(1), beforeTs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired accounts: %w", err)
	}
	return result.RowsAffected()
}
