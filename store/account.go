package store

import (
	"context"
	"fmt"
)

// Account is the object representing a remote social account.
// Identified by a stable DID; the handle is human-readable and may be
// reassigned by the provider.
type Account struct {
	ID             int32
	DID            string
	Handle         string
	DisplayName    string
	FollowersCount int64
	FollowingCount int64
	PostsCount     int64
	FetchedTs      int64
}

// FindAccount is the find condition for account.
type FindAccount struct {
	ID     *int32
	DID    *string
	Handle *string

	Limit *int
}

// UpsertAccount creates or overwrites the account keyed by DID.
func (s *Store) UpsertAccount(ctx context.Context, upsert *Account) (*Account, error) {
	account, err := s.driver.UpsertAccount(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.accountCache.Set(ctx, accountCacheKey(account.Handle), account)
	return account, nil
}

// ListAccounts lists accounts with filter.
func (s *Store) ListAccounts(ctx context.Context, find *FindAccount) ([]*Account, error) {
	return s.driver.ListAccounts(ctx, find)
}

// GetAccountByHandle gets an account by handle, or nil if absent.
func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (*Account, error) {
	if v, ok := s.accountCache.Get(ctx, accountCacheKey(handle)); ok {
		if account, ok := v.(*Account); ok {
			return account, nil
		}
	}

	list, err := s.driver.ListAccounts(ctx, &FindAccount{Handle: &handle})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	account := list[0]
	s.accountCache.Set(ctx, accountCacheKey(handle), account)
	return account, nil
}

// DeleteExpiredAccounts removes accounts fetched before the cutoff.
func (s *Store) DeleteExpiredAccounts(ctx context.Context, beforeTs int64) (int64, error) {
	return s.driver.DeleteExpiredAccounts(ctx, beforeTs)
}

func accountCacheKey(handle string) string {
	return fmt.Sprintf("account:%s", handle)
}
