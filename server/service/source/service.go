// Package source provides read-through cached access to provider data:
// memory cache, then database row under its TTL bucket, then a gateway
// fetch. Concurrent requests for the same key are coalesced.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/hrygo/constellation/internal/errors"
	"github.com/hrygo/constellation/plugin/skynet"
	"github.com/hrygo/constellation/store"
)

// Fetcher is the provider surface the service pulls from. Satisfied by
// *skynet.Client.
type Fetcher interface {
	GetProfile(ctx context.Context, handle string) (*skynet.Account, error)
	ListAllFollowers(ctx context.Context, handle string) ([]skynet.Account, error)
	ListAllFollowing(ctx context.Context, handle string) ([]skynet.Account, error)
}

// Store is the storage subset the service needs. Satisfied by
// *store.Store.
type Store interface {
	UpsertAccount(ctx context.Context, upsert *store.Account) (*store.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*store.Account, error)
	UpsertConnectionSet(ctx context.Context, ownerDID string, kind store.ConnectionKind, records []store.ConnectionRecord, fetchedTs int64) (*store.ConnectionSet, error)
	GetConnectionSet(ctx context.Context, ownerDID string, kind store.ConnectionKind) (*store.ConnectionSet, error)
}

// Service resolves profiles and connection lists.
type Service struct {
	store   Store
	fetcher Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	// Overridable in tests.
	now func() time.Time
}

// NewService creates a source service.
func NewService(st Store, fetcher Fetcher, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Profile returns the account for a handle. Stored rows fresh within
// the short TTL bucket are served without a provider call unless force
// is set. Fetched data overwrites the stored row wholesale.
func (s *Service) Profile(ctx context.Context, handle string, force bool) (*store.Account, error) {
	if handle == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidArgument, "handle is required")
	}

	key := fmt.Sprintf("profile:%s:%t", handle, force)
	v, err, _ := s.group.Do(key, func() (any, error) {
		if !force {
			cached, err := s.store.GetAccountByHandle(ctx, handle)
			if err != nil {
				return nil, err
			}
			if cached != nil && s.fresh(cached.FetchedTs, store.TTLShort) {
				return cached, nil
			}
		}

		remote, err := s.fetcher.GetProfile(ctx, handle)
		if err != nil {
			return nil, err
		}
		return s.store.UpsertAccount(ctx, &store.Account{
			DID:            remote.DID,
			Handle:         remote.Handle,
			DisplayName:    remote.DisplayName,
			FollowersCount: remote.FollowersCount,
			FollowingCount: remote.FollowingCount,
			PostsCount:     remote.PostsCount,
			FetchedTs:      s.now().Unix(),
		})
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Account), nil
}

// Followers returns the accounts following the handle.
func (s *Service) Followers(ctx context.Context, handle string, force bool) ([]store.ConnectionRecord, error) {
	return s.connections(ctx, handle, store.ConnectionFollowers, force)
}

// Following returns the accounts the handle follows.
func (s *Service) Following(ctx context.Context, handle string, force bool) ([]store.ConnectionRecord, error) {
	return s.connections(ctx, handle, store.ConnectionFollowing, force)
}

// FollowingOf is the non-forcing following accessor used by mutual
// verification and deep scans.
func (s *Service) FollowingOf(ctx context.Context, handle string) ([]store.ConnectionRecord, error) {
	return s.Following(ctx, handle, false)
}

func (s *Service) connections(ctx context.Context, handle string, kind store.ConnectionKind, force bool) ([]store.ConnectionRecord, error) {
	owner, err := s.Profile(ctx, handle, force)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("connections:%s:%s:%t", owner.DID, kind, force)
	v, err, _ := s.group.Do(key, func() (any, error) {
		if !force {
			cached, err := s.store.GetConnectionSet(ctx, owner.DID, kind)
			if err != nil {
				return nil, err
			}
			if cached != nil && s.fresh(cached.FetchedTs, store.TTLShort) {
				return cached.Records()
			}
		}

		var accounts []skynet.Account
		var fetchErr error
		if kind == store.ConnectionFollowers {
			accounts, fetchErr = s.fetcher.ListAllFollowers(ctx, handle)
		} else {
			accounts, fetchErr = s.fetcher.ListAllFollowing(ctx, handle)
		}
		if fetchErr != nil {
			return nil, fetchErr
		}

		records := toRecords(accounts)
		if _, err := s.store.UpsertConnectionSet(ctx, owner.DID, kind, records, s.now().Unix()); err != nil {
			return nil, err
		}
		s.logger.Debug("connections fetched",
			slog.String("handle", handle),
			slog.String("kind", string(kind)),
			slog.Int("count", len(records)),
		)
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.ConnectionRecord), nil
}

func (s *Service) fresh(fetchedTs int64, bucket store.TTLBucket) bool {
	if fetchedTs == 0 {
		return false
	}
	age := s.now().Unix() - fetchedTs
	return age < int64(bucket.Duration().Seconds())
}

func toRecords(accounts []skynet.Account) []store.ConnectionRecord {
	records := make([]store.ConnectionRecord, 0, len(accounts))
	for _, account := range accounts {
		records = append(records, store.ConnectionRecord{
			DID:            account.DID,
			Handle:         account.Handle,
			DisplayName:    account.DisplayName,
			FollowersCount: account.FollowersCount,
			FollowingCount: account.FollowingCount,
			PostsCount:     account.PostsCount,
		})
	}
	return records
}
