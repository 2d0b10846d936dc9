package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ConnectionKind is the direction of a stored connection list.
type ConnectionKind string

const (
	// ConnectionFollowers are accounts following the owner.
	ConnectionFollowers ConnectionKind = "followers"
	// ConnectionFollowing are accounts the owner follows.
	ConnectionFollowing ConnectionKind = "following"
)

// ConnectionRecord is a snapshot of the other account's profile at
// resolution time. Records are superseded wholesale on refresh, never merged.
type ConnectionRecord struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"displayName,omitempty"`
	FollowersCount int64  `json:"followersCount,omitempty"`
	FollowingCount int64  `json:"followingCount,omitempty"`
	PostsCount     int64  `json:"postsCount,omitempty"`
}

// ConnectionSet is one owner's follower or following list stored as a
// single document.
type ConnectionSet struct {
	ID        int32
	OwnerDID  string
	Kind      ConnectionKind
	Payload   string
	FetchedTs int64
}

// FindConnectionSet is the find condition for connection set.
type FindConnectionSet struct {
	OwnerDID *string
	Kind     *ConnectionKind
}

// Records decodes the payload document.
func (c *ConnectionSet) Records() ([]ConnectionRecord, error) {
	records := []ConnectionRecord{}
	if c.Payload == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(c.Payload), &records); err != nil {
		return nil, errors.Wrap(err, "failed to decode connection payload")
	}
	return records, nil
}

// UpsertConnectionSet overwrites the stored list for (owner, kind).
func (s *Store) UpsertConnectionSet(ctx context.Context, ownerDID string, kind ConnectionKind, records []ConnectionRecord, fetchedTs int64) (*ConnectionSet, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode connection payload")
	}
	set, err := s.driver.UpsertConnectionSet(ctx, &ConnectionSet{
		OwnerDID:  ownerDID,
		Kind:      kind,
		Payload:   string(payload),
		FetchedTs: fetchedTs,
	})
	if err != nil {
		return nil, err
	}
	s.connectionCache.Set(ctx, connectionCacheKey(ownerDID, kind), set)
	return set, nil
}

// GetConnectionSet returns the stored list for (owner, kind), or nil.
func (s *Store) GetConnectionSet(ctx context.Context, ownerDID string, kind ConnectionKind) (*ConnectionSet, error) {
	if v, ok := s.connectionCache.Get(ctx, connectionCacheKey(ownerDID, kind)); ok {
		if set, ok := v.(*ConnectionSet); ok {
			return set, nil
		}
	}

	list, err := s.driver.ListConnectionSets(ctx, &FindConnectionSet{OwnerDID: &ownerDID, Kind: &kind})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	set := list[0]
	s.connectionCache.Set(ctx, connectionCacheKey(ownerDID, kind), set)
	return set, nil
}

// DeleteExpiredConnectionSets removes lists fetched before the cutoff.
func (s *Store) DeleteExpiredConnectionSets(ctx context.Context, beforeTs int64) (int64, error) {
	return s.driver.DeleteExpiredConnectionSets(ctx, beforeTs)
}

func connectionCacheKey(ownerDID string, kind ConnectionKind) string {
	return fmt.Sprintf("connection:%s:%s", ownerDID, kind)
}
