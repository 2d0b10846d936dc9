package graph

import (
	"context"

	"github.com/hrygo/constellation/store"
)

// ResolveMutuals intersects a followers list with a following list by
// account DID. The result preserves the order of the following list,
// skips records without a DID, and deduplicates repeated DIDs. Runs in
// O(len(followers) + len(following)).
func ResolveMutuals(followers, following []store.ConnectionRecord) []store.ConnectionRecord {
	followerSet := make(map[string]struct{}, len(followers))
	for _, record := range followers {
		if record.DID == "" {
			continue
		}
		followerSet[record.DID] = struct{}{}
	}

	mutuals := make([]store.ConnectionRecord, 0)
	seen := make(map[string]struct{}, len(following))
	for _, record := range following {
		if record.DID == "" {
			continue
		}
		if _, ok := followerSet[record.DID]; !ok {
			continue
		}
		if _, ok := seen[record.DID]; ok {
			continue
		}
		seen[record.DID] = struct{}{}
		mutuals = append(mutuals, record)
	}
	return mutuals
}

// FollowingLister fetches the accounts a handle follows. Implemented by
// the source service; declared here so mutual verification does not
// depend on a concrete fetcher.
type FollowingLister interface {
	FollowingOf(ctx context.Context, handle string) ([]store.ConnectionRecord, error)
}

// VerifyMutual checks that two accounts follow each other by fetching
// both following lists. Used by the deep-scan pass to confirm
// second-degree mutual edges before adding them to the graph.
func VerifyMutual(ctx context.Context, lister FollowingLister, a, b store.ConnectionRecord) (bool, error) {
	if a.DID == "" || b.DID == "" || a.DID == b.DID {
		return false, nil
	}

	followingOfA, err := lister.FollowingOf(ctx, a.Handle)
	if err != nil {
		return false, err
	}
	if !containsDID(followingOfA, b.DID) {
		return false, nil
	}

	followingOfB, err := lister.FollowingOf(ctx, b.Handle)
	if err != nil {
		return false, err
	}
	return containsDID(followingOfB, a.DID), nil
}

func containsDID(records []store.ConnectionRecord, did string) bool {
	for _, record := range records {
		if record.DID == did {
			return true
		}
	}
	return false
}
