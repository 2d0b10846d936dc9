package store

import (
	"time"

	"github.com/hrygo/constellation/internal/profile"
	"github.com/hrygo/constellation/store/cache"
)

// TTLBucket is a named cache expiration policy applied to a class of data.
type TTLBucket string

const (
	// TTLShort covers profiles and connection lists.
	TTLShort TTLBucket = "short"
	// TTLMedium covers mutual sets and derived metrics.
	TTLMedium TTLBucket = "medium"
	// TTLLong covers full analyses.
	TTLLong TTLBucket = "long"
)

// Duration returns the freshness window of the bucket.
func (b TTLBucket) Duration() time.Duration {
	switch b {
	case TTLShort:
		return 24 * time.Hour
	case TTLMedium:
		return 7 * 24 * time.Hour
	case TTLLong:
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Caches
	accountCache    *cache.Cache // cache for accounts, keyed by handle
	connectionCache *cache.Cache // cache for connection sets, keyed by owner DID + kind
	analysisCache   *cache.Cache // cache for analyses, keyed by handle
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:          driver,
		profile:         profile,
		accountCache:    cache.New(cacheConfig),
		connectionCache: cache.New(cacheConfig),
		analysisCache:   cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.accountCache.Close()
	s.connectionCache.Close()
	s.analysisCache.Close()

	return s.driver.Close()
}
