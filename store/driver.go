package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Account model related methods.
	UpsertAccount(ctx context.Context, upsert *Account) (*Account, error)
	ListAccounts(ctx context.Context, find *FindAccount) ([]*Account, error)
	DeleteExpiredAccounts(ctx context.Context, beforeTs int64) (int64, error)

	// ConnectionSet model related methods.
	UpsertConnectionSet(ctx context.Context, upsert *ConnectionSet) (*ConnectionSet, error)
	ListConnectionSets(ctx context.Context, find *FindConnectionSet) ([]*ConnectionSet, error)
	DeleteExpiredConnectionSets(ctx context.Context, beforeTs int64) (int64, error)

	// Analysis model related methods.
	UpsertAnalysis(ctx context.Context, upsert *Analysis) (*Analysis, error)
	ListAnalyses(ctx context.Context, find *FindAnalysis) ([]*Analysis, error)
	DeleteExpiredAnalyses(ctx context.Context, beforeTs int64) (int64, error)

	// Job model related methods.
	CreateJob(ctx context.Context, create *Job) (*Job, error)
	ListJobs(ctx context.Context, find *FindJob) ([]*Job, error)
	UpdateJob(ctx context.Context, update *UpdateJob) error
	ClaimJob(ctx context.Context, id int32, nowTs int64) (bool, error)
	ResetStuckJobs(ctx context.Context, beforeTs int64, nowTs int64) (int64, error)
}
