package shelvery

import (
	"context"
	"time"
)

// A resource eligible for backup (volume, database instance, ...), as reported by a driver.
// The engine never mutates it.
type EntityResource struct {
	ID          string
	Region      string
	DateCreated time.Time
	Tags        map[string]string
}

// A driver performs provider API calls for one resource kind
type Driver interface {
	Kind() ResourceKind

	// List entities carrying a tag named tagName
	EntitiesTagged(ctx context.Context, tagName string) ([]EntityResource, error)

	// Create the provider-side snapshot. Returns a record with BackupID set.
	Backup(ctx context.Context, record *BackupRecord) (*BackupRecord, error)

	// Write record.Tags onto the provider-side snapshot
	Tag(ctx context.Context, record *BackupRecord) error

	Delete(ctx context.Context, record *BackupRecord) error

	// List backups created by shelvery, identified by the {tagPrefix}:backup=true marker
	ExistingBackups(ctx context.Context, tagPrefix string) ([]*BackupRecord, error)

	IsAvailable(ctx context.Context, region, backupID string) (bool, error)

	// Copy a backup to another region of the same account, returns the id of the copy
	CopyToRegion(ctx context.Context, record *BackupRecord, region string) (string, error)

	ShareWithAccount(ctx context.Context, region, backupID, accountID string) error

	// Copy a backup shared by sourceAccount into the local account, returns the id of the copy
	CopyShared(ctx context.Context, sourceAccount string, record *BackupRecord) (string, error)

	GetBackup(ctx context.Context, region, backupID string) (*BackupRecord, error)
}

// Key/value blob storage used by the metadata store
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte) error

	// Returns ErrNotFound if the key does not exist
	GetObject(ctx context.Context, key string) ([]byte, error)

	RemoveObject(ctx context.Context, key string) error

	// List keys under prefix, following pagination until exhaustion
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Opens per-account/region buckets of a blob storage backend
type BlobBackend interface {
	// Open a bucket. If create is true, the bucket is created when missing and
	// the policy is applied to it.
	OpenBucket(ctx context.Context, name string, create bool, policy BucketPolicy) (BlobStore, error)
}

// Access granted on a bucket created by shelvery
type BucketPolicy struct {
	OwnerAccount   string
	SharedAccounts []string
	SharedPrefix   string
}

// Best-effort publication of lifecycle events. Implementations never fail.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

type DispatchMode int

const (
	// Dispatched operations run in goroutines of the current process
	DispatchWorker DispatchMode = iota

	// Dispatched operations run in a fresh execution of the compute unit
	DispatchInvoke

	// Dispatched operations are enqueued and consumed later
	DispatchQueue
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchWorker:
		return "worker"
	case DispatchInvoke:
		return "invoke"
	case DispatchQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// Fire-and-forget execution of a continuation
type Dispatcher interface {
	Dispatch(ctx context.Context, c Continuation) error
	Mode() DispatchMode
}

// Executes a continuation synchronously
type Runner interface {
	Run(ctx context.Context, c Continuation) error
}

type RunnerFunc func(ctx context.Context, c Continuation) error

// Part of Runner interface
func (f RunnerFunc) Run(ctx context.Context, c Continuation) error {
	return f(ctx, c)
}
