package shelvery

import (
	"errors"
	"fmt"
	"time"
)

var (
	// The resource is temporarily in a state where it cannot be backed up
	ErrResourceBusy = errors.New("resource is in an invalid state for backup")

	// The snapshot exists but the provider does not accept sharing it yet
	ErrNotShareable = errors.New("snapshot is not in a shareable state yet")

	ErrNotFound         = errors.New("not found")
	ErrUnsupportedKind  = errors.New("unsupported resource kind")
	ErrInvalidRetention = errors.New("invalid retention type")
	ErrMaxIterations    = errors.New("maximum number of wait iterations exceeded")
	ErrMissingTag       = errors.New("missing shelvery tag")
)

type UnknownOperationError struct {
	Operation string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation: %q", e.Operation)
}

// A backup did not become available within the allowed time
type UnavailableError struct {
	Region   string
	BackupID string
	Waited   time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backup %s in %s did not become available after %v", e.BackupID, e.Region, e.Waited)
}
