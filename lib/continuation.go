package shelvery

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type ResourceKind string

const (
	KindEBS        ResourceKind = "ebs"
	KindEC2AMI     ResourceKind = "ec2ami"
	KindRDS        ResourceKind = "rds"
	KindRDSCluster ResourceKind = "rds_cluster"
	KindDocDB      ResourceKind = "docdb"
	KindRedshift   ResourceKind = "redshift"
)

var resourceKinds = []ResourceKind{KindEBS, KindEC2AMI, KindRDS, KindRDSCluster, KindDocDB, KindRedshift}

func ParseResourceKind(s string) (ResourceKind, error) {
	for _, k := range resourceKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, s)
}

type Operation string

const (
	OpCreateBackups     Operation = "create_backups"
	OpCleanBackups      Operation = "clean_backups"
	OpPullSharedBackups Operation = "pull_shared_backups"
	OpCopyBackup        Operation = "do_copy_backup"
	OpShareBackup       Operation = "do_share_backup"
	OpStoreBackupData   Operation = "do_store_backup_data"
)

var operations = []Operation{OpCreateBackups, OpCleanBackups, OpPullSharedBackups, OpCopyBackup, OpShareBackup, OpStoreBackupData}

func ParseOperation(s string) (Operation, error) {
	for _, op := range operations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", &UnknownOperationError{Operation: s}
}

// Arguments of a continuation. Every continuation carries all it needs to resume.
type Arguments struct {
	BackupID     string `json:"BackupId,omitempty"`
	Region       string `json:"Region,omitempty"`
	TargetRegion string `json:"DestinationRegion,omitempty"`
	AccountID    string `json:"AwsAccountId,omitempty"`
	Iteration    int    `json:"lambda_wait_iteration,omitempty"`

	// Accounts the original backup is shared with, resolved at creation so
	// that regional copies get the same list
	ShareAccountIDs []string `json:"ShareAccountIds,omitempty"`
}

// A named operation with its arguments, handed to a dispatcher
type Continuation struct {
	ID                string            `json:"id,omitempty"`
	Kind              ResourceKind      `json:"backup_type"`
	Operation         Operation         `json:"action"`
	Arguments         Arguments         `json:"arguments"`
	Config            map[string]string `json:"config,omitempty"`
	StartedInternally bool              `json:"is_started_internally,omitempty"`
}

func NewContinuation(kind ResourceKind, op Operation, args Arguments, config map[string]string) Continuation {
	return Continuation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Operation: op,
		Arguments: args,
		Config:    config,
	}
}

// Same operation and arguments, with the iteration counter incremented
func (c Continuation) Next() Continuation {
	next := c
	next.ID = uuid.NewString()
	next.Arguments.Iteration++
	next.StartedInternally = true
	return next
}

func ParseContinuation(data []byte) (Continuation, error) {
	var c Continuation
	if err := json.Unmarshal(data, &c); err != nil {
		return Continuation{}, fmt.Errorf("cannot parse payload: %w", err)
	}

	if _, err := ParseResourceKind(string(c.Kind)); err != nil {
		return Continuation{}, err
	}

	if _, err := ParseOperation(string(c.Operation)); err != nil {
		return Continuation{}, err
	}

	return c, nil
}
