package metadata

import (
	"github.com/sloonz/shelvery/lib"

	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Serialized form of a backup record
type Document struct {
	Name          string            `yaml:"name"`
	Kind          string            `yaml:"kind"`
	BackupID      string            `yaml:"backup_id,omitempty"`
	EntityID      string            `yaml:"entity_id,omitempty"`
	Region        string            `yaml:"region"`
	AccountID     string            `yaml:"account_id,omitempty"`
	RetentionType string            `yaml:"retention_type,omitempty"`
	TagPrefix     string            `yaml:"tag_prefix"`
	DateCreated   time.Time         `yaml:"date_created"`
	DateDeleted   *time.Time        `yaml:"date_deleted,omitempty"`
	Tags          map[string]string `yaml:"tags,omitempty"`

	// Set on documents of the failed namespace
	Error string `yaml:"error,omitempty"`
}

func NewDocument(kind shelvery.ResourceKind, r *shelvery.BackupRecord) *Document {
	return &Document{
		Name:          r.Name,
		Kind:          string(kind),
		BackupID:      r.BackupID,
		EntityID:      r.EntityID,
		Region:        r.Region,
		AccountID:     r.AccountID,
		RetentionType: string(r.RetentionType),
		TagPrefix:     r.TagPrefix,
		DateCreated:   r.DateCreated.UTC(),
		DateDeleted:   r.DateDeleted,
		Tags:          r.Tags,
	}
}

func (d *Document) Record() *shelvery.BackupRecord {
	r := &shelvery.BackupRecord{
		BackupID:      d.BackupID,
		EntityID:      d.EntityID,
		Name:          d.Name,
		DateCreated:   d.DateCreated,
		DateDeleted:   d.DateDeleted,
		RetentionType: shelvery.RetentionType(d.RetentionType),
		Region:        d.Region,
		AccountID:     d.AccountID,
		TagPrefix:     d.TagPrefix,
		Tags:          d.Tags,
	}
	return r.Clone()
}

func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func UnmarshalDocument(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid metadata document: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("invalid metadata document: missing name")
	}
	return &d, nil
}
