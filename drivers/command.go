package drivers

import (
	"github.com/sloonz/shelvery/lib"

	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/gobuffalo/flect"
	"github.com/sirupsen/logrus"
)

// Exit codes of driver programs
const (
	ExitBusy         = 75
	ExitNotShareable = 76
)

var (
	ErrCommandMissing = errors.New("command driver: missing driver_command")
	commandLog        = logrus.WithFields(logrus.Fields{
		"driver": "command",
	})
)

// Wire form of an entity
type commandEntity struct {
	ID          string            `json:"id"`
	Region      string            `json:"region,omitempty"`
	DateCreated time.Time         `json:"date_created,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Wire form of a backup. Tags are authoritative: records are rebuilt from them.
type commandBackup struct {
	BackupID string            `json:"backup_id"`
	EntityID string            `json:"entity_id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Region   string            `json:"region,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

type commandAvailability struct {
	Available bool `json:"available"`
}

// Delegates every operation to an external program, run as
// `{command} driver <operation> [args...]`, records on stdin and JSON on stdout
type commandDriver struct {
	kind      shelvery.ResourceKind
	command   []string
	env       []string
	tagPrefix string
}

func newCommandDriver(kind shelvery.ResourceKind, command []string, cfg *shelvery.Config) (*commandDriver, error) {
	if len(command) == 0 {
		return nil, ErrCommandMissing
	}

	env := os.Environ()
	env = append(env, "SHELVERY_KIND="+string(kind))
	for k, v := range cfg.Payload() {
		env = append(env, fmt.Sprintf("SHELVERY_OPT_%s=%s", flect.New(k).Underscore().ToUpper().String(), v))
	}

	return &commandDriver{kind: kind, command: command, env: env, tagPrefix: cfg.TagPrefix()}, nil
}

func (d *commandDriver) run(ctx context.Context, input interface{}, output interface{}, args ...string) error {
	cmd := shelvery.BuildCommandContext(ctx, d.command, append([]string{"driver"}, args...)...)
	cmd.Env = d.env
	cmd.Stderr = os.Stderr

	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return err
		}
		cmd.Stdin = bytes.NewReader(data)
	}

	stdout := bytes.NewBuffer(nil)
	cmd.Stdout = stdout

	commandLog.WithFields(logrus.Fields{"args": args}).Debug("running driver")
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case ExitBusy:
				return fmt.Errorf("driver %s: %w", args[0], shelvery.ErrResourceBusy)
			case ExitNotShareable:
				return fmt.Errorf("driver %s: %w", args[0], shelvery.ErrNotShareable)
			}
		}
		return fmt.Errorf("driver %s: %w", args[0], err)
	}

	if output != nil {
		if err := json.Unmarshal(stdout.Bytes(), output); err != nil {
			return fmt.Errorf("driver %s: invalid output: %w", args[0], err)
		}
	}
	return nil
}

func wireBackup(r *shelvery.BackupRecord) *commandBackup {
	return &commandBackup{BackupID: r.BackupID, EntityID: r.EntityID, Name: r.Name, Region: r.Region, Tags: r.Tags}
}

func (d *commandDriver) record(b commandBackup, region string) (*shelvery.BackupRecord, error) {
	r, err := shelvery.RecordFromTags(d.tagPrefix, b.BackupID, b.Tags)
	if err != nil {
		return nil, err
	}
	if r.Region == "" {
		r.Region = region
	}
	return r, nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) Kind() shelvery.ResourceKind {
	return d.kind
}

// Part of shelvery.Driver interface
func (d *commandDriver) EntitiesTagged(ctx context.Context, tagName string) ([]shelvery.EntityResource, error) {
	var wire []commandEntity
	if err := d.run(ctx, nil, &wire, "entities", tagName); err != nil {
		return nil, err
	}

	entities := make([]shelvery.EntityResource, 0, len(wire))
	for _, e := range wire {
		entities = append(entities, shelvery.EntityResource{ID: e.ID, Region: e.Region, DateCreated: e.DateCreated, Tags: e.Tags})
	}
	return entities, nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) Backup(ctx context.Context, r *shelvery.BackupRecord) (*shelvery.BackupRecord, error) {
	var out commandBackup
	if err := d.run(ctx, wireBackup(r), &out, "backup"); err != nil {
		return nil, err
	}
	if out.BackupID == "" {
		return nil, fmt.Errorf("driver backup: no backup id returned for %s", r.EntityID)
	}
	return r.WithBackupID(out.BackupID), nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) Tag(ctx context.Context, r *shelvery.BackupRecord) error {
	return d.run(ctx, wireBackup(r), nil, "tag")
}

// Part of shelvery.Driver interface
func (d *commandDriver) Delete(ctx context.Context, r *shelvery.BackupRecord) error {
	return d.run(ctx, wireBackup(r), nil, "delete")
}

// Part of shelvery.Driver interface
func (d *commandDriver) ExistingBackups(ctx context.Context, tagPrefix string) ([]*shelvery.BackupRecord, error) {
	var wire []commandBackup
	if err := d.run(ctx, nil, &wire, "list", tagPrefix); err != nil {
		return nil, err
	}

	backups := make([]*shelvery.BackupRecord, 0, len(wire))
	for _, b := range wire {
		r, err := shelvery.RecordFromTags(tagPrefix, b.BackupID, b.Tags)
		if err != nil {
			commandLog.WithFields(logrus.Fields{"backup": b.BackupID}).Warnf("ignoring backup: %v", err)
			continue
		}
		backups = append(backups, r)
	}
	shelvery.SortRecords(backups)
	return backups, nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) IsAvailable(ctx context.Context, region, id string) (bool, error) {
	var out commandAvailability
	if err := d.run(ctx, nil, &out, "available", region, id); err != nil {
		return false, err
	}
	return out.Available, nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) CopyToRegion(ctx context.Context, r *shelvery.BackupRecord, region string) (string, error) {
	var out commandBackup
	if err := d.run(ctx, wireBackup(r), &out, "copy", region); err != nil {
		return "", err
	}
	return out.BackupID, nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) ShareWithAccount(ctx context.Context, region, id, account string) error {
	return d.run(ctx, nil, nil, "share", region, id, account)
}

// Part of shelvery.Driver interface
func (d *commandDriver) CopyShared(ctx context.Context, sourceAccount string, r *shelvery.BackupRecord) (string, error) {
	var out commandBackup
	if err := d.run(ctx, wireBackup(r), &out, "copy-shared", sourceAccount); err != nil {
		return "", err
	}
	return out.BackupID, nil
}

// Part of shelvery.Driver interface
func (d *commandDriver) GetBackup(ctx context.Context, region, id string) (*shelvery.BackupRecord, error) {
	var out commandBackup
	if err := d.run(ctx, nil, &out, "get", region, id); err != nil {
		return nil, err
	}
	if out.BackupID == "" {
		out.BackupID = id
	}
	return d.record(out, region)
}
