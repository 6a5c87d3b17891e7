package engine

import (
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/metadata"
	"github.com/sloonz/shelvery/metrics"

	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

func (e *Engine) selectEntity() string {
	return e.Config.String(shelvery.KeySelectEntity, nil)
}

// Create a backup of every entity tagged for backup, then fan out metadata
// persistence, regional copies and shares through the dispatcher. A failing
// entity is reported and does not stop the others.
func (e *Engine) CreateBackups(ctx context.Context) ([]*shelvery.BackupRecord, error) {
	op := shelvery.OpCreateBackups
	prefix := e.Config.TagPrefix()

	forced, hasForced, err := e.Config.CurrentRetentionType(nil)
	if err != nil {
		e.fail(ctx, op, nil, "invalid current retention type", err)
		return nil, err
	}

	entities, err := e.Driver.EntitiesTagged(ctx, shelvery.EntityTag(prefix))
	if err != nil {
		e.fail(ctx, op, nil, "cannot list entities", err)
		return nil, err
	}

	if sel := e.selectEntity(); sel != "" {
		var selected []shelvery.EntityResource
		for _, entity := range entities {
			if entity.ID == sel {
				selected = append(selected, entity)
			}
		}
		entities = selected
	}

	e.log(op).Infof("%d entities to back up", len(entities))

	var created []*shelvery.BackupRecord
	for _, entity := range entities {
		r, err := e.createBackup(ctx, prefix, entity, forced, hasForced)
		if err == nil && r != nil {
			created = append(created, r)
		}
	}

	for _, r := range created {
		shares := e.Config.AccountIDs(shelvery.KeyShareAccountIDs, r.ConfigTags())
		for _, region := range e.Config.List(shelvery.KeyDRRegions, r.ConfigTags()) {
			if region == r.Region {
				continue
			}
			e.dispatch(ctx, shelvery.OpCopyBackup, shelvery.Arguments{BackupID: r.BackupID, Region: r.Region, TargetRegion: region, ShareAccountIDs: shares})
		}
	}

	for _, r := range created {
		for _, account := range e.Config.AccountIDs(shelvery.KeyShareAccountIDs, r.ConfigTags()) {
			e.dispatch(ctx, shelvery.OpShareBackup, shelvery.Arguments{BackupID: r.BackupID, Region: r.Region, AccountID: account})
		}
	}

	return created, nil
}

// Returns a nil record when the entity has been skipped
func (e *Engine) createBackup(ctx context.Context, prefix string, entity shelvery.EntityResource, forced shelvery.RetentionType, hasForced bool) (*shelvery.BackupRecord, error) {
	op := shelvery.OpCreateBackups
	if entity.Region == "" {
		entity.Region = e.Region
	}

	r := shelvery.NewBackupRecord(prefix, entity, shelvery.RecordOptions{
		AccountID:        e.AccountID,
		CopyResourceTags: e.Config.Bool(shelvery.KeyCopyResourceTags, entity.Tags),
		ExcludedTagKeys:  e.Config.List(shelvery.KeyExcludedResourceTags, entity.Tags),
		Now:              e.now(),
	})
	if hasForced {
		r = r.WithRetentionType(forced)
	}
	r = r.WithDRRegions(e.Config.List(shelvery.KeyDRRegions, entity.Tags))

	log := e.log(op).WithFields(logrus.Fields{"entity": entity.ID, "backup": r.Name})

	created, err := e.Driver.Backup(ctx, r)
	if err != nil {
		if errors.Is(err, shelvery.ErrResourceBusy) && e.Config.Bool(shelvery.KeyIgnoreInvalidState, entity.Tags) {
			log.Warnf("skipping: %v", err)
			return nil, nil
		}
		e.fail(ctx, op, r, fmt.Sprintf("cannot back up %s", entity.ID), err)
		return nil, err
	}

	if err = e.Driver.Tag(ctx, created); err != nil {
		e.fail(ctx, op, created, fmt.Sprintf("cannot tag backup of %s", entity.ID), err)
		return nil, err
	}

	metrics.BackupsCreated.WithLabelValues(string(e.Kind()), string(op)).Inc()
	e.succeed(ctx, op, created, fmt.Sprintf("created backup %s of %s", created.Name, entity.ID))
	e.dispatch(ctx, shelvery.OpStoreBackupData, shelvery.Arguments{BackupID: created.BackupID, Region: created.Region})
	return created, nil
}

// Delete every backup past its retention, archiving its metadata
func (e *Engine) CleanBackups(ctx context.Context) ([]*shelvery.BackupRecord, error) {
	op := shelvery.OpCleanBackups
	backups, err := e.Driver.ExistingBackups(ctx, e.Config.TagPrefix())
	if err != nil {
		e.fail(ctx, op, nil, "cannot list backups", err)
		return nil, err
	}

	if sel := e.selectEntity(); sel != "" {
		backups = shelvery.FilterByEntity(backups, sel)
	}

	now := e.now()
	var deleted []*shelvery.BackupRecord
	for _, r := range backups {
		log := e.log(op).WithFields(logrus.Fields{"backup": r.Name, "id": r.BackupID})
		policy := e.Config.RetentionPolicy(r.Tags)
		if !policy.IsStale(r, now) {
			log.Debugf("kept until %s", policy.ExpireDate(r, now).Format(shelvery.EventTimeFormat))
			continue
		}

		if err := e.Driver.Delete(ctx, r); err != nil {
			e.fail(ctx, op, r, fmt.Sprintf("cannot delete backup %s", r.Name), err)
			continue
		}
		metrics.BackupsDeleted.WithLabelValues(string(e.Kind())).Inc()

		r = r.Deleted(now)
		deleted = append(deleted, r)

		store, err := e.openStore(ctx, e.AccountID, e.regionOf(r))
		if err == nil {
			err = store.Archive(ctx, r)
		}
		if err != nil {
			e.fail(ctx, op, r, fmt.Sprintf("deleted backup %s but cannot archive its metadata", r.Name), err)
			continue
		}

		e.succeed(ctx, op, r, fmt.Sprintf("deleted stale backup %s", r.Name))
	}

	return deleted, nil
}

// Copy into the local account every backup other accounts shared with it
func (e *Engine) PullSharedBackups(ctx context.Context) ([]*shelvery.BackupRecord, error) {
	op := shelvery.OpPullSharedBackups
	var pulled []*shelvery.BackupRecord

	for _, source := range e.Config.AccountIDs(shelvery.KeySourceAccountIDs, nil) {
		log := e.log(op).WithFields(logrus.Fields{"source": source})

		store, err := e.openStore(ctx, source, e.Region)
		if err != nil {
			e.fail(ctx, op, nil, fmt.Sprintf("cannot open metadata of account %s", source), err)
			continue
		}

		keys, err := store.List(ctx, metadata.SharedWith(e.AccountID, e.Kind()))
		if err != nil {
			e.fail(ctx, op, nil, fmt.Sprintf("cannot list backups shared by %s", source), err)
			continue
		}

		log.Infof("%d shared backups to pull", len(keys))
		for _, key := range keys {
			if r := e.pullOne(ctx, source, store, key); r != nil {
				pulled = append(pulled, r)
			}
		}
	}

	return pulled, nil
}

func (e *Engine) pullOne(ctx context.Context, source string, store *metadata.Store, key string) *shelvery.BackupRecord {
	op := shelvery.OpPullSharedBackups
	log := e.log(op).WithFields(logrus.Fields{"source": source, "key": key})

	src, err := store.Get(ctx, key)
	if err != nil {
		e.fail(ctx, op, nil, fmt.Sprintf("cannot read shared metadata %s", key), err)
		return nil
	}
	if src.AccountID == "" {
		src.AccountID = source
	}
	if src.Region == "" {
		src.Region = e.Region
	}

	var r *shelvery.BackupRecord
	id, err := e.Driver.CopyShared(ctx, source, src)
	if err == nil {
		r = src.CrossAccountCopy(src.Region, e.AccountID).WithBackupID(id)
		err = e.Driver.Tag(ctx, r)
	}
	if err != nil {
		e.fail(ctx, op, src, fmt.Sprintf("cannot pull %s shared by %s", src.Name, source), err)
		e.markFailed(ctx, store, src, key, err)
		return nil
	}

	metrics.BackupsCreated.WithLabelValues(string(e.Kind()), string(op)).Inc()

	local, err := e.openStore(ctx, e.AccountID, r.Region)
	if err == nil {
		err = local.Put(ctx, r, metadata.Active(e.Kind()))
	}
	if err != nil {
		e.fail(ctx, op, r, fmt.Sprintf("pulled %s but cannot write its metadata", r.Name), err)
		e.markFailed(ctx, store, src, key, err)
		return nil
	}

	err = store.Put(ctx, src, metadata.Processed(e.AccountID, e.Kind()))
	if err == nil {
		err = store.Remove(ctx, key)
	}
	if err != nil {
		log.Warnf("cannot mark handoff as processed: %v", err)
	}

	e.succeed(ctx, op, r, fmt.Sprintf("pulled %s shared by %s", r.Name, source))
	return r
}

// Move a handoff document to the failed namespace; it is not retried
func (e *Engine) markFailed(ctx context.Context, store *metadata.Store, src *shelvery.BackupRecord, key string, cause error) {
	log := e.log(shelvery.OpPullSharedBackups).WithFields(logrus.Fields{"key": key})
	if err := store.PutFailed(ctx, src, metadata.Failed(e.AccountID, e.Kind()), cause); err != nil {
		log.Warnf("cannot mark as failed: %v", err)
	} else if err = store.Remove(ctx, key); err != nil {
		log.Warnf("cannot remove handoff: %v", err)
	}
}

// Persist the metadata of a new backup once it is available.
// Returns false when the operation has been continued later.
func (e *Engine) DoStoreBackupData(ctx context.Context, c shelvery.Continuation) (bool, error) {
	op := shelvery.OpStoreBackupData
	args := c.Arguments
	target := &shelvery.BackupRecord{BackupID: args.BackupID, Region: args.Region}

	ok, err := e.awaitAvailability(ctx, c)
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot wait for %s", args.BackupID), err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	r, err := e.Driver.GetBackup(ctx, args.Region, args.BackupID)
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot read backup %s", args.BackupID), err)
		return false, err
	}

	store, err := e.openStore(ctx, e.AccountID, e.regionOf(r))
	if err == nil {
		err = store.Put(ctx, r, metadata.Active(e.Kind()))
	}
	if err != nil {
		e.fail(ctx, op, r, fmt.Sprintf("cannot write metadata of %s", r.Name), err)
		return false, err
	}

	e.succeed(ctx, op, r, fmt.Sprintf("stored metadata of %s", r.Name))
	return true, nil
}

// Copy an available backup to another region, at most once per region
func (e *Engine) DoCopyBackup(ctx context.Context, c shelvery.Continuation) (bool, error) {
	op := shelvery.OpCopyBackup
	args := c.Arguments
	target := &shelvery.BackupRecord{BackupID: args.BackupID, Region: args.Region}
	log := e.log(op).WithFields(logrus.Fields{"backup": args.BackupID, "region": args.Region, "target": args.TargetRegion})

	ok, err := e.awaitAvailability(ctx, c)
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot wait for %s", args.BackupID), err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	orig, err := e.Driver.GetBackup(ctx, args.Region, args.BackupID)
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot read backup %s", args.BackupID), err)
		return false, err
	}

	if id, done := orig.DRCopies()[args.TargetRegion]; done {
		log.Infof("already copied as %s", id)
		return true, nil
	}

	id, err := e.Driver.CopyToRegion(ctx, orig, args.TargetRegion)
	if err != nil {
		e.fail(ctx, op, orig, fmt.Sprintf("cannot copy %s to %s", orig.Name, args.TargetRegion), err)
		return false, err
	}
	metrics.BackupsCreated.WithLabelValues(string(e.Kind()), string(op)).Inc()

	cp := orig.CrossAccountCopy(args.TargetRegion, e.AccountID).WithBackupID(id)
	if err = e.Driver.Tag(ctx, cp); err != nil {
		e.fail(ctx, op, cp, fmt.Sprintf("cannot tag copy of %s in %s", orig.Name, args.TargetRegion), err)
		return false, err
	}

	if err = e.Driver.Tag(ctx, orig.WithDRCopy(args.TargetRegion, id)); err != nil {
		log.Warnf("cannot record copy on original: %v", err)
	}

	store, err := e.openStore(ctx, e.AccountID, args.TargetRegion)
	if err == nil {
		err = store.Put(ctx, cp, metadata.Active(e.Kind()))
	}
	if err != nil {
		e.fail(ctx, op, cp, fmt.Sprintf("cannot write metadata of copy of %s", orig.Name), err)
		return false, err
	}

	e.succeed(ctx, op, cp, fmt.Sprintf("copied %s to %s as %s", orig.Name, args.TargetRegion, id))

	// Continuations written by hand carry no share list
	shares := args.ShareAccountIDs
	if shares == nil {
		shares = e.Config.AccountIDs(shelvery.KeyShareAccountIDs, orig.ConfigTags())
	}
	for _, account := range shares {
		e.dispatch(ctx, shelvery.OpShareBackup, shelvery.Arguments{BackupID: id, Region: args.TargetRegion, AccountID: account})
	}

	return true, nil
}

// Grant an account access to an available backup, and hand its metadata over
func (e *Engine) DoShareBackup(ctx context.Context, c shelvery.Continuation) (bool, error) {
	op := shelvery.OpShareBackup
	args := c.Arguments
	target := &shelvery.BackupRecord{BackupID: args.BackupID, Region: args.Region}

	ok, err := e.awaitAvailability(ctx, c)
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot wait for %s", args.BackupID), err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	err = e.Driver.ShareWithAccount(ctx, args.Region, args.BackupID, args.AccountID)
	if errors.Is(err, shelvery.ErrNotShareable) {
		e.log(op).WithFields(logrus.Fields{"backup": args.BackupID}).Info("not shareable yet")
		err = e.continueLater(ctx, c)
		if err == nil {
			return false, nil
		}
	}
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot share %s with %s", args.BackupID, args.AccountID), err)
		return false, err
	}

	r, err := e.Driver.GetBackup(ctx, args.Region, args.BackupID)
	if err != nil {
		e.fail(ctx, op, target, fmt.Sprintf("cannot read backup %s", args.BackupID), err)
		return false, err
	}

	store, err := e.openStore(ctx, e.AccountID, args.Region)
	if err == nil {
		err = store.Put(ctx, r, metadata.SharedWith(args.AccountID, e.Kind()))
	}
	if err != nil {
		e.fail(ctx, op, r, fmt.Sprintf("cannot hand metadata of %s to %s", r.Name, args.AccountID), err)
		return false, err
	}

	e.succeed(ctx, op, r, fmt.Sprintf("shared %s with %s", r.Name, args.AccountID))
	return true, nil
}
