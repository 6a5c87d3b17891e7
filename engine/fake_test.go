package engine

import (
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/stores"

	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

const (
	localAccount  = "111111111111"
	remoteAccount = "222222222222"
)

// In-memory driver. Backups become available after `polls` availability checks.
type fakeDriver struct {
	mu sync.Mutex

	entities     []shelvery.EntityResource
	backups      map[string]*shelvery.BackupRecord
	polls        map[string]int
	availableAt  int
	busy         map[string]bool
	notShareable int
	failShared   bool
	seq          int

	copies  []string
	shares  []string
	deleted []string
}

func newFakeDriver(entities ...shelvery.EntityResource) *fakeDriver {
	return &fakeDriver{
		entities: entities,
		backups:  make(map[string]*shelvery.BackupRecord),
		polls:    make(map[string]int),
		busy:     make(map[string]bool),
	}
}

func (d *fakeDriver) Kind() shelvery.ResourceKind {
	return shelvery.KindEBS
}

func (d *fakeDriver) EntitiesTagged(ctx context.Context, tagName string) ([]shelvery.EntityResource, error) {
	var res []shelvery.EntityResource
	for _, e := range d.entities {
		if _, ok := e.Tags[tagName]; ok {
			res = append(res, e)
		}
	}
	return res, nil
}

func (d *fakeDriver) add(r *shelvery.BackupRecord) *shelvery.BackupRecord {
	d.seq++
	r = r.WithBackupID(fmt.Sprintf("snap-%d", d.seq))
	d.backups[r.BackupID] = r
	return r
}

func (d *fakeDriver) Backup(ctx context.Context, r *shelvery.BackupRecord) (*shelvery.BackupRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy[r.EntityID] {
		return nil, fmt.Errorf("volume %s: %w", r.EntityID, shelvery.ErrResourceBusy)
	}
	return d.add(r), nil
}

func (d *fakeDriver) Tag(ctx context.Context, r *shelvery.BackupRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backups[r.BackupID]
	if !ok {
		return shelvery.ErrNotFound
	}
	maps.Copy(b.Tags, r.Tags)
	return nil
}

func (d *fakeDriver) Delete(ctx context.Context, r *shelvery.BackupRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.backups, r.BackupID)
	d.deleted = append(d.deleted, r.BackupID)
	return nil
}

func (d *fakeDriver) ExistingBackups(ctx context.Context, prefix string) ([]*shelvery.BackupRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var res []*shelvery.BackupRecord
	for id, b := range d.backups {
		if b.Tags[shelvery.MarkerTag(prefix)] != "true" {
			continue
		}
		r, err := shelvery.RecordFromTags(prefix, id, b.Tags)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	shelvery.SortRecords(res)
	return res, nil
}

func (d *fakeDriver) IsAvailable(ctx context.Context, region, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls[id]++
	return d.polls[id] > d.availableAt, nil
}

func (d *fakeDriver) CopyToRegion(ctx context.Context, r *shelvery.BackupRecord, region string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := d.add(r.CrossAccountCopy(region, r.AccountID))
	d.copies = append(d.copies, region)
	return cp.BackupID, nil
}

func (d *fakeDriver) ShareWithAccount(ctx context.Context, region, id, account string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notShareable > 0 {
		d.notShareable--
		return shelvery.ErrNotShareable
	}
	d.shares = append(d.shares, id+":"+account)
	return nil
}

func (d *fakeDriver) CopyShared(ctx context.Context, source string, r *shelvery.BackupRecord) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failShared {
		return "", fmt.Errorf("snapshot %s: %w", r.BackupID, shelvery.ErrNotFound)
	}
	cp := d.add(r.CrossAccountCopy(r.Region, localAccount))
	return cp.BackupID, nil
}

func (d *fakeDriver) GetBackup(ctx context.Context, region, id string) (*shelvery.BackupRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backups[id]
	if !ok {
		return nil, shelvery.ErrNotFound
	}
	return shelvery.RecordFromTags(b.TagPrefix, id, b.Tags)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	mode shelvery.DispatchMode
	sent []shelvery.Continuation
}

func (d *recordingDispatcher) Mode() shelvery.DispatchMode {
	return d.mode
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, c shelvery.Continuation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, c)
	return nil
}

func (d *recordingDispatcher) operations() []shelvery.Operation {
	var ops []shelvery.Operation
	for _, c := range d.sent {
		ops = append(ops, c.Operation)
	}
	return ops
}

type recorder struct {
	mu     sync.Mutex
	events []shelvery.Event
}

func (r *recorder) Publish(ctx context.Context, e shelvery.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) errors() []shelvery.Event {
	var res []shelvery.Event
	for _, e := range r.events {
		if e.IsError() {
			res = append(res, e)
		}
	}
	return res
}

type testEngine struct {
	*Engine
	driver     *fakeDriver
	backend    *stores.Memory
	dispatcher *recordingDispatcher
	events     *recorder
	exits      []int
	slept      time.Duration
}

func newTestEngine(driver *fakeDriver, payload map[string]string) *testEngine {
	resolver := &shelvery.Resolver{LookupEnv: func(string) (string, bool) { return "", false }, Defaults: shelvery.DefaultConfig}
	te := &testEngine{
		driver:     driver,
		backend:    stores.NewMemory(),
		dispatcher: &recordingDispatcher{},
		events:     &recorder{},
	}
	te.Engine = New(driver, resolver.Bind(payload), te.backend, te.events, te.dispatcher)
	te.AccountID = localAccount
	te.Region = "us-east-1"
	te.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	te.Sleep = func(ctx context.Context, d time.Duration) error {
		te.slept += d
		return nil
	}
	te.Exit = func(code int) { te.exits = append(te.exits, code) }
	return te
}

func (te *testEngine) bucket(account, region string) *stores.MemoryStore {
	return te.backend.Bucket(fmt.Sprintf("shelvery.data.%s-%s.base2tools", account, region))
}

func tagged(id string, tags ...string) shelvery.EntityResource {
	e := shelvery.EntityResource{ID: id, Region: "us-east-1", Tags: map[string]string{"shelvery:create_backup": "true"}}
	for i := 0; i+1 < len(tags); i += 2 {
		e.Tags[tags[i]] = tags[i+1]
	}
	return e
}
