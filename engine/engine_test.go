package engine

import (
	"github.com/sloonz/shelvery/dispatch"
	"github.com/sloonz/shelvery/lib"
	"github.com/sloonz/shelvery/metadata"
	"github.com/sloonz/shelvery/stores"

	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBackups(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(newFakeDriver(tagged("vol-1"), shelvery.EntityResource{ID: "vol-untagged"}), map[string]string{
		"dr_regions":            "us-west-2",
		"share_aws_account_ids": remoteAccount,
	})

	created, err := te.CreateBackups(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)

	r := created[0]
	assert.Equal(t, "vol-1-2024-01-01-0000-yearly", r.Name)
	assert.Equal(t, shelvery.RetentionYearly, r.RetentionType)
	assert.Equal(t, "snap-1", r.BackupID)
	assert.Equal(t, "us-west-2", te.driver.backups["snap-1"].Tags["shelvery:dr_regions"])

	assert.Equal(t, []shelvery.Operation{shelvery.OpStoreBackupData, shelvery.OpCopyBackup, shelvery.OpShareBackup}, te.dispatcher.operations())
	copyArgs := te.dispatcher.sent[1].Arguments
	assert.Equal(t, shelvery.Arguments{BackupID: "snap-1", Region: "us-east-1", TargetRegion: "us-west-2", ShareAccountIDs: []string{remoteAccount}}, copyArgs)
	assert.Equal(t, remoteAccount, te.dispatcher.sent[2].Arguments.AccountID)
	assert.Equal(t, "us-west-2", te.dispatcher.sent[1].Config["dr_regions"])

	require.Len(t, te.events.events, 1)
	assert.Equal(t, shelvery.StatusOK, te.events.events[0].Status)
	assert.Equal(t, "2024-01-01 00:00:00 UTC", te.events.events[0].Timestamp)
}

func TestCreateBackupsSelectEntity(t *testing.T) {
	te := newTestEngine(newFakeDriver(tagged("vol-1"), tagged("vol-2")), map[string]string{"select_entity": "vol-2"})

	created, err := te.CreateBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "vol-2", created[0].EntityID)
}

func TestCreateBackupsPerResourceOverride(t *testing.T) {
	te := newTestEngine(newFakeDriver(tagged("vol-1", "shelvery:config:dr_regions", "eu-west-1"), tagged("vol-2")), nil)

	_, err := te.CreateBackups(context.Background())
	require.NoError(t, err)

	var copies []shelvery.Arguments
	for _, c := range te.dispatcher.sent {
		if c.Operation == shelvery.OpCopyBackup {
			copies = append(copies, c.Arguments)
		}
	}
	require.Len(t, copies, 1)
	assert.Equal(t, "eu-west-1", copies[0].TargetRegion)
}

func TestDoCopyBackupPerResourceShares(t *testing.T) {
	ctx := context.Background()
	const otherAccount = "333333333333"
	driver := newFakeDriver(tagged("vol-1", "shelvery:config:share_aws_account_ids", otherAccount))
	te := newTestEngine(driver, map[string]string{"dr_regions": "us-west-2"})

	_, err := te.CreateBackups(ctx)
	require.NoError(t, err)

	var c shelvery.Continuation
	var shares []shelvery.Arguments
	for _, sent := range te.dispatcher.sent {
		switch sent.Operation {
		case shelvery.OpCopyBackup:
			c = sent
		case shelvery.OpShareBackup:
			shares = append(shares, sent.Arguments)
		}
	}
	require.Len(t, shares, 1)
	assert.Equal(t, otherAccount, shares[0].AccountID)
	assert.Equal(t, []string{otherAccount}, c.Arguments.ShareAccountIDs)

	// Resource tags are not copied to the backup, the continuation carries the list
	te.dispatcher.sent = nil
	done, err := te.DoCopyBackup(ctx, c)
	require.NoError(t, err)
	assert.True(t, done)

	require.Equal(t, []shelvery.Operation{shelvery.OpShareBackup}, te.dispatcher.operations())
	share := te.dispatcher.sent[0].Arguments
	assert.Equal(t, otherAccount, share.AccountID)
	assert.Equal(t, "us-west-2", share.Region)
	assert.Equal(t, driver.backups[c.Arguments.BackupID].DRCopies()["us-west-2"], share.BackupID)
}

func TestDoCopyBackupSharesFromBackupTags(t *testing.T) {
	ctx := context.Background()
	const otherAccount = "333333333333"
	driver := newFakeDriver()
	te := newTestEngine(driver, map[string]string{"share_aws_account_ids": remoteAccount})

	entity := tagged("vol-1", "shelvery:config:share_aws_account_ids", otherAccount)
	r := driver.add(shelvery.NewBackupRecord("shelvery", entity, shelvery.RecordOptions{
		AccountID:        localAccount,
		CopyResourceTags: true,
		Now:              te.now(),
	}))

	c := shelvery.NewContinuation(shelvery.KindEBS, shelvery.OpCopyBackup, shelvery.Arguments{BackupID: r.BackupID, Region: "us-east-1", TargetRegion: "us-west-2"}, nil)
	done, err := te.DoCopyBackup(ctx, c)
	require.NoError(t, err)
	assert.True(t, done)

	require.Equal(t, []shelvery.Operation{shelvery.OpShareBackup}, te.dispatcher.operations())
	assert.Equal(t, otherAccount, te.dispatcher.sent[0].Arguments.AccountID)
}

func TestCreateBackupsBusyEntity(t *testing.T) {
	driver := newFakeDriver(tagged("vol-1"), tagged("vol-2"))
	driver.busy["vol-1"] = true

	te := newTestEngine(driver, nil)
	created, err := te.CreateBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "vol-2", created[0].EntityID)
	require.Len(t, te.events.errors(), 1)
	assert.Equal(t, "vol-1", te.events.errors()[0].EntityID)

	te = newTestEngine(driver, map[string]string{"ignore_invalid_resource_state": "true"})
	created, err = te.CreateBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Empty(t, te.events.errors())
}

func TestCreateBackupsForcedRetention(t *testing.T) {
	te := newTestEngine(newFakeDriver(tagged("vol-1")), map[string]string{
		"custom_retention_types": "shortLived:60",
		"current_retention_type": "shortLived",
	})
	created, err := te.CreateBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "vol-1-2024-01-01-0000-shortLived", created[0].Name)

	te = newTestEngine(newFakeDriver(tagged("vol-1")), map[string]string{"current_retention_type": "hourly"})
	_, err = te.CreateBackups(context.Background())
	assert.ErrorIs(t, err, shelvery.ErrInvalidRetention)
	assert.Empty(t, te.driver.backups)
}

func TestCleanBackups(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	te := newTestEngine(driver, map[string]string{"keep_daily_backups": "2"})
	now := time.Date(2024, 3, 5, 10, 42, 0, 0, time.UTC)
	te.Now = func() time.Time { return now }

	entity := shelvery.EntityResource{ID: "vol-1", Region: "us-east-1"}
	old := driver.add(shelvery.NewBackupRecord("shelvery", entity, shelvery.RecordOptions{AccountID: localAccount, Now: now.AddDate(0, 0, -3)}))
	recent := driver.add(shelvery.NewBackupRecord("shelvery", entity, shelvery.RecordOptions{AccountID: localAccount, Now: now.AddDate(0, 0, -1)}))
	require.Equal(t, shelvery.RetentionDaily, old.RetentionType)

	store := metadata.NewStore(te.bucket(localAccount, "us-east-1"), "backups", shelvery.KindEBS)
	require.NoError(t, store.Put(ctx, old, metadata.Active(shelvery.KindEBS)))

	deleted, err := te.CleanBackups(ctx)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, old.BackupID, deleted[0].BackupID)
	assert.Equal(t, []string{old.BackupID}, driver.deleted)
	assert.Contains(t, driver.backups, recent.BackupID)

	keys, err := te.bucket(localAccount, "us-east-1").ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/removed/ebs/" + old.Name + ".yaml"}, keys)

	archived, err := store.Get(ctx, keys[0])
	require.NoError(t, err)
	require.NotNil(t, archived.DateDeleted)
	assert.True(t, now.Equal(*archived.DateDeleted))
}

func TestCleanBackupsMissingRetention(t *testing.T) {
	driver := newFakeDriver()
	te := newTestEngine(driver, nil)

	r := driver.add(shelvery.NewBackupRecord("shelvery", shelvery.EntityResource{ID: "vol-1"}, shelvery.RecordOptions{Now: time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)}))
	delete(driver.backups[r.BackupID].Tags, "shelvery:retention_type")

	deleted, err := te.CleanBackups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestDoStoreBackupData(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver(tagged("vol-1"))
	driver.availableAt = 2
	te := newTestEngine(driver, nil)

	created, err := te.CreateBackups(ctx)
	require.NoError(t, err)

	done, err := te.DoStoreBackupData(ctx, te.dispatcher.sent[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2*DefaultPollInterval, te.slept)

	store := metadata.NewStore(te.bucket(localAccount, "us-east-1"), "backups", shelvery.KindEBS)
	r, err := store.Get(ctx, store.Key(metadata.Active(shelvery.KindEBS), created[0].Name))
	require.NoError(t, err)
	assert.Equal(t, created[0].BackupID, r.BackupID)
	assert.Equal(t, localAccount, r.AccountID)
}

func TestWaitTimeoutLongLived(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	driver.availableAt = 1000
	te := newTestEngine(driver, map[string]string{"wait_snapshot_timeout": "60"})

	c := shelvery.NewContinuation(shelvery.KindEBS, shelvery.OpStoreBackupData, shelvery.Arguments{BackupID: "snap-9", Region: "us-east-1"}, nil)
	done, err := te.DoStoreBackupData(ctx, c)
	assert.False(t, done)

	var unavailable *shelvery.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "snap-9", unavailable.BackupID)
	assert.Equal(t, 60*time.Second, unavailable.Waited)
	assert.Equal(t, []int{ExitWaitTimeout}, te.exits)
	assert.Equal(t, 5, driver.polls["snap-9"])

	keys, err := te.bucket(localAccount, "us-east-1").ListObjects(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	require.Len(t, te.events.errors(), 1)
}

func TestWaitSelfContinuation(t *testing.T) {
	driver := newFakeDriver()
	driver.availableAt = 1000
	te := newTestEngine(driver, map[string]string{"lambda_max_wait_iterations": "2"})
	te.dispatcher.mode = shelvery.DispatchInvoke
	te.Now = time.Now

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()

	c := shelvery.NewContinuation(shelvery.KindEBS, shelvery.OpCopyBackup, shelvery.Arguments{BackupID: "snap-9", Region: "us-east-1", TargetRegion: "us-west-2"}, nil)
	done, err := te.DoCopyBackup(ctx, c)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, te.exits)
	assert.Equal(t, 15*time.Second, te.slept)

	require.Len(t, te.dispatcher.sent, 1)
	next := te.dispatcher.sent[0]
	assert.Equal(t, shelvery.OpCopyBackup, next.Operation)
	assert.Equal(t, 1, next.Arguments.Iteration)
	assert.Equal(t, "us-west-2", next.Arguments.TargetRegion)
	assert.True(t, next.StartedInternally)
	assert.NotEqual(t, c.ID, next.ID)

	last := next.Next()
	done, err = te.DoCopyBackup(ctx, last)
	assert.False(t, done)
	assert.ErrorIs(t, err, shelvery.ErrMaxIterations)
	assert.Len(t, te.dispatcher.sent, 1)
	assert.Empty(t, driver.copies)
}

func TestDoCopyBackupIdempotent(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver(tagged("vol-1"))
	te := newTestEngine(driver, map[string]string{"dr_regions": "us-west-2", "share_aws_account_ids": remoteAccount})

	created, err := te.CreateBackups(ctx)
	require.NoError(t, err)
	c := te.dispatcher.sent[1]
	require.Equal(t, shelvery.OpCopyBackup, c.Operation)

	done, err := te.DoCopyBackup(ctx, c)
	require.NoError(t, err)
	assert.True(t, done)
	done, err = te.DoCopyBackup(ctx, c)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{"us-west-2"}, driver.copies)

	orig := driver.backups[created[0].BackupID]
	copyID := orig.DRCopies()["us-west-2"]
	require.NotEmpty(t, copyID)
	cp := driver.backups[copyID]
	assert.Equal(t, "us-west-2", cp.Tags["shelvery:region"])
	assert.Equal(t, localAccount+":us-east-1:"+created[0].BackupID, cp.Tags["shelvery:source_backup"])

	store := metadata.NewStore(te.bucket(localAccount, "us-west-2"), "backups", shelvery.KindEBS)
	r, err := store.Get(ctx, store.Key(metadata.Active(shelvery.KindEBS), created[0].Name))
	require.NoError(t, err)
	assert.Equal(t, copyID, r.BackupID)
	assert.Equal(t, "us-west-2", r.Region)

	last := te.dispatcher.sent[len(te.dispatcher.sent)-1]
	assert.Equal(t, shelvery.OpShareBackup, last.Operation)
	assert.Equal(t, shelvery.Arguments{BackupID: copyID, Region: "us-west-2", AccountID: remoteAccount}, last.Arguments)
}

func TestDoShareBackup(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver(tagged("vol-1"))
	driver.notShareable = 1
	te := newTestEngine(driver, map[string]string{"share_aws_account_ids": remoteAccount})

	created, err := te.CreateBackups(ctx)
	require.NoError(t, err)
	c := te.dispatcher.sent[1]
	require.Equal(t, shelvery.OpShareBackup, c.Operation)

	done, err := te.DoShareBackup(ctx, c)
	require.NoError(t, err)
	assert.False(t, done)
	retry := te.dispatcher.sent[len(te.dispatcher.sent)-1]
	assert.Equal(t, 1, retry.Arguments.Iteration)

	done, err = te.DoShareBackup(ctx, retry)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []string{created[0].BackupID + ":" + remoteAccount}, driver.shares)

	store := metadata.NewStore(te.bucket(localAccount, "us-east-1"), "backups", shelvery.KindEBS)
	keys, err := store.List(ctx, metadata.SharedWith(remoteAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/shared/" + remoteAccount + "/ebs/" + created[0].Name + ".yaml"}, keys)
}

func TestPullSharedBackups(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	te := newTestEngine(driver, map[string]string{"source_aws_account_ids": remoteAccount})

	shared := shelvery.NewBackupRecord("shelvery", shelvery.EntityResource{ID: "vol-9", Region: "us-east-1"}, shelvery.RecordOptions{
		AccountID: remoteAccount,
		Now:       time.Date(2023, 12, 31, 6, 0, 0, 0, time.UTC),
	}).WithBackupID("snap-remote")

	source := metadata.NewStore(te.bucket(remoteAccount, "us-east-1"), "backups", shelvery.KindEBS)
	require.NoError(t, source.Put(ctx, shared, metadata.SharedWith(localAccount, shelvery.KindEBS)))

	pulled, err := te.PullSharedBackups(ctx)
	require.NoError(t, err)
	require.Len(t, pulled, 1)

	r := pulled[0]
	assert.Equal(t, shared.Name, r.Name)
	assert.Equal(t, localAccount, r.AccountID)
	assert.Equal(t, remoteAccount+":us-east-1:snap-remote", driver.backups[r.BackupID].Tags["shelvery:source_backup"])
	assert.Equal(t, localAccount, driver.backups[r.BackupID].Tags["shelvery:dst_account"])

	local := metadata.NewStore(te.bucket(localAccount, "us-east-1"), "backups", shelvery.KindEBS)
	got, err := local.Get(ctx, local.Key(metadata.Active(shelvery.KindEBS), shared.Name))
	require.NoError(t, err)
	assert.Equal(t, r.BackupID, got.BackupID)

	remaining, err := source.List(ctx, metadata.SharedWith(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Empty(t, remaining)
	processed, err := source.List(ctx, metadata.Processed(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Len(t, processed, 1)

	// Remote buckets are never created
	assert.NotContains(t, te.backend.Policies, "shelvery.data."+remoteAccount+"-us-east-1.base2tools")
}

func TestPullSharedBackupsFailure(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	driver.failShared = true
	te := newTestEngine(driver, map[string]string{"source_aws_account_ids": remoteAccount})

	shared := shelvery.NewBackupRecord("shelvery", shelvery.EntityResource{ID: "vol-9", Region: "us-east-1"}, shelvery.RecordOptions{AccountID: remoteAccount}).WithBackupID("snap-remote")
	source := metadata.NewStore(te.bucket(remoteAccount, "us-east-1"), "backups", shelvery.KindEBS)
	require.NoError(t, source.Put(ctx, shared, metadata.SharedWith(localAccount, shelvery.KindEBS)))

	pulled, err := te.PullSharedBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, pulled)
	require.Len(t, te.events.errors(), 1)

	failed, err := source.List(ctx, metadata.Failed(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	doc, err := source.GetDocument(ctx, failed[0])
	require.NoError(t, err)
	assert.Contains(t, doc.Error, "not found")

	remaining, err := source.List(ctx, metadata.SharedWith(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

// Refuses to open one bucket
type deniedBackend struct {
	*stores.Memory
	bucket string
}

func (b deniedBackend) OpenBucket(ctx context.Context, name string, create bool, policy shelvery.BucketPolicy) (shelvery.BlobStore, error) {
	if name == b.bucket {
		return nil, errors.New("access denied")
	}
	return b.Memory.OpenBucket(ctx, name, create, policy)
}

func TestPullSharedBackupsMetadataFailure(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	te := newTestEngine(driver, map[string]string{"source_aws_account_ids": remoteAccount})
	te.Metadata = deniedBackend{Memory: te.backend, bucket: "shelvery.data." + localAccount + "-us-east-1.base2tools"}

	shared := shelvery.NewBackupRecord("shelvery", shelvery.EntityResource{ID: "vol-9", Region: "us-east-1"}, shelvery.RecordOptions{AccountID: remoteAccount}).WithBackupID("snap-remote")
	source := metadata.NewStore(te.bucket(remoteAccount, "us-east-1"), "backups", shelvery.KindEBS)
	require.NoError(t, source.Put(ctx, shared, metadata.SharedWith(localAccount, shelvery.KindEBS)))

	pulled, err := te.PullSharedBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, pulled)

	require.Len(t, te.events.events, 1)
	assert.Equal(t, shelvery.StatusError, te.events.events[0].Status)
	assert.Contains(t, te.events.events[0].ExceptionInfo, "access denied")

	failed, err := source.List(ctx, metadata.Failed(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	processed, err := source.List(ctx, metadata.Processed(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Empty(t, processed)
	remaining, err := source.List(ctx, metadata.SharedWith(localAccount, shelvery.KindEBS))
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

type fakeSQS struct {
	dispatch.SQSAPI
	sent []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestQueueOffload(t *testing.T) {
	driver := newFakeDriver()
	driver.availableAt = 1
	queue := &fakeSQS{}
	te := newTestEngine(driver, map[string]string{
		"sqs_queue_url":         "https://sqs.us-east-1.amazonaws.com/111111111111/shelvery",
		"sqs_queue_wait_period": "2000",
	})
	te.SQS = queue

	c := shelvery.NewContinuation(shelvery.KindEBS, shelvery.OpStoreBackupData, shelvery.Arguments{BackupID: "snap-1", Region: "us-east-1"}, nil)
	done, err := te.DoStoreBackupData(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Zero(t, te.slept)
	assert.Empty(t, te.dispatcher.sent)

	require.Len(t, queue.sent, 1)
	assert.Equal(t, int32(900), queue.sent[0].DelaySeconds)
	next, err := shelvery.ParseContinuation([]byte(*queue.sent[0].MessageBody))
	require.NoError(t, err)
	assert.Equal(t, 1, next.Arguments.Iteration)
	assert.True(t, next.StartedInternally)
}

func TestDoCopyBackupDuplicatedBeforeAvailable(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver(tagged("vol-1"))
	te := newTestEngine(driver, map[string]string{
		"dr_regions":    "us-west-2",
		"sqs_queue_url": "https://sqs.us-east-1.amazonaws.com/111111111111/shelvery",
	})

	_, err := te.CreateBackups(ctx)
	require.NoError(t, err)
	c := te.dispatcher.sent[1]
	require.Equal(t, shelvery.OpCopyBackup, c.Operation)

	queue := &fakeSQS{}
	te.SQS = queue
	driver.availableAt = 2

	// Delivered twice while the backup is still pending
	for i := 0; i < 2; i++ {
		done, err := te.DoCopyBackup(ctx, c)
		require.NoError(t, err)
		assert.False(t, done)
	}
	assert.Empty(t, driver.copies)
	require.Len(t, queue.sent, 2)

	for _, msg := range queue.sent {
		next, err := shelvery.ParseContinuation([]byte(*msg.MessageBody))
		require.NoError(t, err)
		assert.Equal(t, 1, next.Arguments.Iteration)

		done, err := te.DoCopyBackup(ctx, next)
		require.NoError(t, err)
		assert.True(t, done)
	}
	assert.Equal(t, []string{"us-west-2"}, driver.copies)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(newFakeDriver(tagged("vol-1")), nil)

	err := te.Run(ctx, shelvery.Continuation{Kind: shelvery.KindEBS, Operation: "do_nothing"})
	var unknown *shelvery.UnknownOperationError
	assert.ErrorAs(t, err, &unknown)

	err = te.Run(ctx, shelvery.Continuation{Kind: shelvery.KindRDS, Operation: shelvery.OpCreateBackups})
	assert.ErrorIs(t, err, shelvery.ErrUnsupportedKind)

	// The continuation payload is the configuration of the run
	c := shelvery.NewContinuation(shelvery.KindEBS, shelvery.OpCreateBackups, shelvery.Arguments{}, map[string]string{"dr_regions": "ap-southeast-2"})
	require.NoError(t, te.Run(ctx, c))
	assert.Equal(t, []shelvery.Operation{shelvery.OpStoreBackupData, shelvery.OpCopyBackup}, te.dispatcher.operations())
	assert.Equal(t, "ap-southeast-2", te.dispatcher.sent[1].Arguments.TargetRegion)
	assert.Empty(t, te.Config.List(shelvery.KeyDRRegions, nil))
}

func TestDispatchFailureReported(t *testing.T) {
	te := newTestEngine(newFakeDriver(tagged("vol-1")), nil)
	te.Dispatcher = failingDispatcher{}

	created, err := te.CreateBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, created, 1)
	require.Len(t, te.events.errors(), 1)
	assert.Equal(t, string(shelvery.OpStoreBackupData), te.events.errors()[0].Operation)
}

type failingDispatcher struct{}

func (failingDispatcher) Mode() shelvery.DispatchMode {
	return shelvery.DispatchWorker
}

func (failingDispatcher) Dispatch(ctx context.Context, c shelvery.Continuation) error {
	return errors.New("throttled")
}
