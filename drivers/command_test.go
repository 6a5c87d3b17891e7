package drivers

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const driverScript = `#!/bin/sh
[ "$1" = driver ] || exit 2
case "$2" in
entities)
	echo '[{"id": "'$SHELVERY_KIND'-'$SHELVERY_OPT_DR_REGIONS'", "region": "us-east-1", "tags": {"'$3'": "true"}}]'
	;;
backup)
	grep -q '"entity_id":"busy"' && exit 75
	echo '{"backup_id": "snap-1"}'
	;;
available)
	[ "$4" = snap-1 ] && echo '{"available": true}' || echo '{"available": false}'
	;;
share)
	exit 76
	;;
get)
	echo '{"tags": {"shelvery:name": "db-1-2024-03-05-1042-daily", "shelvery:date_created": "2024-03-05-1042"}}'
	;;
*)
	exit 1
	;;
esac
`

func newTestCommandDriver(t *testing.T) *commandDriver {
	path := filepath.Join(t.TempDir(), "driver")
	require.NoError(t, os.WriteFile(path, []byte(driverScript), 0755))

	resolver := &shelvery.Resolver{LookupEnv: func(string) (string, bool) { return "", false }, Defaults: shelvery.DefaultConfig}
	d, err := newCommandDriver(shelvery.KindRDS, []string{path}, resolver.Bind(map[string]string{"dr_regions": "us-west-2"}))
	require.NoError(t, err)
	return d
}

func TestCommandDriver(t *testing.T) {
	ctx := context.Background()
	d := newTestCommandDriver(t)
	assert.Equal(t, shelvery.KindRDS, d.Kind())

	entities, err := d.EntitiesTagged(ctx, "shelvery:create_backup")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "rds-us-west-2", entities[0].ID)
	assert.Equal(t, "true", entities[0].Tags["shelvery:create_backup"])

	r := shelvery.NewBackupRecord("shelvery", entities[0], shelvery.RecordOptions{})
	created, err := d.Backup(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", created.BackupID)
	assert.Equal(t, r.Name, created.Name)

	ok, err := d.IsAvailable(ctx, "us-east-1", "snap-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.IsAvailable(ctx, "us-east-1", "snap-2")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.GetBackup(ctx, "us-east-1", "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", got.BackupID)
	assert.Equal(t, "db-1-2024-03-05-1042-daily", got.Name)
	assert.Equal(t, "us-east-1", got.Region)
}

func TestCommandDriverExitCodes(t *testing.T) {
	ctx := context.Background()
	d := newTestCommandDriver(t)

	r := shelvery.NewBackupRecord("shelvery", shelvery.EntityResource{ID: "busy"}, shelvery.RecordOptions{})
	_, err := d.Backup(ctx, r)
	assert.ErrorIs(t, err, shelvery.ErrResourceBusy)

	err = d.ShareWithAccount(ctx, "us-east-1", "snap-1", "222222222222")
	assert.ErrorIs(t, err, shelvery.ErrNotShareable)

	err = d.Delete(ctx, r)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, shelvery.ErrResourceBusy)
}

func TestCommandDriverMissing(t *testing.T) {
	resolver := &shelvery.Resolver{LookupEnv: func(string) (string, bool) { return "", false }}
	_, err := newCommandDriver(shelvery.KindRDS, nil, resolver.Bind(nil))
	assert.ErrorIs(t, err, ErrCommandMissing)
}
