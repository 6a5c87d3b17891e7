package drivers

import (
	"github.com/sloonz/shelvery/lib"

	"context"
	"errors"
	"fmt"
	"net/rpc"
	"strings"

	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"
)

var (
	ErrProxyCommandMissing = errors.New("proxy driver: missing driver_proxy_command")
	proxyLog               = logrus.WithFields(logrus.Fields{
		"driver": "proxy",
	})
)

// Every call carries the kind and configuration the remote end builds its driver from
type ProxyArgs struct {
	Kind   shelvery.ResourceKind
	Config map[string]string
}

type EntitiesArgs struct {
	ProxyArgs
	TagName string
}

type RecordArgs struct {
	ProxyArgs
	Record *shelvery.BackupRecord
	Region string
}

type BackupIDArgs struct {
	ProxyArgs
	Region    string
	BackupID  string
	AccountID string
}

type ListArgs struct {
	ProxyArgs
	TagPrefix string
}

type CopySharedArgs struct {
	ProxyArgs
	SourceAccount string
	Record        *shelvery.BackupRecord
}

// Forwards every call to a `shelvery proxy` process
type proxyDriver struct {
	kind   shelvery.ResourceKind
	config map[string]string
	dial   func() (*yamux.Session, *rpc.Client, error)
}

func newProxyDriver(kind shelvery.ResourceKind, command []string, cfg *shelvery.Config) (*proxyDriver, error) {
	if len(command) == 0 {
		return nil, ErrProxyCommandMissing
	}

	// The remote end must not proxy again
	config := cfg.Payload()
	delete(config, shelvery.KeyDriverProxyCommand)

	return &proxyDriver{
		kind:   kind,
		config: config,
		dial: func() (*yamux.Session, *rpc.Client, error) {
			return shelvery.OpenProxy(proxyLog, command)
		},
	}, nil
}

func (d *proxyDriver) args() ProxyArgs {
	return ProxyArgs{Kind: d.kind, Config: d.config}
}

func (d *proxyDriver) call(ctx context.Context, method string, args interface{}, reply interface{}) error {
	session, rpcClient, err := d.dial()
	if err != nil {
		return fmt.Errorf("failed to open proxy session: %w", err)
	}
	defer shelvery.CloseProxy(session, rpcClient) //nolint: errcheck

	call := rpcClient.Go("Driver."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return decodeProxyError(call.Error)
	}
}

// net/rpc only transmits error strings: map them back to sentinels
func decodeProxyError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{shelvery.ErrResourceBusy, shelvery.ErrNotShareable, shelvery.ErrNotFound} {
		if errors.Is(err, sentinel) || strings.HasSuffix(err.Error(), sentinel.Error()) {
			return fmt.Errorf("proxy: %s: %w", err.Error(), sentinel)
		}
	}
	return fmt.Errorf("proxy: %w", err)
}

// Part of shelvery.Driver interface
func (d *proxyDriver) Kind() shelvery.ResourceKind {
	return d.kind
}

// Part of shelvery.Driver interface
func (d *proxyDriver) EntitiesTagged(ctx context.Context, tagName string) ([]shelvery.EntityResource, error) {
	var reply []shelvery.EntityResource
	err := d.call(ctx, "EntitiesTagged", &EntitiesArgs{ProxyArgs: d.args(), TagName: tagName}, &reply)
	return reply, err
}

// Part of shelvery.Driver interface
func (d *proxyDriver) Backup(ctx context.Context, r *shelvery.BackupRecord) (*shelvery.BackupRecord, error) {
	var reply shelvery.BackupRecord
	if err := d.call(ctx, "Backup", &RecordArgs{ProxyArgs: d.args(), Record: r}, &reply); err != nil {
		return nil, err
	}
	return r.WithBackupID(reply.BackupID), nil
}

// Part of shelvery.Driver interface
func (d *proxyDriver) Tag(ctx context.Context, r *shelvery.BackupRecord) error {
	return d.call(ctx, "Tag", &RecordArgs{ProxyArgs: d.args(), Record: r}, nil)
}

// Part of shelvery.Driver interface
func (d *proxyDriver) Delete(ctx context.Context, r *shelvery.BackupRecord) error {
	return d.call(ctx, "Delete", &RecordArgs{ProxyArgs: d.args(), Record: r}, nil)
}

// Part of shelvery.Driver interface
func (d *proxyDriver) ExistingBackups(ctx context.Context, tagPrefix string) ([]*shelvery.BackupRecord, error) {
	var reply []*shelvery.BackupRecord
	err := d.call(ctx, "ExistingBackups", &ListArgs{ProxyArgs: d.args(), TagPrefix: tagPrefix}, &reply)
	return reply, err
}

// Part of shelvery.Driver interface
func (d *proxyDriver) IsAvailable(ctx context.Context, region, id string) (bool, error) {
	var reply bool
	err := d.call(ctx, "IsAvailable", &BackupIDArgs{ProxyArgs: d.args(), Region: region, BackupID: id}, &reply)
	return reply, err
}

// Part of shelvery.Driver interface
func (d *proxyDriver) CopyToRegion(ctx context.Context, r *shelvery.BackupRecord, region string) (string, error) {
	var reply string
	err := d.call(ctx, "CopyToRegion", &RecordArgs{ProxyArgs: d.args(), Record: r, Region: region}, &reply)
	return reply, err
}

// Part of shelvery.Driver interface
func (d *proxyDriver) ShareWithAccount(ctx context.Context, region, id, account string) error {
	return d.call(ctx, "ShareWithAccount", &BackupIDArgs{ProxyArgs: d.args(), Region: region, BackupID: id, AccountID: account}, nil)
}

// Part of shelvery.Driver interface
func (d *proxyDriver) CopyShared(ctx context.Context, sourceAccount string, r *shelvery.BackupRecord) (string, error) {
	var reply string
	err := d.call(ctx, "CopyShared", &CopySharedArgs{ProxyArgs: d.args(), SourceAccount: sourceAccount, Record: r}, &reply)
	return reply, err
}

// Part of shelvery.Driver interface
func (d *proxyDriver) GetBackup(ctx context.Context, region, id string) (*shelvery.BackupRecord, error) {
	var reply shelvery.BackupRecord
	if err := d.call(ctx, "GetBackup", &BackupIDArgs{ProxyArgs: d.args(), Region: region, BackupID: id}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Remote end of the proxy driver, registered as "Driver" by `shelvery proxy`
type ProxyServer struct {
	// Builds the driver a call is addressed to
	New func(kind shelvery.ResourceKind, config map[string]string) (shelvery.Driver, error)
}

func (s *ProxyServer) driver(args ProxyArgs) (shelvery.Driver, error) {
	return s.New(args.Kind, args.Config)
}

func (s *ProxyServer) EntitiesTagged(args *EntitiesArgs, reply *[]shelvery.EntityResource) (err error) {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	*reply, err = d.EntitiesTagged(context.Background(), args.TagName)
	return err
}

func (s *ProxyServer) Backup(args *RecordArgs, reply *shelvery.BackupRecord) error {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	r, err := d.Backup(context.Background(), args.Record)
	if err != nil {
		return err
	}
	*reply = *r
	return nil
}

func (s *ProxyServer) Tag(args *RecordArgs, reply *struct{}) error {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	return d.Tag(context.Background(), args.Record)
}

func (s *ProxyServer) Delete(args *RecordArgs, reply *struct{}) error {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	return d.Delete(context.Background(), args.Record)
}

func (s *ProxyServer) ExistingBackups(args *ListArgs, reply *[]*shelvery.BackupRecord) (err error) {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	*reply, err = d.ExistingBackups(context.Background(), args.TagPrefix)
	return err
}

func (s *ProxyServer) IsAvailable(args *BackupIDArgs, reply *bool) (err error) {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	*reply, err = d.IsAvailable(context.Background(), args.Region, args.BackupID)
	return err
}

func (s *ProxyServer) CopyToRegion(args *RecordArgs, reply *string) (err error) {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	*reply, err = d.CopyToRegion(context.Background(), args.Record, args.Region)
	return err
}

func (s *ProxyServer) ShareWithAccount(args *BackupIDArgs, reply *struct{}) error {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	return d.ShareWithAccount(context.Background(), args.Region, args.BackupID, args.AccountID)
}

func (s *ProxyServer) CopyShared(args *CopySharedArgs, reply *string) (err error) {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	*reply, err = d.CopyShared(context.Background(), args.SourceAccount, args.Record)
	return err
}

func (s *ProxyServer) GetBackup(args *BackupIDArgs, reply *shelvery.BackupRecord) error {
	d, err := s.driver(args.ProxyArgs)
	if err != nil {
		return err
	}
	r, err := d.GetBackup(context.Background(), args.Region, args.BackupID)
	if err != nil {
		return err
	}
	*reply = *r
	return nil
}
