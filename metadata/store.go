package metadata

import (
	"github.com/sloonz/shelvery/container"
	"github.com/sloonz/shelvery/lib"

	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"filippo.io/age"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const Extension = ".yaml"

var (
	metadataLog = logrus.WithFields(logrus.Fields{
		"component": "metadata",
	})
)

// A directory of the metadata store, relative to the store prefix
type Namespace string

func Active(kind shelvery.ResourceKind) Namespace {
	return Namespace(kind)
}

func Removed(kind shelvery.ResourceKind) Namespace {
	return Namespace(path.Join("removed", string(kind)))
}

// Handoff namespace read by account when pulling shared backups
func SharedWith(account string, kind shelvery.ResourceKind) Namespace {
	return Namespace(path.Join("shared", account, string(kind)))
}

func Processed(account string, kind shelvery.ResourceKind) Namespace {
	return Namespace(path.Join("shared", account, string(kind)+"-processed"))
}

func Failed(account string, kind shelvery.ResourceKind) Namespace {
	return Namespace(path.Join("shared", account, string(kind)+"-failed"))
}

// Metadata of one resource kind, in one account/region bucket
type Store struct {
	Bucket     string
	blobs      shelvery.BlobStore
	prefix     string
	kind       shelvery.ResourceKind
	recipients []age.Recipient
	identities []age.Identity
	compress   bool
}

func NewStore(blobs shelvery.BlobStore, prefix string, kind shelvery.ResourceKind) *Store {
	return &Store{blobs: blobs, prefix: strings.Trim(prefix, "/"), kind: kind}
}

func (s *Store) Kind() shelvery.ResourceKind {
	return s.kind
}

func (s *Store) Dir(ns Namespace) string {
	return path.Join(s.prefix, string(ns)) + "/"
}

func (s *Store) Key(ns Namespace, name string) string {
	return s.Dir(ns) + name + Extension
}

func (s *Store) encode(doc *Document) ([]byte, error) {
	data, err := doc.Marshal()
	if err != nil {
		return nil, err
	}
	if len(s.recipients) > 0 || s.compress {
		return container.Seal(data, s.recipients, doc.Kind)
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, ns Namespace, doc *Document) error {
	data, err := s.encode(doc)
	if err != nil {
		return err
	}

	key := s.Key(ns, doc.Name)
	metadataLog.WithFields(logrus.Fields{"bucket": s.Bucket, "key": key}).Debug("writing metadata")
	return s.blobs.PutObject(ctx, key, data)
}

func (s *Store) Put(ctx context.Context, r *shelvery.BackupRecord, ns Namespace) error {
	return s.write(ctx, ns, NewDocument(s.kind, r))
}

// Write a record along with the error that prevented its processing
func (s *Store) PutFailed(ctx context.Context, r *shelvery.BackupRecord, ns Namespace, cause error) error {
	doc := NewDocument(s.kind, r)
	if cause != nil {
		doc.Error = cause.Error()
	}
	return s.write(ctx, ns, doc)
}

func (s *Store) GetDocument(ctx context.Context, key string) (*Document, error) {
	data, err := s.blobs.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}

	data, err = container.Open(data, s.identities)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", key, err)
	}

	return UnmarshalDocument(data)
}

func (s *Store) Get(ctx context.Context, key string) (*shelvery.BackupRecord, error) {
	doc, err := s.GetDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	return doc.Record(), nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.blobs.RemoveObject(ctx, key)
}

// Keys of the documents of a namespace
func (s *Store) List(ctx context.Context, ns Namespace) ([]string, error) {
	keys, err := s.blobs.ListObjects(ctx, s.Dir(ns))
	if err != nil {
		return nil, err
	}

	res := make([]string, 0, len(keys))
	for _, k := range keys {
		// Direct children only
		if strings.HasSuffix(k, Extension) && !strings.Contains(strings.TrimPrefix(k, s.Dir(ns)), "/") {
			res = append(res, k)
		}
	}
	return res, nil
}

// Move a deleted record from the active to the removed namespace, and drop
// every copy handed to other accounts
func (s *Store) Archive(ctx context.Context, r *shelvery.BackupRecord) error {
	if err := s.Put(ctx, r, Removed(s.kind)); err != nil {
		return fmt.Errorf("cannot archive metadata of %s: %w", r.Name, err)
	}

	var errs error
	if err := s.blobs.RemoveObject(ctx, s.Key(Active(s.kind), r.Name)); err != nil && !errors.Is(err, shelvery.ErrNotFound) {
		errs = multierr.Append(errs, err)
	}

	shared, err := s.blobs.ListObjects(ctx, path.Join(s.prefix, "shared")+"/")
	if err != nil {
		return multierr.Append(errs, err)
	}

	suffix := "/" + string(s.kind) + "/" + r.Name + Extension
	for _, k := range shared {
		if strings.HasSuffix(k, suffix) {
			if err := s.blobs.RemoveObject(ctx, k); err != nil && !errors.Is(err, shelvery.ErrNotFound) {
				errs = multierr.Append(errs, err)
			}
		}
	}

	return errs
}
