package metadata

import (
	"github.com/sloonz/shelvery/lib"

	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"filippo.io/age"
	"github.com/Masterminds/sprig/v3"
)

// Opens metadata stores of an account/region, creating their bucket on
// first use
type Opener struct {
	Backend        shelvery.BlobBackend
	BucketTemplate string
	Prefix         string
	Kind           shelvery.ResourceKind
	Recipients     []age.Recipient
	Identities     []age.Identity
	Compress       bool

	// Accounts granted read access to created buckets
	SharedAccounts []string

	// Buckets already created, shared between openers of a process
	Created *sync.Map
}

func NewOpener(backend shelvery.BlobBackend, cfg *shelvery.Config, kind shelvery.ResourceKind) (*Opener, error) {
	o := &Opener{
		Backend:        backend,
		BucketTemplate: cfg.String(shelvery.KeyBucketNameTemplate, nil),
		Prefix:         cfg.String(shelvery.KeyMetadataPrefix, nil),
		Kind:           kind,
		Compress:       cfg.Bool(shelvery.KeyMetadataCompression, nil),
		SharedAccounts: cfg.AccountIDs(shelvery.KeyShareAccountIDs, nil),
		Created:        new(sync.Map),
	}

	var err error
	if key := cfg.String(shelvery.KeyMetadataPublicKey, nil); key != "" {
		if o.Recipients, err = shelvery.LoadRecipients("", key); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", shelvery.KeyMetadataPublicKey, err)
		}
	}
	if key := cfg.String(shelvery.KeyMetadataPrivateKey, nil); key != "" {
		if o.Identities, err = shelvery.LoadIdentities("", key); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", shelvery.KeyMetadataPrivateKey, err)
		}
	}

	return o, nil
}

// Render the bucket name template. Both {account_id}/{region} placeholders
// and Go templates ({{ .AccountID }}, {{ .Region }}) are accepted.
func BucketName(tpl, account, region string) (string, error) {
	if tpl == "" {
		tpl = shelvery.DefaultBucketNameTemplate
	}

	name := strings.NewReplacer("{account_id}", account, "{region}", region).Replace(tpl)
	if !strings.Contains(name, "{{") {
		return name, nil
	}

	t, err := template.New("bucket").Funcs(sprig.TxtFuncMap()).Parse(name)
	if err != nil {
		return "", fmt.Errorf("invalid bucket name template: %w", err)
	}

	buf := bytes.NewBuffer(nil)
	err = t.Execute(buf, struct{ AccountID, Region string }{account, region})
	if err != nil {
		return "", fmt.Errorf("invalid bucket name template: %w", err)
	}
	return buf.String(), nil
}

// Open the store of account in region. create is set for the local account
// only: other accounts' buckets are never created.
func (o *Opener) Open(ctx context.Context, account, region string, create bool) (*Store, error) {
	name, err := BucketName(o.BucketTemplate, account, region)
	if err != nil {
		return nil, err
	}

	if o.Created != nil {
		if _, done := o.Created.Load(name); done {
			create = false
		}
	}

	blobs, err := o.Backend.OpenBucket(ctx, name, create, shelvery.BucketPolicy{
		OwnerAccount:   account,
		SharedAccounts: o.SharedAccounts,
		SharedPrefix:   o.Prefix,
	})
	if err != nil {
		return nil, err
	}
	if create && o.Created != nil {
		o.Created.Store(name, struct{}{})
	}

	s := NewStore(blobs, o.Prefix, o.Kind)
	s.Bucket = name
	s.recipients = o.Recipients
	s.identities = o.Identities
	s.compress = o.Compress
	return s, nil
}
