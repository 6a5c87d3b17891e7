package shelvery

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
)

type RetentionType string

const (
	RetentionDaily   RetentionType = "daily"
	RetentionWeekly  RetentionType = "weekly"
	RetentionMonthly RetentionType = "monthly"
	RetentionYearly  RetentionType = "yearly"
)

// Tag names, relative to the tag prefix
const (
	TagBackupMarker  = "backup"
	TagCreateBackup  = "create_backup"
	TagName          = "name"
	TagDateCreated   = "date_created"
	TagRegion        = "region"
	TagRetentionType = "retention_type"
	TagEntityID      = "entity_id"
	TagSrcAccount    = "src_account"
	TagDstAccount    = "dst_account"
	TagDRRegions     = "dr_regions"
	TagDRCopies      = "dr_copies"
	TagSourceBackup  = "source_backup"
	TagConfig        = "config"
)

var (
	TimestampFormat       = "2006-01-02-1504" // Format of the date_created tag and of the name timestamp
	LegacyTimestampFormat = "20060102-1504"   // Format used by older releases for date_created

	nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// Full tag key for a shelvery tag
func TagKey(prefix, name string) string {
	return prefix + ":" + name
}

// Tag marking shelvery-managed backups
func MarkerTag(prefix string) string {
	return TagKey(prefix, TagBackupMarker)
}

// Tag marking entities to back up
func EntityTag(prefix string) string {
	return TagKey(prefix, TagCreateBackup)
}

// Replace every run of non-alphanumeric characters by a single hyphen
func SanitizeName(name string) string {
	return strings.Trim(nonAlnumRe.ReplaceAllString(name, "-"), "-")
}

// Retention class for a backup created at t (UTC calendar date).
// The yearly/monthly test comes first: January 1st on a Sunday is yearly.
func ClassifyRetention(t time.Time) RetentionType {
	t = t.UTC()
	if t.Day() == 1 {
		if t.Month() == time.January {
			return RetentionYearly
		}
		return RetentionMonthly
	}
	if t.Weekday() == time.Sunday {
		return RetentionWeekly
	}
	return RetentionDaily
}

// A single backup, its retention class and tag-encoded metadata
type BackupRecord struct {
	BackupID      string
	EntityID      string
	Name          string
	DateCreated   time.Time
	DateDeleted   *time.Time
	RetentionType RetentionType
	Region        string
	AccountID     string
	TagPrefix     string
	Tags          map[string]string

	// Set only for freshly created records
	Entity *EntityResource
}

// Options for building a record out of an entity
type RecordOptions struct {
	AccountID        string
	CopyResourceTags bool
	ExcludedTagKeys  []string
	Now              time.Time
}

func backupName(entity *EntityResource, created time.Time, rt RetentionType) string {
	base := SanitizeName(entity.ID)
	if n, ok := entity.Tags["Name"]; ok && SanitizeName(n) != "" {
		sum := md5.Sum([]byte(entity.ID))
		base = SanitizeName(n) + "-" + hex.EncodeToString(sum[:])[:6]
	}
	return SanitizeName(fmt.Sprintf("%s-%s-%s", base, created.Format(TimestampFormat), rt))
}

func isExcludedTag(key string, excluded []string) bool {
	if strings.HasPrefix(key, "aws:") {
		return true
	}
	for _, e := range excluded {
		if e != "" && strings.HasPrefix(key, e) {
			return true
		}
	}
	return false
}

// Build a new (not yet created) backup record for an entity
func NewBackupRecord(prefix string, entity EntityResource, opts RecordOptions) *BackupRecord {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Minute)

	r := &BackupRecord{
		EntityID:      entity.ID,
		DateCreated:   now,
		RetentionType: ClassifyRetention(now),
		Region:        entity.Region,
		AccountID:     opts.AccountID,
		TagPrefix:     prefix,
		Tags:          make(map[string]string),
		Entity:        &entity,
	}

	if opts.CopyResourceTags {
		for k, v := range entity.Tags {
			if !isExcludedTag(k, opts.ExcludedTagKeys) {
				r.Tags[k] = v
			}
		}
	}

	r.Name = backupName(&entity, r.DateCreated, r.RetentionType)
	r.Tags["Name"] = r.Name
	r.Tags[MarkerTag(prefix)] = "true"
	r.Tags[TagKey(prefix, TagName)] = r.Name
	r.Tags[TagKey(prefix, TagDateCreated)] = r.DateCreated.Format(TimestampFormat)
	r.Tags[TagKey(prefix, TagRegion)] = r.Region
	r.Tags[TagKey(prefix, TagRetentionType)] = string(r.RetentionType)
	r.Tags[TagKey(prefix, TagEntityID)] = r.EntityID
	r.Tags[TagKey(prefix, TagSrcAccount)] = r.AccountID
	return r
}

func parseDateCreated(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampFormat, s, time.UTC)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(LegacyTimestampFormat, s, time.UTC)
}

// Rebuild a record from the tags persisted on a provider-side backup
func RecordFromTags(prefix, backupID string, tags map[string]string) (*BackupRecord, error) {
	name, ok := tags[TagKey(prefix, TagName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTag, TagKey(prefix, TagName))
	}

	rawDate, ok := tags[TagKey(prefix, TagDateCreated)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTag, TagKey(prefix, TagDateCreated))
	}
	created, err := parseDateCreated(rawDate)
	if err != nil {
		return nil, fmt.Errorf("invalid %s tag on %s: %w", TagKey(prefix, TagDateCreated), backupID, err)
	}

	account := tags[TagKey(prefix, TagDstAccount)]
	if account == "" {
		account = tags[TagKey(prefix, TagSrcAccount)]
	}

	return &BackupRecord{
		BackupID:      backupID,
		EntityID:      tags[TagKey(prefix, TagEntityID)],
		Name:          name,
		DateCreated:   created,
		RetentionType: RetentionType(tags[TagKey(prefix, TagRetentionType)]),
		Region:        tags[TagKey(prefix, TagRegion)],
		AccountID:     account,
		TagPrefix:     prefix,
		Tags:          maps.Clone(tags),
	}, nil
}

// Deep copy
func (r *BackupRecord) Clone() *BackupRecord {
	c := *r
	c.Tags = maps.Clone(r.Tags)
	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}
	if r.DateDeleted != nil {
		d := *r.DateDeleted
		c.DateDeleted = &d
	}
	if r.Entity != nil {
		e := *r.Entity
		e.Tags = maps.Clone(r.Entity.Tags)
		c.Entity = &e
	}
	return &c
}

func (r *BackupRecord) tag(name string) string {
	return r.Tags[TagKey(r.TagPrefix, name)]
}

func (r *BackupRecord) setTag(name, value string) {
	r.Tags[TagKey(r.TagPrefix, name)] = value
}

func (r *BackupRecord) WithBackupID(id string) *BackupRecord {
	c := r.Clone()
	c.BackupID = id
	return c
}

// Force a retention class. The name is rederived when the entity is known.
func (r *BackupRecord) WithRetentionType(rt RetentionType) *BackupRecord {
	c := r.Clone()
	c.RetentionType = rt
	c.setTag(TagRetentionType, string(rt))
	if c.Entity != nil {
		c.Name = backupName(c.Entity, c.DateCreated, rt)
		c.Tags["Name"] = c.Name
		c.setTag(TagName, c.Name)
	}
	return c
}

// Advertise the regions this backup will be replicated to
func (r *BackupRecord) WithDRRegions(regions []string) *BackupRecord {
	c := r.Clone()
	if len(regions) == 0 {
		delete(c.Tags, TagKey(c.TagPrefix, TagDRRegions))
	} else {
		c.setTag(TagDRRegions, strings.Join(regions, ","))
	}
	return c
}

// Regions of known disaster-recovery copies, mapped to the copy id
func (r *BackupRecord) DRCopies() map[string]string {
	copies := make(map[string]string)
	for _, entry := range strings.Split(r.tag(TagDRCopies), ",") {
		region, id, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if ok && region != "" {
			copies[region] = id
		}
	}
	return copies
}

// Append a copy to the dr_copies tag; existing entries are kept
func (r *BackupRecord) WithDRCopy(region, backupID string) *BackupRecord {
	c := r.Clone()
	if _, ok := c.DRCopies()[region]; ok {
		return c
	}
	entry := region + ":" + backupID
	if existing := c.tag(TagDRCopies); existing != "" {
		entry = existing + "," + entry
	}
	c.setTag(TagDRCopies, entry)
	return c
}

// Derive the record of a copy living in another region and/or account.
// The copy points back to its source through the source_backup tag, and
// region-specific cross references are dropped. BackupID is cleared.
func (r *BackupRecord) CrossAccountCopy(region, accountID string) *BackupRecord {
	c := r.Clone()
	c.setTag(TagSourceBackup, fmt.Sprintf("%s:%s:%s", r.AccountID, r.Region, r.BackupID))
	c.BackupID = ""
	c.Region = region
	c.AccountID = accountID
	c.Entity = nil
	c.setTag(TagRegion, region)
	c.setTag(TagDstAccount, accountID)
	delete(c.Tags, TagKey(c.TagPrefix, TagDRCopies))
	delete(c.Tags, TagKey(c.TagPrefix, TagDRRegions))
	return c
}

func (r *BackupRecord) Deleted(t time.Time) *BackupRecord {
	c := r.Clone()
	d := t.UTC()
	c.DateDeleted = &d
	return c
}

// Tags attached to the entity this backup was made from, if known, else the backup tags.
// Per-resource configuration overrides are read from there.
func (r *BackupRecord) ConfigTags() map[string]string {
	if r.Entity != nil {
		return r.Entity.Tags
	}
	return r.Tags
}

// Tag keys in lexical order
func (r *BackupRecord) SortedTagKeys() []string {
	return slices.Sorted(maps.Keys(r.Tags))
}
