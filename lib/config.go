package shelvery

import (
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Configuration keys
const (
	KeyTagPrefix              = "tag_prefix"
	KeyKeepDaily              = "keep_daily_backups"
	KeyKeepWeekly             = "keep_weekly_backups"
	KeyKeepMonthly            = "keep_monthly_backups"
	KeyKeepYearly             = "keep_yearly_backups"
	KeyCustomRetentionTypes   = "custom_retention_types"
	KeyCurrentRetentionType   = "current_retention_type"
	KeyDRRegions              = "dr_regions"
	KeyShareAccountIDs        = "share_aws_account_ids"
	KeySourceAccountIDs       = "source_aws_account_ids"
	KeyWaitSnapshotTimeout    = "wait_snapshot_timeout"
	KeyMaxWaitIterations      = "lambda_max_wait_iterations"
	KeySelectEntity           = "select_entity"
	KeyBucketNameTemplate     = "bucket_name_template"
	KeyCopyResourceTags       = "copy_resource_tags"
	KeyExcludedResourceTags   = "excluded_resource_tag_keys"
	KeySQSQueueURL            = "sqs_queue_url"
	KeySQSQueueWaitPeriod     = "sqs_queue_wait_period"
	KeyIgnoreInvalidState     = "ignore_invalid_resource_state"
	KeyRoleARN                = "role_arn"
	KeyRoleExternalID         = "role_external_id"
	KeySNSTopic               = "sns_topic"
	KeyErrorSNSTopic          = "error_sns_topic"
	KeyMonoThread             = "mono_thread"
	KeyWorkerConcurrency      = "worker_concurrency"
	KeyMetadataStore          = "metadata_store"
	KeyMetadataStoreURL       = "metadata_store_url"
	KeyMetadataPrefix         = "metadata_prefix"
	KeyMetadataPublicKey      = "metadata_public_key"
	KeyMetadataPrivateKey     = "metadata_private_key"
	KeyMetadataCompression    = "metadata_compression"
	KeyDriverCommand          = "driver_command"
	KeyDriverProxyCommand     = "driver_proxy_command"
	KeyAWSRegion              = "aws_region"
	KeyAccountID              = "account_id"
	KeyLogFormat              = "log_format"
	DefaultBucketNameTemplate = "shelvery.data.{account_id}-{region}.base2tools"
)

// Compiled-in defaults, lowest precedence tier
var DefaultConfig = map[string]string{
	KeyTagPrefix:           "shelvery",
	KeyKeepDaily:           "14",
	KeyKeepWeekly:          "8",
	KeyKeepMonthly:         "12",
	KeyKeepYearly:          "10",
	KeyWaitSnapshotTimeout: "1200",
	KeyMaxWaitIterations:   "5",
	KeyBucketNameTemplate:  DefaultBucketNameTemplate,
	KeySQSQueueWaitPeriod:  "300",
	KeyWorkerConcurrency:   "8",
	KeyMetadataStore:       "s3",
	KeyMetadataPrefix:      "backups",
}

var (
	configLog = logrus.WithFields(logrus.Fields{"component": "config"})
	validate  = validator.New()

	falsyTokens = []string{"", "0", "false", "no", "off", "n", "f"}
)

// Resolves configuration values, in order of precedence:
//   - resource tag {prefix}:config:{key}
//   - invocation payload config map
//   - environment variable {key}, then shelvery_{key}
//   - Defaults
//
// Nothing is cached: every call observes the current environment and tags.
type Resolver struct {
	LookupEnv func(key string) (string, bool)
	Defaults  map[string]string
}

func NewResolver() *Resolver {
	return &Resolver{
		LookupEnv: os.LookupEnv,
		Defaults:  maps.Clone(DefaultConfig),
	}
}

func (r *Resolver) lookupEnv(key string) (string, bool) {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(key); ok {
		return v, true
	}
	return lookup("shelvery_" + key)
}

func (r *Resolver) resolveUntagged(key string, payload map[string]string) (string, bool) {
	if v, ok := payload[key]; ok {
		return v, true
	}
	if v, ok := r.lookupEnv(key); ok {
		return v, true
	}
	v, ok := r.Defaults[key]
	return v, ok
}

// Resolve key against the four tiers. tags and payload may be nil.
func (r *Resolver) Resolve(key string, tags, payload map[string]string) (string, bool) {
	key = NormalizeKey(key)
	if len(tags) > 0 && key != KeyTagPrefix {
		prefix, _ := r.resolveUntagged(KeyTagPrefix, payload)
		if v, ok := tags[TagKey(TagKey(prefix, TagConfig), key)]; ok {
			return v, true
		}
	}
	return r.resolveUntagged(key, payload)
}

// Bind the resolver to an invocation payload
func (r *Resolver) Bind(payload map[string]string) *Config {
	normalized := make(map[string]string, len(payload))
	for k, v := range payload {
		normalized[NormalizeKey(k)] = v
	}
	return &Config{resolver: r, payload: normalized}
}

// Typed view of the configuration of one invocation
type Config struct {
	resolver *Resolver
	payload  map[string]string
}

// Invocation payload, to be carried by continuations
func (c *Config) Payload() map[string]string {
	return maps.Clone(c.payload)
}

// Same resolver, other payload
func (c *Config) Rebind(payload map[string]string) *Config {
	return c.resolver.Bind(payload)
}

func (c *Config) Lookup(key string, tags map[string]string) (string, bool) {
	return c.resolver.Resolve(key, tags, c.payload)
}

func (c *Config) String(key string, tags map[string]string) string {
	v, _ := c.Lookup(key, tags)
	return strings.TrimSpace(v)
}

// Invalid values are logged and replaced by the default
func (c *Config) Int(key string, tags map[string]string) int {
	v := c.String(key, tags)
	if v == "" {
		return c.defaultInt(key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		configLog.WithFields(logrus.Fields{"key": key, "value": v}).Warn("invalid integer, using default")
		return c.defaultInt(key)
	}
	return i
}

func (c *Config) defaultInt(key string) int {
	i, _ := strconv.Atoi(c.resolver.Defaults[NormalizeKey(key)])
	return i
}

// Number of seconds, or an interval such as 20m
func (c *Config) Duration(key string, tags map[string]string) time.Duration {
	v := c.String(key, tags)
	if v == "" {
		v = c.resolver.Defaults[NormalizeKey(key)]
	}
	seconds, err := ParseInterval(v)
	if err != nil {
		configLog.WithFields(logrus.Fields{"key": key, "value": v}).Warn("invalid duration, using default")
		seconds, _ = ParseInterval(c.resolver.Defaults[NormalizeKey(key)])
	}
	return time.Duration(seconds) * time.Second
}

// True when the value is present and not a falsy token
func (c *Config) Bool(key string, tags map[string]string) bool {
	v, ok := c.Lookup(key, tags)
	if !ok {
		return false
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, f := range falsyTokens {
		if v == f {
			return false
		}
	}
	return true
}

// Comma-separated list, blank entries removed
func (c *Config) List(key string, tags map[string]string) []string {
	var res []string
	for _, item := range strings.Split(c.String(key, tags), ",") {
		if item = strings.TrimSpace(item); item != "" {
			res = append(res, item)
		}
	}
	return res
}

// List of AWS account ids. Malformed ids are logged and dropped.
func (c *Config) AccountIDs(key string, tags map[string]string) []string {
	var res []string
	for _, id := range c.List(key, tags) {
		if err := validate.Var(id, "len=12,numeric"); err != nil {
			configLog.WithFields(logrus.Fields{"key": key, "account": id}).Warn("ignoring invalid account id")
			continue
		}
		res = append(res, id)
	}
	return res
}

// Command line, in shell syntax
func (c *Config) Command(key string, tags map[string]string) []string {
	v := c.String(key, tags)
	if v == "" {
		return nil
	}
	res, err := shlex.Split(v)
	if err != nil {
		configLog.WithFields(logrus.Fields{"key": key}).Warnf("cannot parse command: %v", err)
		return nil
	}
	return res
}

func (c *Config) TagPrefix() string {
	return c.String(KeyTagPrefix, nil)
}

func (c *Config) RetentionPolicy(tags map[string]string) RetentionPolicy {
	return RetentionPolicy{
		KeepDaily:   c.Int(KeyKeepDaily, tags),
		KeepWeekly:  c.Int(KeyKeepWeekly, tags),
		KeepMonthly: c.Int(KeyKeepMonthly, tags),
		KeepYearly:  c.Int(KeyKeepYearly, tags),
		Custom:      ParseCustomRetentionTypes(c.String(KeyCustomRetentionTypes, tags)),
	}
}

// Forced retention class, if any. An unknown class is an error.
func (c *Config) CurrentRetentionType(tags map[string]string) (RetentionType, bool, error) {
	v := c.String(KeyCurrentRetentionType, tags)
	if v == "" {
		return "", false, nil
	}
	rt := RetentionType(v)
	if err := c.RetentionPolicy(tags).Validate(rt); err != nil {
		return "", false, err
	}
	return rt, true, nil
}
