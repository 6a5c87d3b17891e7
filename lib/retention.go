package shelvery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var intervalAliases = map[string]string{
	"yearly":  "1y",
	"monthly": "1m",
	"weekly":  "1w",
	"daily":   "1d",
	"hourly":  "1h",
}

// Retention used when a backup carries no retention class at all
const MissingRetentionTTL = 10 * 365 * 24 * time.Hour

type RetentionPolicy struct {
	KeepDaily   int // In days
	KeepWeekly  int // In weeks
	KeepMonthly int // In months
	KeepYearly  int // In years

	// Named custom retention classes and their TTL
	Custom map[string]time.Duration
}

// Parse an interval. Can be expressed in seconds (no suffix), hours, days, weeks, months or years.
// Return the time interval in seconds.
func ParseInterval(intv string) (int, error) {
	intv = strings.TrimSpace(intv)
	alias, ok := intervalAliases[intv]
	if ok {
		intv = alias
	}

	if len(intv) == 0 {
		return 0, fmt.Errorf("empty interval")
	}

	var result int
	var suffix byte
	var err error
	if strings.Contains("ymwdh", string(intv[len(intv)-1])) {
		result, err = strconv.Atoi(intv[:len(intv)-1])
		suffix = intv[len(intv)-1]
	} else {
		result, err = strconv.Atoi(intv)
	}
	if err != nil {
		return 0, err
	}

	switch suffix {
	case 'y':
		result *= 365 * 24 * 3600
	case 'm':
		result *= 30 * 24 * 3600
	case 'w':
		result *= 7 * 24 * 3600
	case 'd':
		result *= 24 * 3600
	case 'h':
		result *= 3600
	}

	return result, nil
}

// Parse a comma-separated list of name:ttl pairs. Invalid pairs are logged and skipped.
func ParseCustomRetentionTypes(s string) map[string]time.Duration {
	custom := make(map[string]time.Duration)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, ttl, ok := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			logrus.WithFields(logrus.Fields{"item": item}).Warn("ignoring invalid custom retention type")
			continue
		}

		seconds, err := ParseInterval(ttl)
		if err != nil || seconds < 0 {
			logrus.WithFields(logrus.Fields{"item": item}).Warnf("ignoring invalid custom retention type: %v", err)
			continue
		}

		custom[name] = time.Duration(seconds) * time.Second
	}
	return custom
}

// Check that a retention class is known to the policy
func (p RetentionPolicy) Validate(rt RetentionType) error {
	switch rt {
	case RetentionDaily, RetentionWeekly, RetentionMonthly, RetentionYearly:
		return nil
	}
	if _, ok := p.Custom[string(rt)]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRetention, rt)
}

// Expiry date of a record under this policy. Never persisted: a policy change
// applies to existing backups.
func (p RetentionPolicy) ExpireDate(r *BackupRecord, now time.Time) time.Time {
	switch r.RetentionType {
	case RetentionDaily:
		return r.DateCreated.AddDate(0, 0, p.KeepDaily)
	case RetentionWeekly:
		return r.DateCreated.AddDate(0, 0, 7*p.KeepWeekly)
	case RetentionMonthly:
		return r.DateCreated.AddDate(0, p.KeepMonthly, 0)
	case RetentionYearly:
		return r.DateCreated.AddDate(p.KeepYearly, 0, 0)
	}

	if ttl, ok := p.Custom[string(r.RetentionType)]; ok {
		return r.DateCreated.Add(ttl)
	}

	// Unclassified backups are kept rather than risking data loss
	return now.Add(MissingRetentionTTL)
}

func (p RetentionPolicy) IsStale(r *BackupRecord, now time.Time) bool {
	return now.After(p.ExpireDate(r, now))
}
