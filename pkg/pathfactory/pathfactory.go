// Package pathfactory decides where in the target storage a record is
// written.
package pathfactory

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/siqueiraa/kaflow-restructure/pkg/avro"
)

const (
	unknownDate    = "unknown_date"
	unknownProject = "unknown-project"
	unknownUser    = "unknown-user"
	unknownSource  = "unknown-source"
)

// RecordOrganization is the placement of one record.
type RecordOrganization struct {
	Path     string
	Category string
	// Time is zero when the record carries no usable timestamp.
	Time time.Time
}

// Factory maps a record to its output file. Attempt is zero for the first
// choice; each conflict retry asks for the next attempt, which must yield a
// different path.
type Factory interface {
	Organize(topic string, record avro.Record, attempt int) RecordOrganization
}

// Bucket truncates record times into the file they belong to.
type Bucket string

const (
	Hourly Bucket = "hour"
	Daily  Bucket = "day"
)

func (b Bucket) format(t time.Time) string {
	if t.IsZero() {
		return unknownDate
	}
	t = t.UTC()
	if b == Daily {
		return t.Format("20060102")
	}
	return t.Format("20060102_15") + "00"
}

// ForName returns the factory for a configured layout. extension is
// appended to every file name, including any compression suffix.
func ForName(name string, bucket string, extension string) (Factory, error) {
	b := Bucket(bucket)
	switch b {
	case "":
		b = Hourly
	case Hourly, Daily:
	default:
		return nil, fmt.Errorf("unknown time bucket %q", bucket)
	}

	switch name {
	case "", "observation-key":
		return &ObservationKey{bucket: b, extension: extension}, nil
	case "topic":
		return &TopicOnly{bucket: b, extension: extension}, nil
	default:
		return nil, fmt.Errorf("unknown path factory %q", name)
	}
}

// ObservationKey lays files out as
// <projectId>/<userId>/<topic>/<bucket>[_<attempt>]<ext>, with the source id
// as category.
type ObservationKey struct {
	bucket    Bucket
	extension string
}

func (f *ObservationKey) Organize(topic string, record avro.Record, attempt int) RecordOrganization {
	project := keyOr(record, "projectId", unknownProject)
	user := keyOr(record, "userId", unknownUser)
	t := RecordTime(record)

	return RecordOrganization{
		Path:     path.Join(project, user, Sanitize(topic), fileName(f.bucket.format(t), attempt, f.extension)),
		Category: keyOr(record, "sourceId", unknownSource),
		Time:     t,
	}
}

// TopicOnly groups files by topic alone: <topic>/<bucket>[_<attempt>]<ext>.
type TopicOnly struct {
	bucket    Bucket
	extension string
}

func (f *TopicOnly) Organize(topic string, record avro.Record, attempt int) RecordOrganization {
	t := RecordTime(record)
	return RecordOrganization{
		Path:     path.Join(Sanitize(topic), fileName(f.bucket.format(t), attempt, f.extension)),
		Category: topic,
		Time:     t,
	}
}

func fileName(base string, attempt int, extension string) string {
	if attempt > 0 {
		base += "_" + strconv.Itoa(attempt)
	}
	return base + extension
}

func keyOr(record avro.Record, field, fallback string) string {
	if s, ok := record.String("key", field); ok {
		return Sanitize(s)
	}
	return fallback
}

// RecordTime finds the event time of a record: value.time, then
// value.timeReceived, then key.timeStart. Numbers are seconds since the
// epoch.
func RecordTime(record avro.Record) time.Time {
	for _, p := range [][]string{{"value", "time"}, {"value", "timeReceived"}, {"key", "timeStart"}} {
		v, ok := record.Get(p...)
		if !ok {
			continue
		}
		if t, ok := toTime(v); ok {
			return t
		}
	}
	return time.Time{}
}

func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case float64:
		return fromSeconds(val)
	case float32:
		return fromSeconds(float64(val))
	case int64:
		return time.Unix(val, 0).UTC(), true
	case int:
		return time.Unix(int64(val), 0).UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func fromSeconds(s float64) (time.Time, bool) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Sanitize makes s safe as a single path element.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '+':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "." || s == ".." || s == "" {
		return "_"
	}
	return s
}
