package scheduler

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bucket is a broad time of day used when an anchor has no free slot.
type Bucket string

const (
	BucketMorning Bucket = "morning"
	BucketMidday  Bucket = "midday"
	BucketEvening Bucket = "evening"
	BucketUnknown Bucket = "unknown"
)

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the clock time on ref's calendar date in loc.
func (c Clock) On(ref time.Time, loc *time.Location) time.Time {
	y, m, d := ref.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// AnchorDef is one entry of the anchor catalog file.
type AnchorDef struct {
	Name   string `yaml:"name"`
	Time   string `yaml:"time"`
	Bucket Bucket `yaml:"bucket,omitempty"`
}

type catalogFile struct {
	Anchors   []AnchorDef         `yaml:"anchors"`
	Fallbacks map[Bucket][]string `yaml:"fallbacks,omitempty"`
}

type anchorEntry struct {
	key    string // lowercase name
	name   string
	clock  Clock
	bucket Bucket
}

// Catalog maps anchor names to times of day and buckets. An anchor matches
// an entry by case-insensitive name, or else by the longest entry name it
// contains, so "Mid-Morning Stretch" resolves to Mid-Morning, not Morning.
type Catalog struct {
	entries     []anchorEntry
	fallbacks   map[Bucket][]string
	defaultTime Clock
}

var defaultAnchors = []AnchorDef{
	{Name: "Morning Coffee", Time: "08:00"},
	{Name: "Morning", Time: "08:00"},
	{Name: "Start Laptop", Time: "09:00"},
	{Name: "Mid-Morning", Time: "10:30"},
	{Name: "Before Lunch", Time: "11:30"},
	{Name: "Lunch Break", Time: "12:30"},
	{Name: "After Lunch", Time: "13:30"},
	{Name: "Afternoon", Time: "14:00"},
	{Name: "Mid-Afternoon", Time: "15:30"},
	{Name: "End of Day", Time: "17:00"},
	{Name: "Evening", Time: "18:00"},
	{Name: "After Dinner", Time: "19:30"},
	{Name: "Before Bed", Time: "21:00"},
	{Name: "Night", Time: "21:00"},
}

var defaultFallbacks = map[Bucket][]string{
	BucketMorning: {"Morning Coffee", "Mid-Morning"},
	BucketMidday:  {"After Lunch", "Mid-Afternoon"},
	BucketEvening: {"End of Day", "Evening", "After Dinner"},
	BucketUnknown: {"After Lunch", "Mid-Afternoon", "End of Day"},
}

var bucketKeywords = []struct {
	bucket   Bucket
	keywords []string
}{
	{BucketMorning, []string{"morning", "breakfast", "coffee"}},
	{BucketMidday, []string{"lunch", "afternoon"}},
	{BucketEvening, []string{"evening", "dinner", "night", "bed", "end of day"}},
}

// DefaultCatalog returns the built-in anchor catalog.
func DefaultCatalog() *Catalog {
	c, err := newCatalog(defaultAnchors, nil)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML anchor file. Its anchors take precedence over the
// built-in ones, which remain available for names the file doesn't cover.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read anchor catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse anchor catalog %s: %w", path, err)
	}
	c, err := newCatalog(append(f.Anchors, defaultAnchors...), f.Fallbacks)
	if err != nil {
		return nil, fmt.Errorf("anchor catalog %s: %w", path, err)
	}
	return c, nil
}

func newCatalog(defs []AnchorDef, fallbacks map[Bucket][]string) (*Catalog, error) {
	c := &Catalog{
		fallbacks:   make(map[Bucket][]string, len(defaultFallbacks)),
		defaultTime: Clock{Hour: 14},
	}
	for _, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("anchor with empty name")
		}
		clock, err := ParseClock(d.Time)
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", name, err)
		}
		c.entries = append(c.entries, anchorEntry{
			key:    strings.ToLower(name),
			name:   name,
			clock:  clock,
			bucket: d.Bucket,
		})
	}
	for b, names := range defaultFallbacks {
		c.fallbacks[b] = names
	}
	for b, names := range fallbacks {
		if len(names) > 0 {
			c.fallbacks[b] = names
		}
	}
	return c, nil
}

func (c *Catalog) lookup(anchor string) (anchorEntry, bool) {
	a := strings.ToLower(strings.TrimSpace(anchor))
	best, found := anchorEntry{}, false
	for _, e := range c.entries {
		if e.key == a {
			return e, true
		}
		if strings.Contains(a, e.key) && (!found || len(e.key) > len(best.key)) {
			best, found = e, true
		}
	}
	return best, found
}

// TimeOf returns the default time of day for anchor. Unknown anchors fall
// back to 14:00.
func (c *Catalog) TimeOf(anchor string) Clock {
	if e, ok := c.lookup(anchor); ok {
		return e.clock
	}
	return c.defaultTime
}

// BucketOf classifies anchor into a time-of-day bucket.
func (c *Catalog) BucketOf(anchor string) Bucket {
	if e, ok := c.lookup(anchor); ok && e.bucket != "" {
		return e.bucket
	}
	a := strings.ToLower(anchor)
	for _, bk := range bucketKeywords {
		for _, kw := range bk.keywords {
			if strings.Contains(a, kw) {
				return bk.bucket
			}
		}
	}
	return BucketUnknown
}

// Fallbacks returns the anchors tried, in order, when anchor has no free
// slot. The anchor itself is never included.
func (c *Catalog) Fallbacks(anchor string) []string {
	var out []string
	for _, name := range c.fallbacks[c.BucketOf(anchor)] {
		if !strings.EqualFold(name, anchor) {
			out = append(out, name)
		}
	}
	return out
}

// Timestamp maps anchor to a concrete time on ref's date. A preferred time
// in prefs (anchor name to "HH:MM") wins over the catalog.
func (c *Catalog) Timestamp(anchor string, ref time.Time, prefs map[string]string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	for name, hhmm := range prefs {
		if !strings.EqualFold(name, anchor) {
			continue
		}
		if clock, err := ParseClock(hhmm); err == nil {
			return clock.On(ref, loc)
		}
	}
	return c.TimeOf(anchor).On(ref, loc)
}

// AnchorToTimestamp maps anchor to a time on ref's date using the default
// catalog.
func AnchorToTimestamp(anchor string, ref time.Time, prefs map[string]string, loc *time.Location) time.Time {
	return defaultCatalog.Timestamp(anchor, ref, prefs, loc)
}

var defaultCatalog = DefaultCatalog()
