// Package baseline holds the trusted snapshot of a page and the integrity
// records derived from it.
package baseline

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/tamperguard/guard/integrity"
	"github.com/hazyhaar/tamperguard/guard/page"
)

// CriticalPrefix prefixes the element id of every critical-text record.
const CriticalPrefix = "critical:"

// ErrTooShort is returned when captured content is below the minimum
// viable length; the page has most likely not rendered yet.
var ErrTooShort = errors.New("baseline: content too short")

// Record is an integrity record. Callers only ever receive copies.
type Record struct {
	ElementID  string    `json:"elementId"`
	Content    string    `json:"content"`
	Checksum   string    `json:"checksum"`
	Signature  string    `json:"signature"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Baseline is the trusted snapshot of the page.
type Baseline struct {
	Content    string
	Text       string // visible text of Content
	Checksum   string
	CapturedAt time.Time
	Markers    []string
	Critical   []string
}

// Config configures a Store.
type Config struct {
	MinLength        int
	CriticalPatterns []string
	Secret           []byte // signs integrity records
}

// Store owns the baseline and the integrity records. It is not safe for
// concurrent use; the engine serialises access.
type Store struct {
	minLength int
	patterns  []*regexp.Regexp
	secret    []byte

	base    Baseline
	valid   bool
	records map[string]Record
}

// New compiles the critical-text patterns.
func New(cfg Config) (*Store, error) {
	s := &Store{
		minLength: cfg.MinLength,
		secret:    cfg.Secret,
		records:   make(map[string]Record),
	}
	for _, p := range cfg.CriticalPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("baseline: critical pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// Capture snapshots content as the new baseline and registers one
// integrity record per critical phrase found in its visible text. Records
// set through SetIntegrity for other elements are kept.
func (s *Store) Capture(content string, now time.Time) (Baseline, error) {
	if len(content) < s.minLength {
		return Baseline{}, fmt.Errorf("%w: %d < %d bytes", ErrTooShort, len(content), s.minLength)
	}

	text := page.VisibleText(content)
	var critical []string
	for _, re := range s.patterns {
		for _, m := range re.FindAllString(text, -1) {
			if !slices.Contains(critical, m) {
				critical = append(critical, m)
			}
		}
	}

	for id := range s.records {
		if strings.HasPrefix(id, CriticalPrefix) {
			delete(s.records, id)
		}
	}
	for _, phrase := range critical {
		s.SetIntegrity(CriticalPrefix+phrase, phrase, now)
	}

	s.base = Baseline{
		Content:    content,
		Text:       text,
		Checksum:   integrity.Checksum(content),
		CapturedAt: now,
		Markers:    page.Markers(content),
		Critical:   critical,
	}
	s.valid = true
	return s.Current()
}

// Current returns a copy of the baseline, or ErrNoBaseline.
func (s *Store) Current() (Baseline, error) {
	if !s.valid {
		return Baseline{}, ErrNoBaseline
	}
	b := s.base
	b.Markers = slices.Clone(s.base.Markers)
	b.Critical = slices.Clone(s.base.Critical)
	return b, nil
}

// ErrNoBaseline is returned before the first successful capture.
var ErrNoBaseline = errors.New("baseline: not captured")

// Valid reports whether a baseline has been captured.
func (s *Store) Valid() bool { return s.valid }

// SetIntegrity replaces the record for id wholesale.
func (s *Store) SetIntegrity(id, content string, now time.Time) Record {
	r := Record{
		ElementID:  id,
		Content:    content,
		Checksum:   integrity.Checksum(content),
		Signature:  integrity.Signature(content, s.secret, now),
		CapturedAt: now,
	}
	s.records[id] = r
	return r
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// IDs returns a sorted snapshot of record ids.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of integrity records.
func (s *Store) Len() int { return len(s.records) }

// Verify checks current content against the record for id. Critical-text
// records pass when the phrase is still present in current; element
// records pass when the checksum of current matches. In both cases the
// record must still agree with its own checksum.
func (s *Store) Verify(id, current string) (bool, error) {
	r, ok := s.records[id]
	if !ok {
		return false, fmt.Errorf("baseline: no integrity record for %q", id)
	}
	if !integrity.SameLabel(integrity.Checksum(r.Content), r.Checksum) {
		return false, fmt.Errorf("baseline: record %q is corrupted", id)
	}
	if strings.HasPrefix(id, CriticalPrefix) {
		return strings.Contains(current, r.Content), nil
	}
	return integrity.SameLabel(integrity.Checksum(current), r.Checksum), nil
}

// Missing returns the critical phrases absent from text, in capture order.
func (s *Store) Missing(text string) []string {
	var out []string
	for _, phrase := range s.base.Critical {
		if !strings.Contains(text, phrase) {
			out = append(out, phrase)
		}
	}
	return out
}

// Reset forgets the baseline and every record.
func (s *Store) Reset() {
	s.base = Baseline{}
	s.valid = false
	clear(s.records)
}
