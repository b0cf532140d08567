// Package netguard keeps the trust-on-first-use record of every HTML
// response and reports later responses for the same URL that differ from
// the first one.
package netguard

import (
	"mime"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/tamperguard/guard/integrity"
)

// Record is the first HTML response observed for a URL. It is never
// overwritten.
type Record struct {
	URL              string    `json:"url"`
	OriginalResponse string    `json:"originalResponse"`
	Hash             string    `json:"hash"`
	ObservedAt       time.Time `json:"observedAt"`
}

// Candidate is a response that differs from the stored original.
type Candidate struct {
	Original Record
	Current  string
	Hash     string
}

// Guard is the NetworkRecord store. It is not safe for concurrent use;
// the engine serialises access.
type Guard struct {
	secret  []byte
	records map[string]Record
}

// New creates a Guard hashing with secret.
func New(secret []byte) *Guard {
	return &Guard{secret: secret, records: make(map[string]Record)}
}

// Observe records body for url on first sight. Later bodies with the same
// keyed hash are silent; different ones return a Candidate.
func (g *Guard) Observe(url, body string, now time.Time) (*Candidate, bool) {
	key := Key(url)
	h := integrity.NetworkHash(body, g.secret)
	rec, ok := g.records[key]
	if !ok {
		g.records[key] = Record{URL: key, OriginalResponse: body, Hash: h, ObservedAt: now}
		return nil, false
	}
	if integrity.SameLabel(rec.Hash, h) {
		return nil, false
	}
	return &Candidate{Original: rec, Current: body, Hash: h}, true
}

// Get returns a copy of the record for url.
func (g *Guard) Get(url string) (Record, bool) {
	r, ok := g.records[Key(url)]
	return r, ok
}

// URLs returns a sorted snapshot of recorded URLs.
func (g *Guard) URLs() []string {
	out := make([]string, 0, len(g.records))
	for u := range g.records {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of records.
func (g *Guard) Len() int { return len(g.records) }

// Reset forgets every record.
func (g *Guard) Reset() { clear(g.records) }

// Key is the record key for url: the URL without its fragment.
func Key(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		return url[:i]
	}
	return url
}

// IsHTML reports whether contentType names an HTML document.
func IsHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
