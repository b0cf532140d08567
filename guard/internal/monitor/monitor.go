// Package monitor classifies content-tree changes. Safe changes (loading
// indicators, chat and streaming UI, verification flows) are ignored;
// text that renders a protected phrase differently from its expected form
// is a tamper finding, and inserted subtrees carrying injection signatures
// are injection findings.
package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hazyhaar/tamperguard/guard/page"
)

// Kind is the outcome of inspecting one record.
type Kind int

const (
	KindIgnore    Kind = iota // not relevant (removals, unrelated text)
	KindSafe                  // matched the safe allowlist
	KindTamper                // protected text rendered wrongly
	KindInjection             // foreign content inserted
	KindFullCheck             // the whole document changed; run a full check
)

func (k Kind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindSafe:
		return "safe"
	case KindTamper:
		return "tamper"
	case KindInjection:
		return "injection"
	case KindFullCheck:
		return "full_check"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ProtectedText is a phrase whose rendering is enforced.
type ProtectedText struct {
	Expected string
	Variant  string   // regexp matching near-miss renderings, including Expected itself
	Allow    []string // regexps of legitimate renderings that contain a variant
}

// Config holds the classification tables.
type Config struct {
	SafeFragments       []string
	Protected           []ProtectedText
	InjectionSignatures []string
}

// Verdict is the classification of one record.
type Verdict struct {
	Kind      Kind
	ElementID string
	Target    string
	Attr      string // attribute name for attribute findings
	Original  string // value before the change, when known
	Observed  string // value after the change
	Expected  string // protected phrase that was violated
	Restore   string // known-good value to put back
	Signature string // injection signature that matched
}

type protected struct {
	expected string
	variant  *regexp.Regexp
	allow    []*regexp.Regexp
}

// Monitor is a compiled classification table.
type Monitor struct {
	safe      []string
	protected []protected
	injection []*regexp.Regexp
}

// textAttrs are the attributes whose values are rendered as text.
var textAttrs = map[string]bool{
	"title": true, "alt": true, "aria-label": true,
	"placeholder": true, "content": true, "value": true,
}

// New compiles cfg.
func New(cfg Config) (*Monitor, error) {
	m := &Monitor{}
	for _, f := range cfg.SafeFragments {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			m.safe = append(m.safe, f)
		}
	}
	for _, p := range cfg.Protected {
		variant := p.Variant
		if variant == "" {
			variant = regexp.QuoteMeta(p.Expected)
		}
		re, err := regexp.Compile(variant)
		if err != nil {
			return nil, fmt.Errorf("monitor: protected %q: %w", p.Expected, err)
		}
		pt := protected{expected: p.Expected, variant: re}
		for _, a := range p.Allow {
			are, err := regexp.Compile(a)
			if err != nil {
				return nil, fmt.Errorf("monitor: protected %q allow %q: %w", p.Expected, a, err)
			}
			pt.allow = append(pt.allow, are)
		}
		m.protected = append(m.protected, pt)
	}
	for _, s := range cfg.InjectionSignatures {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("monitor: injection signature %q: %w", s, err)
		}
		m.injection = append(m.injection, re)
	}
	return m, nil
}

// Inspect classifies one record.
func (m *Monitor) Inspect(r page.Record) Verdict {
	v := Verdict{ElementID: r.ElementID(), Target: r.Target, Original: r.OldValue, Observed: r.Value}

	switch r.Op {
	case page.OpDocReset:
		v.Kind = KindFullCheck
		return v
	case page.OpRemove, page.OpAttrDel:
		// Removed content is caught by the periodic page diff.
		v.Kind = KindIgnore
		return v
	}

	if m.IsSafe(r) {
		v.Kind = KindSafe
		return v
	}

	switch r.Op {
	case page.OpInsert:
		for _, re := range m.injection {
			if loc := re.FindStringIndex(r.HTML); loc != nil {
				v.Kind = KindInjection
				v.Signature = r.HTML[loc[0]:loc[1]]
				v.Observed = r.HTML
				return v
			}
		}
		text := page.VisibleText(r.HTML)
		if expected, restore, ok := m.checkText(text, ""); !ok {
			v.Kind = KindTamper
			v.Observed = text
			v.Expected = expected
			v.Restore = restore
			return v
		}
	case page.OpText:
		if expected, restore, ok := m.checkText(r.Value, r.OldValue); !ok {
			v.Kind = KindTamper
			v.Expected = expected
			v.Restore = restore
			return v
		}
	case page.OpAttr:
		if !textAttrs[strings.ToLower(r.Name)] {
			break
		}
		if expected, restore, ok := m.checkText(r.Value, r.OldValue); !ok {
			v.Kind = KindTamper
			v.Attr = r.Name
			v.Expected = expected
			v.Restore = restore
			return v
		}
	}
	v.Kind = KindIgnore
	return v
}

// IsSafe reports whether the record touches an allowlisted component: any
// safe fragment in the tag, id, class or ancestry of the changed node.
func (m *Monitor) IsSafe(r page.Record) bool {
	if len(m.safe) == 0 {
		return false
	}
	fields := make([]string, 0, 3+len(r.Ancestry))
	fields = append(fields, r.Tag, r.ID, r.Class)
	fields = append(fields, r.Ancestry...)
	for _, f := range fields {
		if f == "" {
			continue
		}
		lf := strings.ToLower(f)
		for _, s := range m.safe {
			if strings.Contains(lf, s) {
				return true
			}
		}
	}
	return false
}

// CheckText tests text against every protected phrase. It returns ok=false
// with the violated phrase and a restored value on mismatch.
func (m *Monitor) CheckText(text string) (expected, restore string, ok bool) {
	return m.checkText(text, "")
}

func (m *Monitor) checkText(text, old string) (string, string, bool) {
	for _, p := range m.protected {
		if p.allowed(text) {
			continue
		}
		for _, match := range p.variant.FindAllString(text, -1) {
			if match == p.expected {
				continue
			}
			if old != "" && strings.Contains(old, p.expected) {
				return p.expected, old, false
			}
			return p.expected, p.variant.ReplaceAllLiteralString(text, p.expected), false
		}
	}
	return "", "", true
}

func (p protected) allowed(text string) bool {
	for _, a := range p.allow {
		if a.MatchString(text) {
			return true
		}
	}
	return false
}
