// Package scoring estimates how likely a content change is tampering
// rather than a legitimate update, on a 0 to 100 scale.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/hazyhaar/tamperguard/guard/page"
)

// Signal weights.
const (
	WeightProxy   = 50 // proxy-rewrite signature not present in the baseline
	WeightMissing = 20 // per missing critical phrase
	WeightDrift   = 15 // |length delta| above LengthDrift
	WeightNormal  = 30 // subtracted per normal-update signal
)

// Signal names used in Contributions.
const (
	SignalProxy     = "proxy_signature"
	SignalMissing   = "missing_critical"
	SignalDrift     = "length_drift"
	SignalAdditive  = "additive_growth"
	SignalDynamic   = "dynamic_marker"
	SignalTimestamp = "timestamp_token"
	SignalEntropy   = "high_entropy_token"
)

// Config holds the scorer tables and thresholds.
type Config struct {
	Threshold       int
	LengthDrift     int
	ProxySignatures []string
	DynamicMarkers  []string
	EntropyMinLen   int
	EntropyMin      float64
}

// Contribution is one signal's effect on the score.
type Contribution struct {
	Signal string `json:"signal"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

// Assessment is the scored comparison of current content to a baseline.
type Assessment struct {
	Confidence        int            `json:"confidence"`
	Threshold         int            `json:"threshold"`
	HasProxyTampering bool           `json:"hasProxyTampering"`
	ProxySignatures   []string       `json:"proxySignatures,omitempty"`
	MissingCritical   []string       `json:"missingCritical,omitempty"`
	LengthDelta       int            `json:"lengthDelta"`
	Drift             bool           `json:"drift"`
	NormalSignals     []string       `json:"normalSignals,omitempty"`
	Contributions     []Contribution `json:"contributions"`
}

// FalsePositive reports whether the change scored below the threshold.
func (a Assessment) FalsePositive() bool { return a.Confidence < a.Threshold }

// Scorer is a compiled scoring table.
type Scorer struct {
	threshold  int
	drift      int
	proxy      []*regexp.Regexp
	dynamic    []string
	entropyLen int
	entropyMin float64
}

var (
	timestampRE = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?|\b\d{1,2}:\d{2}:\d{2}\b|\b1\d{9}(\d{3})?\b`)
	tokenRE     = regexp.MustCompile(`[A-Za-z0-9+/=_-]+`)
)

// New compiles cfg.
func New(cfg Config) (*Scorer, error) {
	s := &Scorer{
		threshold:  cfg.Threshold,
		drift:      cfg.LengthDrift,
		entropyLen: cfg.EntropyMinLen,
		entropyMin: cfg.EntropyMin,
	}
	for _, p := range cfg.ProxySignatures {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("scoring: proxy signature %q: %w", p, err)
		}
		s.proxy = append(s.proxy, re)
	}
	for _, m := range cfg.DynamicMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			s.dynamic = append(s.dynamic, m)
		}
	}
	return s, nil
}

// Threshold returns the false-positive threshold.
func (s *Scorer) Threshold() int { return s.threshold }

// Score compares current with baseline. critical lists the phrases that
// must remain in the visible text of current.
func (s *Scorer) Score(baseline, current string, critical []string) Assessment {
	a := Assessment{Threshold: s.threshold}
	score := 0
	add := func(signal string, points int, detail string) {
		score += points
		a.Contributions = append(a.Contributions, Contribution{Signal: signal, Points: points, Detail: detail})
	}

	for _, re := range s.proxy {
		if m := re.FindString(current); m != "" && !re.MatchString(baseline) {
			a.ProxySignatures = append(a.ProxySignatures, m)
		}
	}
	if len(a.ProxySignatures) > 0 {
		a.HasProxyTampering = true
		add(SignalProxy, WeightProxy, strings.Join(a.ProxySignatures, ", "))
	}

	if len(critical) > 0 {
		text := page.VisibleText(current)
		for _, phrase := range critical {
			if !strings.Contains(text, phrase) {
				a.MissingCritical = append(a.MissingCritical, phrase)
				add(SignalMissing, WeightMissing, phrase)
			}
		}
	}

	a.LengthDelta = len(current) - len(baseline)
	if abs(a.LengthDelta) > s.drift {
		a.Drift = true
		add(SignalDrift, WeightDrift, fmt.Sprintf("%+d bytes", a.LengthDelta))
	}

	normal := func(signal, detail string) {
		a.NormalSignals = append(a.NormalSignals, signal)
		add(signal, -WeightNormal, detail)
	}
	if a.LengthDelta > 0 && len(a.MissingCritical) == 0 && !a.HasProxyTampering {
		normal(SignalAdditive, "")
	}
	if m := s.newDynamicMarker(baseline, current); m != "" {
		normal(SignalDynamic, m)
	}
	if tok := newTimestamp(baseline, current); tok != "" {
		normal(SignalTimestamp, tok)
	} else if tok := s.newEntropyToken(baseline, current); tok != "" {
		normal(SignalEntropy, tok)
	}

	a.Confidence = min(max(score, 0), 100)
	return a
}

// newDynamicMarker returns the first live-region marker that occurs more
// often in current than in baseline.
func (s *Scorer) newDynamicMarker(baseline, current string) string {
	lb, lc := strings.ToLower(baseline), strings.ToLower(current)
	for _, m := range s.dynamic {
		if strings.Count(lc, m) > strings.Count(lb, m) {
			return m
		}
	}
	return ""
}

func newTimestamp(baseline, current string) string {
	seen := make(map[string]struct{})
	for _, m := range timestampRE.FindAllString(baseline, -1) {
		seen[m] = struct{}{}
	}
	for _, m := range timestampRE.FindAllString(current, -1) {
		if _, ok := seen[m]; !ok {
			return m
		}
	}
	return ""
}

func (s *Scorer) newEntropyToken(baseline, current string) string {
	if s.entropyLen <= 0 {
		return ""
	}
	seen := make(map[string]struct{})
	for _, tok := range tokenRE.FindAllString(baseline, -1) {
		if len(tok) >= s.entropyLen {
			seen[tok] = struct{}{}
		}
	}
	for _, tok := range tokenRE.FindAllString(current, -1) {
		if len(tok) < s.entropyLen {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		if Entropy(tok) >= s.entropyMin {
			return tok
		}
	}
	return ""
}

// Entropy returns the Shannon entropy of s in bits per byte.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	n := float64(len(s))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
