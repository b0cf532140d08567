package scoring

import (
	"strings"
	"testing"
)

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(Config{
		Threshold:       30,
		LengthDrift:     200,
		ProxySignatures: []string{`(?i)mitmproxy`, `(?i)<!--\s*proxied`},
		DynamicMarkers:  []string{"data-dynamic", "aria-live"},
		EntropyMinLen:   20,
		EntropyMin:      3.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

const base = `<html><body><h1>Happy TTS</h1><p>Turn text into speech.</p></body></html>`

func has(a Assessment, signal string) int {
	for _, c := range a.Contributions {
		if c.Signal == signal {
			return c.Points
		}
	}
	return 0
}

func TestScore_NoChange(t *testing.T) {
	a := testScorer(t).Score(base, base, []string{"Happy TTS"})
	if a.Confidence != 0 || !a.FalsePositive() {
		t.Fatalf("assessment: %+v", a)
	}
}

func TestScore_MissingCriticalText(t *testing.T) {
	cur := strings.Replace(base, "Happy TTS", "Happy TS ", 1)
	a := testScorer(t).Score(base, cur, []string{"Happy TTS"})
	if len(a.MissingCritical) != 1 || has(a, SignalMissing) != WeightMissing {
		t.Fatalf("missing critical not scored: %+v", a)
	}
	if a.Confidence != 20 {
		t.Fatalf("confidence: got %d, want 20", a.Confidence)
	}
}

func TestScore_ProxySignature(t *testing.T) {
	cur := strings.Replace(base, "</body>", "<!-- proxied by mitmproxy --></body>", 1)
	a := testScorer(t).Score(base, cur, []string{"Happy TTS"})
	if !a.HasProxyTampering {
		t.Fatal("proxy tampering not detected")
	}
	if a.Confidence < 50 {
		t.Fatalf("confidence: got %d, want >= 50", a.Confidence)
	}
	if has(a, SignalAdditive) != 0 {
		t.Fatal("growth with a proxy signature is not additive content")
	}
	if a.FalsePositive() {
		t.Fatal("proxy tampering must not be a false positive")
	}
}

func TestScore_ProxySignatureAlreadyInBaseline(t *testing.T) {
	b := strings.Replace(base, "</body>", "<!-- proxied --></body>", 1)
	a := testScorer(t).Score(b, b+" ", nil)
	if a.HasProxyTampering {
		t.Fatal("signature present at baseline must not count")
	}
}

func TestScore_DynamicGrowthIsFalsePositive(t *testing.T) {
	cur := strings.Replace(base, "</body>",
		`<div data-dynamic="feed">`+strings.Repeat("new item ", 53)+`</div></body>`, 1)
	a := testScorer(t).Score(base, cur, []string{"Happy TTS"})
	if a.LengthDelta < 450 {
		t.Fatalf("delta: %d", a.LengthDelta)
	}
	if has(a, SignalDrift) != WeightDrift || has(a, SignalDynamic) != -WeightNormal || has(a, SignalAdditive) != -WeightNormal {
		t.Fatalf("signals: %+v", a.Contributions)
	}
	if a.Confidence >= 30 || !a.FalsePositive() {
		t.Fatalf("confidence: got %d, want < 30", a.Confidence)
	}
}

func TestScore_LiveRegionInBaselineIsNotNew(t *testing.T) {
	b := strings.Replace(base, "</body>", `<div aria-live="polite">Ready</div></body>`, 1)
	cur := strings.Replace(b, "</body>", "<!-- proxied by mitmproxy --></body>", 1)
	a := testScorer(t).Score(b, cur, []string{"Happy TTS"})
	if has(a, SignalDynamic) != 0 {
		t.Fatalf("baseline live region counted as normal: %+v", a.Contributions)
	}
	if a.Confidence < 50 || a.FalsePositive() {
		t.Fatalf("confidence: got %d, want >= 50", a.Confidence)
	}

	grown := strings.Replace(b, "</body>", `<p aria-live="polite">Saved</p></body>`, 1)
	if a := testScorer(t).Score(b, grown, nil); has(a, SignalDynamic) != -WeightNormal {
		t.Fatalf("second live region not detected: %+v", a.Contributions)
	}
}

func TestScore_TimestampToken(t *testing.T) {
	cur := strings.Replace(base, "Happy TTS", "Happy TS", 1) + "updated 2026-03-01T12:30:00"
	a := testScorer(t).Score(base, cur, []string{"Happy TTS"})
	if has(a, SignalTimestamp) != -WeightNormal {
		t.Fatalf("timestamp not detected: %+v", a.Contributions)
	}
}

func TestScore_EntropyToken(t *testing.T) {
	cur := strings.Replace(base, "</body>", `<meta name="csrf" content="Zx8Kq2LmP9vR4tWb7YcN1hJd"></body>`, 1)
	a := testScorer(t).Score(base, cur, nil)
	if has(a, SignalEntropy) != -WeightNormal {
		t.Fatalf("entropy token not detected: %+v", a.Contributions)
	}
}

func TestScore_Clamped(t *testing.T) {
	s := testScorer(t)
	huge := "mitmproxy " + strings.Repeat("x", 1000)
	a := s.Score(base, huge, []string{"Happy TTS", "Turn text into speech.", "a", "b", "c"})
	if a.Confidence != 100 {
		t.Fatalf("upper clamp: %d", a.Confidence)
	}
	a = s.Score(base, base+`<i aria-live="polite">`+strings.Repeat("y", 300)+`</i>`, nil)
	if a.Confidence != 0 {
		t.Fatalf("lower clamp: %d", a.Confidence)
	}
}

func TestScore_MonotonicInMissingPhrases(t *testing.T) {
	s := testScorer(t)
	phrases := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	full := `<p>` + strings.Join(phrases, " ") + `</p>`
	// Variants keep the length fixed and drop 0..5 phrases.
	prev := -1
	for k := 0; k <= len(phrases); k++ {
		cur := full
		for _, p := range phrases[:k] {
			cur = strings.Replace(cur, p, strings.Repeat("z", len(p)), 1)
		}
		a := s.Score(full, cur, phrases)
		if a.Confidence < prev {
			t.Fatalf("confidence decreased at %d missing: %d < %d", k, a.Confidence, prev)
		}
		prev = a.Confidence
	}
}

func TestEntropy(t *testing.T) {
	if Entropy("aaaaaaaa") != 0 {
		t.Fatal("uniform string must have zero entropy")
	}
	if e := Entropy("abcd"); e != 2 {
		t.Fatalf("Entropy(abcd) = %v, want 2", e)
	}
	if Entropy("") != 0 {
		t.Fatal("empty string")
	}
}

func TestNew_BadSignature(t *testing.T) {
	if _, err := New(Config{ProxySignatures: []string{"("}}); err == nil {
		t.Fatal("expected compile error")
	}
}
