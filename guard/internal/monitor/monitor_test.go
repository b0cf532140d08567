package monitor

import (
	"slices"
	"testing"

	"github.com/hazyhaar/tamperguard/guard/page"
)

func testMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(Config{
		SafeFragments: []string{"loading", "toast", "modal", "chat", "stream", "captcha"},
		Protected: []ProtectedText{{
			Expected: "Happy TTS",
			Variant:  `(?i)happy[\s_-]*t{1,3}[\s_-]*s{1,2}\b`,
			Allow:    []string{`(?i)happy[\s_-]*tts[\w-]`},
		}},
		InjectionSignatures: []string{`(?i)<script[^>]+src\s*=\s*["']?https?://`, `(?i)injected\s+by`},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestInspect_ProtectedText(t *testing.T) {
	m := testMonitor(t)
	tests := []struct {
		name    string
		rec     page.Record
		kind    Kind
		restore string
	}{
		{
			name:    "variant replaces phrase",
			rec:     page.Record{Op: page.OpText, Target: "/html/body/h1/text()", ID: "brand", Value: "Happy TS ", OldValue: "Happy TTS"},
			kind:    KindTamper,
			restore: "Happy TTS",
		},
		{
			name:    "variant without known old value",
			rec:     page.Record{Op: page.OpText, Target: "/h1", Value: "Welcome to happy-ts today"},
			kind:    KindTamper,
			restore: "Welcome to Happy TTS today",
		},
		{
			name: "exact phrase",
			rec:  page.Record{Op: page.OpText, Target: "/h1", Value: "Welcome to Happy TTS", OldValue: "Welcome"},
			kind: KindIgnore,
		},
		{
			name: "allowed superset word",
			rec:  page.Record{Op: page.OpText, Target: "/h1", Value: "Happy TTSPro edition"},
			kind: KindIgnore,
		},
		{
			name: "unrelated text",
			rec:  page.Record{Op: page.OpText, Target: "/p", Value: "hello world"},
			kind: KindIgnore,
		},
		{
			name:    "text attribute",
			rec:     page.Record{Op: page.OpAttr, Target: "/img", Name: "alt", Value: "Happy TTTS logo", OldValue: "Happy TTS logo"},
			kind:    KindTamper,
			restore: "Happy TTS logo",
		},
		{
			name: "non-text attribute",
			rec:  page.Record{Op: page.OpAttr, Target: "/div", Name: "data-x", Value: "happy ts"},
			kind: KindIgnore,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := m.Inspect(tt.rec)
			if v.Kind != tt.kind {
				t.Fatalf("kind: got %v, want %v", v.Kind, tt.kind)
			}
			if tt.kind == KindTamper {
				if v.Restore != tt.restore {
					t.Fatalf("restore: got %q, want %q", v.Restore, tt.restore)
				}
				if v.Expected != "Happy TTS" {
					t.Fatalf("expected: got %q", v.Expected)
				}
			}
		})
	}
}

func TestInspect_SafeComponents(t *testing.T) {
	m := testMonitor(t)
	recs := []page.Record{
		{Op: page.OpText, Class: "toast-body", Value: "Happy TS"},
		{Op: page.OpText, ID: "chat-window", Value: "Happy TS"},
		{Op: page.OpInsert, Ancestry: []string{"app", "Modal-root"}, HTML: `<script src="https://evil.example/x.js"></script>`},
		{Op: page.OpText, Tag: "captcha-widget", Value: "Happy TS"},
	}
	for i, r := range recs {
		if v := m.Inspect(r); v.Kind != KindSafe {
			t.Errorf("record %d: got %v, want safe", i, v.Kind)
		}
	}
}

func TestInspect_Injection(t *testing.T) {
	m := testMonitor(t)
	v := m.Inspect(page.Record{Op: page.OpInsert, Target: "/html/body/div[3]", HTML: `<div><script src="https://evil.example/x.js"></script></div>`})
	if v.Kind != KindInjection {
		t.Fatalf("kind: got %v", v.Kind)
	}
	if v.Signature == "" {
		t.Fatal("signature not recorded")
	}
}

func TestInspect_InsertWithTamperedText(t *testing.T) {
	m := testMonitor(t)
	v := m.Inspect(page.Record{Op: page.OpInsert, Target: "/footer", HTML: `<p>© Happy TS</p>`})
	if v.Kind != KindTamper || v.Restore != "© Happy TTS" {
		t.Fatalf("verdict: %+v", v)
	}
}

func TestInspect_RemovalsAndReset(t *testing.T) {
	m := testMonitor(t)
	if v := m.Inspect(page.Record{Op: page.OpRemove, Target: "/h1"}); v.Kind != KindIgnore {
		t.Fatalf("remove: %v", v.Kind)
	}
	if v := m.Inspect(page.Record{Op: page.OpAttrDel, Target: "/h1", Name: "title"}); v.Kind != KindIgnore {
		t.Fatalf("attr_del: %v", v.Kind)
	}
	if v := m.Inspect(page.Record{Op: page.OpDocReset}); v.Kind != KindFullCheck {
		t.Fatalf("doc_reset: %v", v.Kind)
	}
}

func TestNew_BadPatterns(t *testing.T) {
	if _, err := New(Config{Protected: []ProtectedText{{Expected: "x", Variant: "("}}}); err == nil {
		t.Fatal("bad variant must fail")
	}
	if _, err := New(Config{InjectionSignatures: []string{"["}}); err == nil {
		t.Fatal("bad signature must fail")
	}
}

func TestCompress_ConsecutiveText(t *testing.T) {
	got := slices.Collect(Compress(page.Batch(
		page.Record{Op: page.OpText, Target: "/div/text()", Value: "a", OldValue: "orig"},
		page.Record{Op: page.OpText, Target: "/div/text()", Value: "b", OldValue: "a"},
		page.Record{Op: page.OpText, Target: "/div/text()", Value: "final", OldValue: "b"},
	)))
	if len(got) != 1 {
		t.Fatalf("compress: got %d records, want 1", len(got))
	}
	if got[0].Value != "final" || got[0].OldValue != "orig" {
		t.Fatalf("record: %+v", got[0])
	}
}

func TestCompress_ConsecutiveAttr(t *testing.T) {
	got := slices.Collect(Compress(page.Batch(
		page.Record{Op: page.OpAttr, Target: "/div", Name: "title", Value: "a", OldValue: "orig"},
		page.Record{Op: page.OpAttr, Target: "/div", Name: "title", Value: "c", OldValue: "a"},
		page.Record{Op: page.OpAttr, Target: "/div", Name: "alt", Value: "z"},
	)))
	if len(got) != 2 {
		t.Fatalf("compress: got %d records, want 2", len(got))
	}
	if got[0].Value != "c" || got[0].OldValue != "orig" || got[1].Name != "alt" {
		t.Fatalf("records: %+v", got)
	}
}

func TestCompress_PreservesOrderAndStructure(t *testing.T) {
	got := slices.Collect(Compress(page.Batch(
		page.Record{Op: page.OpInsert, Target: "/a"},
		page.Record{Op: page.OpInsert, Target: "/a"},
		page.Record{Op: page.OpText, Target: "/b", Value: "1"},
		page.Record{Op: page.OpRemove, Target: "/c"},
		page.Record{Op: page.OpText, Target: "/b", Value: "2"},
	)))
	ops := make([]page.Op, len(got))
	for i, r := range got {
		ops[i] = r.Op
	}
	want := []page.Op{page.OpInsert, page.OpInsert, page.OpText, page.OpRemove, page.OpText}
	if !slices.Equal(ops, want) {
		t.Fatalf("ops: got %v, want %v", ops, want)
	}
}

func TestCompress_EarlyStop(t *testing.T) {
	n := 0
	for range Compress(page.Batch(
		page.Record{Op: page.OpInsert, Target: "/a"},
		page.Record{Op: page.OpInsert, Target: "/b"},
		page.Record{Op: page.OpInsert, Target: "/c"},
	)) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("iterations: %d", n)
	}
}
