package rodhost

import (
	"strings"
	"testing"

	"github.com/hazyhaar/tamperguard/guard"
	"github.com/hazyhaar/tamperguard/guard/page"
)

func TestDecodeBatch(t *testing.T) {
	payload := `[
		{"op":"text","target":"brand","node_type":3,"tag":"h1","id":"brand","value":"Happy TS","old_value":"Happy TTS"},
		{"op":"insert","target":"/html[1]/body[1]/div[2]","node_type":1,"tag":"div","ancestry":["main","data-live"],"html":"<div>x</div>"},
		{"op":"attr","target":"logo","tag":"img","id":"logo","name":"alt","value":"Happy","old_value":"Happy TTS"},
		{"op":"__navigate","value":"https://app.example/next"},
		{"op":"doc_reset"}
	]`
	recs, err := DecodeBatch(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4 (unknown op dropped)", len(recs))
	}
	if recs[0].Op != page.OpText || recs[0].ElementID() != "brand" || recs[0].OldValue != "Happy TTS" {
		t.Errorf("text record = %+v", recs[0])
	}
	if recs[1].Op != page.OpInsert || recs[1].ElementID() != "/html[1]/body[1]/div[2]" || len(recs[1].Ancestry) != 2 {
		t.Errorf("insert record = %+v", recs[1])
	}
	if recs[2].Name != "alt" || recs[2].NodeType != 0 {
		t.Errorf("attr record = %+v", recs[2])
	}
	if recs[3].Op != page.OpDocReset {
		t.Errorf("last op = %s", recs[3].Op)
	}
}

func TestDecodeBatch_Invalid(t *testing.T) {
	if _, err := DecodeBatch(`{"op":"text"}`); err == nil {
		t.Error("expected error for a non-array payload")
	}
}

func TestHookPrelude(t *testing.T) {
	p := hookPrelude()
	if !strings.Contains(p, Binding) || !strings.Contains(p, guard.Tag) {
		t.Errorf("prelude = %s", p)
	}
	if !strings.HasPrefix(p, "window.__tamperguardConfig = {") {
		t.Errorf("prelude = %s", p)
	}
}

func TestHookScript(t *testing.T) {
	for _, want := range []string{"MutationObserver", "__tamperguardConfig", "tamperguard:show-watermark", "preventDefault"} {
		if !strings.Contains(hookJS, want) {
			t.Errorf("hook.js lacks %q", want)
		}
	}
}

func TestRestoreScript(t *testing.T) {
	if !strings.HasPrefix(restoreJS, "(target, attr, value, remove) =>") {
		t.Errorf("restore.js signature = %.40s", restoreJS)
	}
	if !strings.Contains(restoreJS, "node.remove()") {
		t.Error("restore.js cannot detach an injected node")
	}
}

func TestIsIntercepted(t *testing.T) {
	tests := []struct {
		typ  string
		want bool
	}{
		{"Document", true},
		{"xhr", true},
		{"Fetch", true},
		{"Image", false},
		{"Stylesheet", false},
	}
	for _, tt := range tests {
		if got := IsIntercepted(tt.typ); got != tt.want {
			t.Errorf("IsIntercepted(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
