package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspDoc = `functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {closure: helper}}
        - ret: "%0"
  - name: helper
    blocks:
      - - leave
`

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"op: ad", protocol.Position{Line: 0, Character: 6}, "ad"},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"first\n  {builtin: thr", protocol.Position{Line: 1, Character: 15}, "thr"},
		{"hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"short", protocol.Position{Line: 0, Character: 99}, "short"},
	}
	for _, tt := range tests {
		if got := extractPrefix(tt.text, tt.pos); got != tt.want {
			t.Errorf("extractPrefix(%q, %v) = %q, want %q", tt.text, tt.pos, got, tt.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"{closure: helper}", protocol.Position{Line: 0, Character: 12}, "helper"},
		{"get_exception", protocol.Position{Line: 0, Character: 0}, "get_exception"},
		{"a  b", protocol.Position{Line: 0, Character: 2}, ""},
	}
	for _, tt := range tests {
		if got := extractWord(tt.text, tt.pos); got != tt.want {
			t.Errorf("extractWord(%q, %v) = %q, want %q", tt.text, tt.pos, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

func TestAnalyzeReportsPerFunctionErrors(t *testing.T) {
	doc, diags := analyze(lspDoc)
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2 (main through its closure, helper itself)", len(diags))
	}
	for _, d := range diags {
		if !strings.Contains(d.Message, "unsupported statement") {
			t.Errorf("diagnostic %q does not name the statement", d.Message)
		}
	}
	if diags[1].Range.Start.Line != 5 {
		t.Errorf("helper diagnostic on line %d, want 5", diags[1].Range.Start.Line)
	}
	if len(doc.units) != 0 {
		t.Errorf("%d functions compiled, want 0", len(doc.units))
	}
}

func TestAnalyzeDecodeErrorLine(t *testing.T) {
	_, diags := analyze("functions:\n  - name: main\n    blocks:\n      - - move: {to: \"%0\", from: {bogus: 1}}\n")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if diags[0].Range.Start.Line != 3 {
		t.Errorf("diagnostic on line %d, want 3", diags[0].Range.Start.Line)
	}
}

func TestHoverShowsDisassembly(t *testing.T) {
	doc, diags := analyze(sumDoc)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	h := hover(doc, "main")
	if h == nil {
		t.Fatal("no hover for main")
	}
	text := h.Contents.(protocol.MarkupContent).Value
	for _, want := range []string{"**main**", "PUSH 2", "BINOP add %0 %1", "RET %0"} {
		if !strings.Contains(text, want) {
			t.Errorf("hover missing %q:\n%s", want, text)
		}
	}
	if hover(doc, "instanceof") == nil {
		t.Error("no hover for an operator name")
	}
	if hover(doc, "nothing") != nil {
		t.Error("hover for an unknown word")
	}
}

func TestCompleteOffersOperatorsBuiltinsAndFunctions(t *testing.T) {
	doc, _ := analyze(lspDoc)
	labels := func(prefix string) []string {
		var out []string
		for _, item := range complete(doc, prefix) {
			out = append(out, item.Label)
		}
		return out
	}

	if got := labels("get"); len(got) != 1 || got[0] != "get_exception" {
		t.Errorf("completions for get = %v", got)
	}
	if got := labels("he"); len(got) != 1 || got[0] != "helper" {
		t.Errorf("completions for he = %v", got)
	}
	if got := strings.Join(labels("s"), " "); got != "se shl shr sne sub" {
		t.Errorf("completions for s = %q", got)
	}
}

func TestFunctionLine(t *testing.T) {
	if got := functionLine(lspDoc, "helper"); got != 5 {
		t.Errorf("functionLine(helper) = %d, want 5", got)
	}
	if got := functionLine(lspDoc, "missing"); got != 0 {
		t.Errorf("functionLine(missing) = %d, want 0", got)
	}
}
