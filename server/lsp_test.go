package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const lspDoc = `(def square (x) (* x x))
(def sum-to? (n acc)
  (if (> n 0) ((sum-to? (- n 1) (+ acc n))) (acc)))
(square (sum-to? 3 0))`

func openDoc(t *testing.T, text string) (*LspServer, protocol.DocumentUri, []protocol.Diagnostic) {
	t.Helper()
	s := NewLSP("test")
	uri := protocol.DocumentUri("file:///test.lil")
	diags := s.update(uri, text)
	return s, uri, diags
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		line uint32
		char uint32
		want string
	}{
		{"(squ", 0, 4, "squ"},
		{"(sum-to", 0, 7, "sum-to"},
		{"(even?", 0, 6, "even?"},
		{"", 0, 0, ""},
		{"first\n(sec", 1, 4, "sec"},
		{"(f x)", 0, 0, ""},
		{"single line", 5, 0, ""},
		{"(abc", 0, 99, "abc"},
	}
	for _, tt := range tests {
		got := extractPrefix(tt.text, protocol.Position{Line: tt.line, Character: tt.char})
		if got != tt.want {
			t.Errorf("extractPrefix(%q, %d:%d) = %q, want %q", tt.text, tt.line, tt.char, got, tt.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		text string
		char uint32
		want string
	}{
		{"(square 3)", 3, "square"},
		{"(square 3)", 1, "square"},
		{"(square 3)", 7, "square"},
		{"(sum-to? 3 0)", 5, "sum-to?"},
		{"(+ 1 2)", 1, ""},
	}
	for _, tt := range tests {
		got := extractWord(tt.text, protocol.Position{Character: tt.char})
		if got != tt.want {
			t.Errorf("extractWord(%q, %d) = %q, want %q", tt.text, tt.char, got, tt.want)
		}
	}
}

func TestDiagnostics(t *testing.T) {
	_, _, diags := openDoc(t, lspDoc)
	if len(diags) != 0 {
		t.Errorf("valid document has diagnostics: %+v", diags)
	}

	_, _, diags = openDoc(t, "(def f (x) x)\n(f missing)")
	if len(diags) != 1 {
		t.Fatalf("expected one diagnostic, got %+v", diags)
	}
	d := diags[0]
	want := protocol.Range{
		Start: protocol.Position{Line: 1, Character: 3},
		End:   protocol.Position{Line: 1, Character: 10},
	}
	if d.Range != want {
		t.Errorf("range = %+v, want %+v", d.Range, want)
	}
	if !strings.Contains(d.Message, "undefined variable") || *d.Severity != protocol.DiagnosticSeverityError {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestCompletion(t *testing.T) {
	s, uri, _ := openDoc(t, lspDoc)
	doc, _ := s.document(uri)

	labels := func(items []protocol.CompletionItem) []string {
		var out []string
		for _, it := range items {
			out = append(out, it.Label)
		}
		return out
	}

	if got := strings.Join(labels(complete(doc, "s")), ","); got != "square,sum-to?" {
		t.Errorf("complete(s) = %s", got)
	}
	if got := strings.Join(labels(complete(doc, "wr")), ","); got != "write" {
		t.Errorf("complete(wr) = %s", got)
	}
	all := labels(complete(doc, ""))
	if !strings.Contains(strings.Join(all, " "), "<=") || len(all) != 5+2+12 {
		t.Errorf("complete(\"\") = %v", all)
	}
}

func TestCompletionKeepsFunctionsOnError(t *testing.T) {
	s, uri, _ := openDoc(t, lspDoc)
	s.update(uri, lspDoc+"\n(square")
	doc, _ := s.document(uri)
	if items := complete(doc, "squ"); len(items) != 1 {
		t.Errorf("functions from the last good parse should still complete, got %d items", len(items))
	}
}

func TestHover(t *testing.T) {
	s, uri, _ := openDoc(t, lspDoc)
	doc, _ := s.document(uri)

	h := hover(doc, "sum-to?")
	if h == nil {
		t.Fatal("no hover for a defined function")
	}
	value := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(value, "(def sum-to? (n acc))") || !strings.Contains(value, "fn1") {
		t.Errorf("hover = %q", value)
	}

	if h := hover(doc, "let"); h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "binds locals") {
		t.Error("keywords should have hover text")
	}
	if hover(doc, "nothing") != nil {
		t.Error("unknown words should not hover")
	}
}

func TestDefinition(t *testing.T) {
	s, uri, _ := openDoc(t, lspDoc)
	result, err := s.textDocumentDefinition(nil, &protocol.DefinitionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 3, Character: 3},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	locs, ok := result.([]protocol.Location)
	if !ok || len(locs) != 1 {
		t.Fatalf("definition = %#v", result)
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 0, Character: 5},
		End:   protocol.Position{Line: 0, Character: 11},
	}
	if locs[0].URI != uri || locs[0].Range != want {
		t.Errorf("location = %+v, want %+v", locs[0], want)
	}
}
