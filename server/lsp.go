package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/lilium/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "lilium-lsp"

// document is an open editor buffer and what the compiler knows about it.
type document struct {
	text      string
	analysis  *compiler.Analysis
	functions *compiler.FunctionTable // last table that could be built
}

// LspServer provides diagnostics and navigation for lilium sources.
type LspServer struct {
	mu   sync.Mutex
	docs map[protocol.DocumentUri]*document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server.
func NewLSP(version string) *LspServer {
	s := &LspServer{
		docs:    make(map[protocol.DocumentUri]*document),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("lilium LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"("},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	diags := s.update(uri, params.TextDocument.Text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	whole, ok := last.(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		return nil
	}
	diags := s.update(uri, whole.Text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update re-analyzes a document and returns its diagnostics.
func (s *LspServer) update(uri protocol.DocumentUri, text string) []protocol.Diagnostic {
	a := compiler.Analyze(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		doc = &document{}
		s.docs[uri] = doc
	}
	doc.text = text
	doc.analysis = a
	if a.Functions != nil {
		doc.functions = a.Functions
	}

	diags := []protocol.Diagnostic{}
	if a.Err != nil {
		diags = append(diags, lspDiagnostic(a.Err))
	}
	return diags
}

func (s *LspServer) document(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return complete(doc, extractPrefix(doc.text, params.Position)), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" || doc.functions == nil {
		return nil, nil
	}
	fn, ok := doc.functions.Lookup(word)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: uri, Range: spanRange(fn.NameSpan)}}, nil
}

var keywordDocs = map[string]string{
	compiler.KeywordDef:   "`(def name (params...) body...)` defines a top-level function.",
	compiler.KeywordLet:   "`(let ((name init)...) body...)` binds locals for the body.",
	compiler.KeywordIf:    "`(if cond (then...) (else...))` evaluates one branch; nonzero is true.",
	compiler.KeywordWrite: "`(write x)` prints x on its own line and yields x.",
	compiler.KeywordRead:  "`(read)` reads one integer line from input.",
}

func complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	for _, kw := range compiler.Keywords() {
		if !strings.HasPrefix(kw, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindKeyword
		detail := "keyword"
		label := kw
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	if doc.functions != nil {
		for _, fn := range doc.functions.Functions() {
			if !strings.HasPrefix(fn.Name, prefix) {
				continue
			}
			kind := protocol.CompletionItemKindFunction
			detail := signature(fn)
			label := fn.Name
			items = append(items, protocol.CompletionItem{
				Label:      label,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &label,
			})
		}
	}

	if prefix == "" {
		for _, op := range compiler.Operators() {
			kind := protocol.CompletionItemKindOperator
			detail := "operator"
			label := op
			items = append(items, protocol.CompletionItem{
				Label:      label,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &label,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

func hover(doc *document, word string) *protocol.Hover {
	var value string
	if text, ok := keywordDocs[word]; ok {
		value = fmt.Sprintf("**%s**\n\n%s", word, text)
	} else if doc.functions != nil {
		fn, ok := doc.functions.Lookup(word)
		if !ok {
			return nil
		}
		value = fmt.Sprintf("```lilium\n%s\n```\n\nfn%d, %d parameter(s), defined at %d:%d",
			signature(fn), fn.ID, len(fn.Params), fn.NameSpan.Start.Line, fn.NameSpan.Start.Column)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

func signature(fn *compiler.FunctionInfo) string {
	return fmt.Sprintf("(def %s (%s))", fn.Name, strings.Join(fn.Params, " "))
}

// --- Diagnostics ---

func lspDiagnostic(err error) protocol.Diagnostic {
	d := diagnosticFor(err)
	severity := protocol.DiagnosticSeverityError
	source := lspName
	var rng protocol.Range
	if d.Line > 0 {
		start := protocol.Position{Line: uint32(d.Line - 1), Character: uint32(d.Column - 1)}
		width := len(d.Name)
		if width == 0 {
			width = 1
		}
		rng = protocol.Range{
			Start: start,
			End:   protocol.Position{Line: start.Line, Character: start.Character + uint32(width)},
		}
	}
	return protocol.Diagnostic{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  d.Message,
	}
}

func spanRange(sp compiler.Span) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: uint32(sp.Start.Line - 1), Character: uint32(sp.Start.Column - 1)},
		End:   protocol.Position{Line: uint32(sp.End.Line - 1), Character: uint32(sp.End.Column - 1)},
	}
}

// --- Text extraction helpers ---

func isIdentChar(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' ||
		ch == '_' || ch == '-' || ch == '?'
}

// extractPrefix returns the identifier fragment before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start := col
	for start > 0 && isIdentChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(line[end]) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
