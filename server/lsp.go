package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/moth/ir"
	"github.com/chazu/moth/isel"
	"github.com/chazu/moth/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "moth-lsp"

// LspServer provides editor features for YAML IR documents: diagnostics
// from decoding and selection, hover disassembly of functions, completion
// of operator and builtin names, and function definitions.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → latest document state

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// document is an open IR document together with what was compiled from it.
type document struct {
	text   string
	module *ir.Module
	units  map[string]*vm.CompiledFunction // function name → selected code
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
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
	commonlog.NewInfoMessage(0, "moth LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{" ", "{"},
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
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update recompiles a document and publishes its diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	doc, diagnostics := analyze(text)

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()

	if ctx == nil {
		return
	}
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func (s *LspServer) document(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// analyze decodes text and selects every function in it. Each function is
// selected on its own so one bad function does not hide the others.
func analyze(text string) (*document, []protocol.Diagnostic) {
	doc := &document{text: text, units: make(map[string]*vm.CompiledFunction)}
	diagnostics := []protocol.Diagnostic{}

	mod, err := ir.Decode([]byte(text))
	if err != nil {
		line := 0
		var de *ir.DecodeError
		if errors.As(err, &de) && de.Line > 0 {
			line = de.Line - 1
		}
		diagnostics = append(diagnostics, diagnostic(line, err.Error()))
		return doc, diagnostics
	}
	doc.module = mod

	for _, fn := range mod.Functions {
		cf, err := isel.Select(fn)
		if err == nil {
			err = vm.Verify(cf)
		}
		if err != nil {
			diagnostics = append(diagnostics, diagnostic(functionLine(text, fn.Name), err.Error()))
			continue
		}
		doc.units[fn.Name] = cf
	}
	return doc, diagnostics
}

func diagnostic(line int, msg string) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := lspName
	pos := protocol.Position{Line: protocol.UInteger(line), Character: 0}
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: pos, End: pos},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

// functionLine returns the 0-based line declaring function name, or 0.
func functionLine(text, name string) int {
	if name == "" {
		return 0
	}
	for i, line := range strings.Split(text, "\n") {
		fields := strings.Fields(strings.TrimLeft(strings.TrimSpace(line), "- "))
		if len(fields) == 2 && fields[0] == "name:" && strings.Trim(fields[1], `"'`) == name {
			return i
		}
	}
	return 0
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(doc, prefix), nil
}

func complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for op := ir.OpIfTrue; ; op++ {
		if _, ok := ir.ParseAluOp(op.String()); !ok {
			break
		}
		add(op.String(), "operator", protocol.CompletionItemKindOperator)
	}
	for b := ir.BuiltinTypeof; b <= ir.BuiltinGetException; b++ {
		add(b.String(), "builtin", protocol.CompletionItemKindKeyword)
	}
	if doc.module != nil {
		for _, fn := range doc.module.Functions {
			add(fn.Name, "function", protocol.CompletionItemKindFunction)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(doc, word), nil
}

// hover shows the selected code of a function, or the definition of an
// operator name.
func hover(doc *document, word string) *protocol.Hover {
	if cf, ok := doc.units[word]; ok {
		var b strings.Builder
		fmt.Fprintf(&b, "**%s** (frame %d, %d bytes)\n\n", word, cf.FrameSize, len(cf.Code))
		b.WriteString("```\n")
		b.WriteString(cf.Disassemble())
		b.WriteString("\n```")
		return markdown(b.String())
	}
	if op, ok := ir.ParseAluOp(word); ok {
		return markdown(fmt.Sprintf("**%s**: IR operator", op))
	}
	if b, ok := ir.ParseBuiltin(word); ok {
		return markdown(fmt.Sprintf("**%s**: builtin", b))
	}
	return nil
}

func markdown(text string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil || doc.module == nil {
		return nil, nil
	}
	word := extractWord(doc.text, params.Position)
	if word == "" || doc.module.Lookup(word) == nil {
		return nil, nil
	}
	pos := protocol.Position{Line: protocol.UInteger(functionLine(doc.text, word)), Character: 0}
	return []protocol.Location{{
		URI:   params.TextDocument.URI,
		Range: protocol.Range{Start: pos, End: pos},
	}}, nil
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
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
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
