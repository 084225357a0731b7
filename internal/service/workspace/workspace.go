// Package workspace keeps the text of the documents a client has open.
package workspace

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"querydeck/internal/domain"
	"querydeck/internal/jsonrpc"
)

// Notifications consumed by the workspace.
const (
	NotifyDidOpen   = "textDocument/didOpen"
	NotifyDidChange = "textDocument/didChange"
	NotifyDidClose  = "textDocument/didClose"
)

// TextDocumentItem is an opened document.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId,omitempty"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier names a document at a version.
type VersionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

// TextDocumentIdentifier names a document.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// ContentChange replaces the whole document text.
type ContentChange struct {
	Text string `json:"text"`
}

// DidOpenParams is the payload of textDocument/didOpen.
type DidOpenParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeParams is the payload of textDocument/didChange.
type DidChangeParams struct {
	TextDocument   VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []ContentChange                 `json:"contentChanges"`
}

// DidCloseParams is the payload of textDocument/didClose.
type DidCloseParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type document struct {
	version int
	lines   []string
}

// Service implements domain.WorkspaceResolver over documents synced by the
// client.
type Service struct {
	logger *slog.Logger

	mu   sync.RWMutex
	docs map[string]*document
}

var _ domain.WorkspaceResolver = (*Service)(nil)

// NewService creates an empty workspace.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		logger: logger.With("component", "workspace"),
		docs:   make(map[string]*document),
	}
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// Open stores the text of a newly opened document.
func (s *Service) Open(p DidOpenParams) error {
	if p.TextDocument.URI == "" {
		return domain.ErrValidation("textDocument.uri is required")
	}
	s.mu.Lock()
	s.docs[p.TextDocument.URI] = &document{version: p.TextDocument.Version, lines: splitLines(p.TextDocument.Text)}
	s.mu.Unlock()
	s.logger.Debug("document opened", "owner_uri", p.TextDocument.URI, "version", p.TextDocument.Version)
	return nil
}

// Change applies full-text changes. Changes older than the stored version
// are ignored.
func (s *Service) Change(p DidChangeParams) error {
	if len(p.ContentChanges) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[p.TextDocument.URI]
	if !ok {
		return domain.ErrNotFound("document %s is not open", p.TextDocument.URI)
	}
	if p.TextDocument.Version < doc.version {
		return nil
	}
	doc.version = p.TextDocument.Version
	doc.lines = splitLines(p.ContentChanges[len(p.ContentChanges)-1].Text)
	return nil
}

// Close forgets a document.
func (s *Service) Close(p DidCloseParams) error {
	s.mu.Lock()
	delete(s.docs, p.TextDocument.URI)
	s.mu.Unlock()
	return nil
}

// GetText returns the whole document, or the text inside selection. The
// selection is zero-based and end-exclusive; positions past the end of a
// line or of the document are clamped.
func (s *Service) GetText(ownerURI string, selection *domain.SelectionRange) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[ownerURI]
	if !ok {
		return "", domain.ErrNotFound("document %s is not open", ownerURI)
	}
	if selection == nil {
		return strings.Join(doc.lines, "\n"), nil
	}
	return extract(doc.lines, *selection)
}

func extract(lines []string, sel domain.SelectionRange) (string, error) {
	if sel.StartLine < 0 || sel.StartColumn < 0 || sel.EndLine < 0 || sel.EndColumn < 0 {
		return "", domain.ErrValidation("selection positions must not be negative")
	}
	if sel.EndLine < sel.StartLine || (sel.EndLine == sel.StartLine && sel.EndColumn < sel.StartColumn) {
		return "", domain.ErrValidation("selection end precedes its start")
	}
	if sel.StartLine >= len(lines) {
		return "", nil
	}
	endLine, endCol := sel.EndLine, sel.EndColumn
	if endLine >= len(lines) {
		endLine = len(lines) - 1
		endCol = len([]rune(lines[endLine]))
	}

	if sel.StartLine == endLine {
		return runeSlice(lines[endLine], sel.StartColumn, endCol), nil
	}
	var b strings.Builder
	first := []rune(lines[sel.StartLine])
	b.WriteString(runeSlice(lines[sel.StartLine], sel.StartColumn, len(first)))
	for i := sel.StartLine + 1; i < endLine; i++ {
		b.WriteByte('\n')
		b.WriteString(lines[i])
	}
	b.WriteByte('\n')
	b.WriteString(runeSlice(lines[endLine], 0, endCol))
	return b.String(), nil
}

func runeSlice(line string, from, to int) string {
	r := []rune(line)
	if from > len(r) {
		from = len(r)
	}
	if to > len(r) {
		to = len(r)
	}
	if to < from {
		to = from
	}
	return string(r[from:to])
}

// Register installs the document sync notification handlers.
func (s *Service) Register(reg *jsonrpc.Registry) {
	reg.HandleNotification(NotifyDidOpen, notification(s.Open))
	reg.HandleNotification(NotifyDidChange, notification(s.Change))
	reg.HandleNotification(NotifyDidClose, notification(s.Close))
}

func notification[P any](fn func(P) error) jsonrpc.NotificationHandler {
	return func(_ context.Context, params json.RawMessage) error {
		p, err := jsonrpc.Decode[P](params)
		if err != nil {
			return err
		}
		return fn(p)
	}
}
