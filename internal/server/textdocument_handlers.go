package server

import (
	"fmt"
	"subdoc/internal/text"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// The document store is only written from the loop, in the same task that
// hands the notification to the engine, so the engine never reads text that
// is ahead of or behind the range it tracks.

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	s.client.Bind(context)
	doc := params.TextDocument
	return s.enqueue("didOpen "+doc.URI, func() error {
		s.manager.OpenDocument(doc.URI, doc.LanguageID, doc.Version, doc.Text)
		s.engine.DidOpen(doc.URI, doc.Text)
		return nil
	})
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	s.client.Bind(context)
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changes, err := contentChanges(params.ContentChanges)
	if err != nil {
		return err
	}
	return s.enqueue("didChange "+uri, func() error {
		if err := s.manager.ApplyChanges(uri, version, changes); err != nil {
			return err
		}
		s.engine.DidChange(uri, changes)
		return nil
	})
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	s.client.Bind(context)
	uri := params.TextDocument.URI
	return s.enqueue("didClose "+uri, func() error {
		s.engine.DidClose(uri)
		s.manager.Release(uri)
		return nil
	})
}

// contentChanges converts change events. A whole-document event becomes a
// change without a range.
func contentChanges(events []any) ([]text.Change, error) {
	changes := make([]text.Change, 0, len(events))
	for _, raw := range events {
		switch change := raw.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if change.Range == nil {
				changes = append(changes, text.Change{Text: change.Text})
				continue
			}
			r := toRange(*change.Range)
			changes = append(changes, text.Change{Range: &r, Text: change.Text})
		case protocol.TextDocumentContentChangeEventWhole:
			changes = append(changes, text.Change{Text: change.Text})
		default:
			return nil, fmt.Errorf("unexpected change event type %T", raw)
		}
	}
	return changes, nil
}
