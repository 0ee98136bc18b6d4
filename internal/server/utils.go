package server

import (
	"net/url"
	"subdoc/internal/text"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// URIToPath returns the path part of uri. Anything that does not parse is
// returned as is.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return uri
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}

// UntitledURI names an unsaved buffer at path.
func UntitledURI(path string) string {
	return "untitled:" + path
}

func toPosition(p protocol.Position) text.Position {
	return text.Position{Line: int(p.Line), Character: int(p.Character)}
}

func fromPosition(p text.Position) protocol.Position {
	return protocol.Position{
		Line:      protocol.UInteger(max(p.Line, 0)),
		Character: protocol.UInteger(max(p.Character, 0)),
	}
}

func toRange(r protocol.Range) text.Range {
	return text.Range{Start: toPosition(r.Start), End: toPosition(r.End)}
}

func fromRange(r text.Range) protocol.Range {
	return protocol.Range{Start: fromPosition(r.Start), End: fromPosition(r.End)}
}
