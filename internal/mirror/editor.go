package mirror

import (
	"context"
	"subdoc/internal/locate"
	"subdoc/internal/text"
)

// Document is a buffer as the editor currently reports it.
type Document struct {
	URI        string
	LanguageID string
	Text       string
}

type TextEdit struct {
	Range   text.Range
	NewText string
}

// DocumentSpec describes a mirror to create. An empty Path asks for an
// anonymous document.
type DocumentSpec struct {
	Language string
	Path     string
}

// Editor is the host editor the engine drives. Calls may block until the
// editor answers.
type Editor interface {
	Document(uri string) (Document, error)
	// ApplyEdit reports false when the editor refused the edit.
	ApplyEdit(uri string, edits []TextEdit) (bool, error)
	CreateDocument(spec DocumentSpec) (string, error)
	CloseDocument(uri string) error
	ShowDocument(uri string, pos text.Position) error
	// PickLanguage asks the user to choose; ok is false when they dismissed
	// the prompt.
	PickLanguage(candidates []string) (language string, ok bool, err error)
	ShowError(message string)
}

type Locator interface {
	Locate(ctx context.Context, language, content string, offset int) (locate.Interval, bool, error)
}
