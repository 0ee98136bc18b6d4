package manager

import (
	"errors"
	"fmt"
	"sort"
	"subdoc/internal/text"
	"sync"
)

var ErrNotOpen = errors.New("document not open")

// Document is the last known state of a buffer open in the client.
type Document struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
	// Reserved documents were created by the server and have not been
	// reported open by the client yet.
	Reserved bool
}

// DocumentManager keeps the text of every open URI as reported by the client.
type DocumentManager struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewDocumentManager creates an initialized DocumentManager.
func NewDocumentManager() *DocumentManager {
	return &DocumentManager{
		docs: make(map[string]*Document),
	}
}

// OpenDocument records a didOpen. It replaces any earlier state for uri.
func (dm *DocumentManager) OpenDocument(uri, languageID string, version int32, content string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.docs[uri] = &Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    version,
		Text:       content,
	}
}

// Reserve registers a document the server asked the client to create, so it
// can be read and edited before the client reports it open. Existing state is
// kept.
func (dm *DocumentManager) Reserve(uri, languageID string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, ok := dm.docs[uri]; ok {
		return
	}
	dm.docs[uri] = &Document{URI: uri, LanguageID: languageID, Reserved: true}
}

// GetDocument returns a copy of the current state for a URI.
func (dm *DocumentManager) GetDocument(uri string) (Document, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	doc, ok := dm.docs[uri]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotOpen, uri)
	}
	return *doc, nil
}

// ApplyChanges applies incremental or whole-document changes in order.
func (dm *DocumentManager) ApplyChanges(uri string, version int32, changes []text.Change) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	doc, ok := dm.docs[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, uri)
	}
	doc.Text = text.Apply(doc.Text, changes)
	doc.Version = version
	return nil
}

// IsOpen reports whether the client has reported uri open.
func (dm *DocumentManager) IsOpen(uri string) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	doc, ok := dm.docs[uri]
	return ok && !doc.Reserved
}

// URIs returns the known URIs in sorted order.
func (dm *DocumentManager) URIs() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	uris := make([]string, 0, len(dm.docs))
	for uri := range dm.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Release forgets a URI.
func (dm *DocumentManager) Release(uri string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.docs, uri)
}

// CloseAll forgets every document.
func (dm *DocumentManager) CloseAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.docs = make(map[string]*Document)
}
