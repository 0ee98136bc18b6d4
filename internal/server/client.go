package server

import (
	"errors"
	"fmt"
	"subdoc/internal/manager"
	"subdoc/internal/mirror"
	"subdoc/internal/text"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrNoClient = errors.New("no client connected")

const editLabel = "subdoc sync"

// Client is the mirror.Editor backed by the connected LSP client. Document
// text comes from the store fed by the client's notifications; everything
// else is a request to the client.
//
// Requests block until the client answers, so Client must only be used from
// the loop, never from a handler.
type Client struct {
	manager *manager.DocumentManager

	mu     sync.Mutex
	call   glsp.CallFunc
	notify glsp.NotifyFunc
}

func NewClient(dm *manager.DocumentManager) *Client {
	return &Client{manager: dm}
}

// Bind makes the client talk through the connection context belongs to.
func (c *Client) Bind(context *glsp.Context) {
	if context == nil || context.Call == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.call = context.Call
	c.notify = context.Notify
}

func (c *Client) funcs() (glsp.CallFunc, glsp.NotifyFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		return nil, nil, ErrNoClient
	}
	return c.call, c.notify, nil
}

func (c *Client) Document(uri string) (mirror.Document, error) {
	doc, err := c.manager.GetDocument(uri)
	if err != nil {
		return mirror.Document{}, err
	}
	return mirror.Document{URI: doc.URI, LanguageID: doc.LanguageID, Text: doc.Text}, nil
}

func (c *Client) ApplyEdit(uri string, edits []mirror.TextEdit) (bool, error) {
	call, _, err := c.funcs()
	if err != nil {
		return false, err
	}

	textEdits := make([]protocol.TextEdit, len(edits))
	for i, e := range edits {
		textEdits[i] = protocol.TextEdit{Range: fromRange(e.Range), NewText: e.NewText}
	}
	label := editLabel
	params := protocol.ApplyWorkspaceEditParams{
		Label: &label,
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentUri][]protocol.TextEdit{uri: textEdits},
		},
	}

	var result protocol.ApplyWorkspaceEditResponse
	call(protocol.ServerWorkspaceApplyEdit, params, &result)
	if !result.Applied && result.FailureReason != nil {
		log.Warningf("client refused edit of %s: %s", uri, *result.FailureReason)
	}
	return result.Applied, nil
}

// CreateDocument opens an unsaved buffer in the client. The buffer is known
// to the store from here on, before the client reports it open.
func (c *Client) CreateDocument(spec mirror.DocumentSpec) (string, error) {
	var uri string
	if spec.Path != "" {
		uri = UntitledURI(URIToPath(spec.Path))
	} else {
		uri = UntitledURI(fmt.Sprintf("subdoc-%s.%s", uuid.NewString(), spec.Language))
	}

	_, err := c.manager.GetDocument(uri)
	reserved := err != nil
	c.manager.Reserve(uri, spec.Language)
	if err := c.show(uri, nil); err != nil {
		if reserved {
			c.manager.Release(uri)
		}
		return "", fmt.Errorf("failed to create %s: %w", uri, err)
	}
	return uri, nil
}

// CloseDocument asks the client to drop the buffer.
func (c *Client) CloseDocument(uri string) error {
	call, _, err := c.funcs()
	if err != nil {
		return err
	}
	label := editLabel
	params := protocol.ApplyWorkspaceEditParams{
		Label: &label,
		Edit: protocol.WorkspaceEdit{
			DocumentChanges: []any{protocol.DeleteFile{
				Kind: "delete",
				URI:  uri,
				Options: &protocol.DeleteFileOptions{
					IgnoreIfNotExists: &protocol.True,
				},
			}},
		},
	}
	var result protocol.ApplyWorkspaceEditResponse
	call(protocol.ServerWorkspaceApplyEdit, params, &result)
	if !result.Applied {
		return fmt.Errorf("client did not close %s", uri)
	}
	c.manager.Release(uri)
	return nil
}

func (c *Client) ShowDocument(uri string, pos text.Position) error {
	return c.show(uri, &pos)
}

func (c *Client) show(uri string, pos *text.Position) error {
	call, _, err := c.funcs()
	if err != nil {
		return err
	}
	params := protocol.ShowDocumentParams{
		URI:       uri,
		TakeFocus: &protocol.True,
	}
	if pos != nil {
		r := fromRange(text.Range{Start: *pos, End: *pos})
		params.Selection = &r
	}
	var result protocol.ShowDocumentResult
	call(protocol.ServerWindowShowDocument, params, &result)
	if !result.Success {
		return fmt.Errorf("client could not show %s", uri)
	}
	return nil
}

func (c *Client) PickLanguage(candidates []string) (string, bool, error) {
	call, _, err := c.funcs()
	if err != nil {
		return "", false, err
	}
	actions := make([]protocol.MessageActionItem, len(candidates))
	for i, language := range candidates {
		actions[i] = protocol.MessageActionItem{Title: language}
	}

	var picked *protocol.MessageActionItem
	call(protocol.ServerWindowShowMessageRequest, protocol.ShowMessageRequestParams{
		Type:    protocol.MessageTypeInfo,
		Message: "Language of the mirror",
		Actions: actions,
	}, &picked)
	if picked == nil || picked.Title == "" {
		return "", false, nil
	}
	return picked.Title, true, nil
}

func (c *Client) ShowError(message string) {
	_, notify, err := c.funcs()
	if err != nil {
		log.Errorf("%s", message)
		return
	}
	notify(protocol.ServerWindowShowMessage, protocol.ShowMessageParams{
		Type:    protocol.MessageTypeError,
		Message: message,
	})
}
