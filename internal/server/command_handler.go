package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"subdoc/internal/mirror"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var ErrBadArguments = errors.New("bad command arguments")

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	s.client.Bind(context)
	log.Debugf("command %s %v", params.Command, params.Arguments)

	switch params.Command {
	case CommandOpen:
		return nil, s.open(params.Arguments, false)
	case CommandOpenNamed:
		return nil, s.open(params.Arguments, true)
	case CommandClose:
		return nil, s.enqueue("close", func() error {
			n := s.engine.CloseAll(mirror.ReasonClosed)
			log.Infof("closed %d mirror(s)", n)
			return nil
		})
	case CommandStatus:
		return s.engine.Pairings(), nil
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

// open queues the activation; the result reaches the client as a shown
// document, not as the command's response.
func (s *Server) open(arguments []any, named bool) error {
	req, err := ParseOpenArguments(arguments)
	if err != nil {
		return err
	}
	req.Named = named
	return s.enqueue("open "+req.Host, func() error {
		return s.engine.Open(s.ctx, req)
	})
}

// ParseOpenArguments reads [uri, position, language?] as sent with the open
// commands.
func ParseOpenArguments(arguments []any) (mirror.OpenRequest, error) {
	if len(arguments) < 2 || len(arguments) > 3 {
		return mirror.OpenRequest{}, fmt.Errorf("%w: want [uri, position, language?], got %d values", ErrBadArguments, len(arguments))
	}

	// Arguments arrive as decoded JSON; round-trip them into typed values.
	data, err := json.Marshal(arguments)
	if err != nil {
		return mirror.OpenRequest{}, fmt.Errorf("%w: %s", ErrBadArguments, err.Error())
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return mirror.OpenRequest{}, fmt.Errorf("%w: %s", ErrBadArguments, err.Error())
	}

	var req mirror.OpenRequest
	if err := json.Unmarshal(raw[0], &req.Host); err != nil || req.Host == "" {
		return mirror.OpenRequest{}, fmt.Errorf("%w: uri must be a non-empty string", ErrBadArguments)
	}
	var pos protocol.Position
	if err := json.Unmarshal(raw[1], &pos); err != nil {
		return mirror.OpenRequest{}, fmt.Errorf("%w: position: %s", ErrBadArguments, err.Error())
	}
	req.Cursor = toPosition(pos)
	if len(raw) == 3 && string(raw[2]) != "null" {
		if err := json.Unmarshal(raw[2], &req.Language); err != nil {
			return mirror.OpenRequest{}, fmt.Errorf("%w: language must be a string", ErrBadArguments)
		}
	}
	return req, nil
}
