package server

import (
	"encoding/json"
	"fmt"
	"subdoc/internal/config"
	"subdoc/internal/locate"

	"github.com/tidwall/gjson"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	s.client.Bind(context)

	if params.InitializationOptions != nil {
		if err := s.config.Set(config.LayerInit, params.InitializationOptions); err != nil {
			return nil, err
		}
	}
	log.Infof("config: %s", s.config.JSON())
	s.checkGrammars()

	if s.configPath != "" {
		s.mu.Lock()
		if s.stopWatch == nil {
			stop, err := s.config.Watch(s.configPath, func(cfg config.Config) {
				log.Infof("config reloaded, throttle %dms", cfg.ThrottleMs)
			})
			if err != nil {
				log.Warningf("not watching %s: %s", s.configPath, err.Error())
			} else {
				s.stopWatch = stop
			}
		}
		s.mu.Unlock()
	}

	syncKind := protocol.TextDocumentSyncKindIncremental

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: Commands,
	}

	version := s.version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	return nil
}

// shutdown closes every pairing. The engine needs the client to answer while
// it does so, hence the work is only queued here.
func (s *Server) shutdown(context *glsp.Context) error {
	s.client.Bind(context)
	return s.enqueue("shutdown", func() error {
		s.engine.Shutdown()
		return nil
	})
}

func (s *Server) exit(context *glsp.Context) error {
	// The connection is closed once this returns, which fails any client call
	// still pending on the loop.
	go s.Close()
	return nil
}

func (s *Server) setTrace(
	context *glsp.Context,
	params *protocol.SetTraceParams,
) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) workspaceDidChangeConfiguration(
	context *glsp.Context,
	params *protocol.DidChangeConfigurationParams,
) error {
	settings, err := clientSettings(params.Settings)
	if err != nil {
		return err
	}
	if err := s.config.Set(config.LayerClient, settings); err != nil {
		return err
	}
	log.Infof("config: %s", s.config.JSON())
	s.checkGrammars()
	return nil
}

func (s *Server) checkGrammars() {
	for language, grammar := range s.config.Config().SyntaxLanguages {
		if !locate.KnownGrammar(grammar) {
			log.Warningf("unknown grammar %q for %s", grammar, language)
		}
	}
}

// clientSettings picks the "subdoc" section out of the settings a client
// pushes. Clients that send the section alone are accepted too.
func clientSettings(settings any) (any, error) {
	if settings == nil {
		return nil, nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if section := gjson.GetBytes(data, Name); section.Exists() {
		if section.Type == gjson.Null {
			return nil, nil
		}
		return json.RawMessage(section.Raw), nil
	}
	return json.RawMessage(data), nil
}
