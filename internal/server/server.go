// Package server exposes the mirror engine as a language server. The client
// is the host editor: its document notifications drive the engine and the
// engine's edits go back through workspace/applyEdit.
package server

import (
	"context"
	"fmt"
	"subdoc/internal/config"
	"subdoc/internal/locate"
	"subdoc/internal/manager"
	"subdoc/internal/mirror"
	"subdoc/internal/scheduler"
	"sync"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

var log = commonlog.GetLogger("subdoc.server")

const Name = "subdoc"

const (
	CommandOpen      = "subdoc.open"
	CommandOpenNamed = "subdoc.openNamed"
	CommandClose     = "subdoc.close"
	CommandStatus    = "subdoc.status"
)

var Commands = []string{CommandOpen, CommandOpenNamed, CommandClose, CommandStatus}

type Options struct {
	// ConfigPath is an optional TOML file, reloaded when it changes.
	ConfigPath string
	Version    string
	Debug      bool
}

type Server struct {
	handler    *protocol.Handler
	lsp        *glspserver.Server
	version    string
	configPath string

	config    *config.Store
	manager   *manager.DocumentManager
	scheduler *scheduler.Scheduler
	locator   *locate.Locator
	client    *Client
	engine    *mirror.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	stopWatch func()
	closeOnce sync.Once
}

func NewServer(opts Options) (*Server, error) {
	s := &Server{
		version:    opts.Version,
		configPath: opts.ConfigPath,
		config:     config.NewStore(),
		manager:    manager.NewDocumentManager(),
		scheduler:  scheduler.NewScheduler(),
	}
	if s.configPath != "" {
		if err := s.config.LoadFile(s.configPath); err != nil {
			return nil, err
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.locator = locate.NewLocator(s.config)
	s.client = NewClient(s.manager)
	s.engine = mirror.NewEngine(mirror.Options{
		Editor:    s.client,
		Locator:   s.locator,
		Post:      s.scheduler.Post,
		Interval:  s.config.ThrottleInterval,
		Languages: s.config.Languages,
	})

	s.handler = &protocol.Handler{
		Initialize:                      s.initialize,
		Initialized:                     s.initialized,
		Shutdown:                        s.shutdown,
		Exit:                            s.exit,
		SetTrace:                        s.setTrace,
		WorkspaceDidChangeConfiguration: s.workspaceDidChangeConfiguration,
		WorkspaceExecuteCommand:         s.workspaceExecuteCommand,
		TextDocumentDidOpen:             s.textDocumentDidOpen,
		TextDocumentDidChange:           s.textDocumentDidChange,
		TextDocumentDidClose:            s.textDocumentDidClose,
	}
	s.lsp = glspserver.NewServer(s.handler, Name, opts.Debug)

	s.scheduler.RunScheduler()
	return s, nil
}

// Handler is the protocol handler the connection dispatches to.
func (s *Server) Handler() *protocol.Handler {
	return s.handler
}

func (s *Server) RunStdio() error {
	return s.lsp.RunStdio()
}

func (s *Server) RunTCP(address string) error {
	return s.lsp.RunTCP(address)
}

func (s *Server) RunWebSocket(address string) error {
	return s.lsp.RunWebSocket(address)
}

// Close ends every pairing, then stops the loop and the config watcher.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.scheduler.Post("shutdown", s.engine.Shutdown)
		s.scheduler.StopScheduler()
		s.cancel()

		s.mu.Lock()
		stop := s.stopWatch
		s.stopWatch = nil
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.locator.Close()
		s.manager.CloseAll()
		log.Info("server closed")
	})
}

// enqueue runs f on the loop. Handlers must never wait for it: client calls
// made by f are answered through the same connection that delivered the
// notification.
func (s *Server) enqueue(name string, f func() error) error {
	if err := s.scheduler.Schedule(scheduler.Task{Name: name, Execute: f}); err != nil {
		return fmt.Errorf("failed to queue %s: %w", name, err)
	}
	return nil
}
