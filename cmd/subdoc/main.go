package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"subdoc/internal/server"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

func main() {
	versionFlag := flag.Bool("version", false, "Print the version of the program")
	logFile := flag.String("logfile", filepath.Join(os.TempDir(), "subdoc.log"), "Log file, empty for stderr")
	verbosity := flag.Int("v", 1, "Log verbosity")
	configPath := flag.String("config", "", "TOML configuration file, reloaded on change")
	tcpAddress := flag.String("tcp", "", "Listen for TCP connections on this address instead of stdio")
	wsAddress := flag.String("websocket", "", "Listen for WebSocket connections on this address instead of stdio")
	debug := flag.Bool("debug", false, "Log every JSON-RPC message")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("subdoc LSP server version %s\n", Version)
		return
	}

	// Stdout carries the protocol when serving stdio.
	if *logFile == "" {
		commonlog.Configure(*verbosity, nil)
	} else {
		commonlog.Configure(*verbosity, logFile)
	}
	log := commonlog.GetLogger("subdoc")
	log.Infof("starting subdoc LSP server %s", Version)

	s, err := server.NewServer(server.Options{
		ConfigPath: *configPath,
		Version:    Version,
		Debug:      *debug,
	})
	if err != nil {
		log.Criticalf("failed to create server: %s", err.Error())
		os.Exit(1)
	}
	defer s.Close()

	switch {
	case *tcpAddress != "":
		err = s.RunTCP(*tcpAddress)
	case *wsAddress != "":
		err = s.RunWebSocket(*wsAddress)
	default:
		err = s.RunStdio()
	}
	if err != nil {
		log.Errorf("server error: %s", err.Error())
		s.Close()
		os.Exit(1)
	}
}
