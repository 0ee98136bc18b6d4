package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"subdoc/internal/config"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s := config.NewStore()
	cfg := s.Config()

	if len(cfg.Languages) == 0 || cfg.Languages[0] != "html" {
		t.Errorf("Languages = %v, want html first", cfg.Languages)
	}
	if got := s.ThrottleInterval(); got != 100*time.Millisecond {
		t.Errorf("ThrottleInterval() = %v, want 100ms", got)
	}
	if g, ok := s.Grammar("typescript"); !ok || g != "typescript" {
		t.Errorf("Grammar(typescript) = %q, %v", g, ok)
	}
	if _, ok := s.Pattern("html"); ok {
		t.Error("no pattern should be configured by default")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		input any
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name:  "empty object keeps defaults",
			input: map[string]any{},
			check: func(t *testing.T, cfg config.Config) {
				if !reflect.DeepEqual(cfg, config.Default()) {
					t.Errorf("cfg = %+v, want defaults", cfg)
				}
			},
		},
		{
			name:  "nil keeps defaults",
			input: nil,
			check: func(t *testing.T, cfg config.Config) {
				if cfg.ThrottleMs != 100 {
					t.Errorf("ThrottleMs = %d", cfg.ThrottleMs)
				}
			},
		},
		{
			name: "overrides merge per language",
			input: json.RawMessage(`{
				"regexes": {"plaintext": "(`+"`"+`)([^`+"`"+`]*)(`+"`"+`)", "bad": 5},
				"syntax_languages": {"javascript": "tsx"},
				"throttle_ms": 250
			}`),
			check: func(t *testing.T, cfg config.Config) {
				if _, ok := cfg.Regexes["plaintext"]; !ok {
					t.Error("plaintext pattern missing")
				}
				if _, ok := cfg.Regexes["bad"]; ok {
					t.Error("non-string pattern should be dropped")
				}
				if cfg.SyntaxLanguages["javascript"] != "tsx" {
					t.Errorf("javascript grammar = %q", cfg.SyntaxLanguages["javascript"])
				}
				if cfg.SyntaxLanguages["typescript"] != "typescript" {
					t.Error("unrelated default grammar was dropped")
				}
				if cfg.ThrottleMs != 250 {
					t.Errorf("ThrottleMs = %d", cfg.ThrottleMs)
				}
			},
		},
		{
			name:  "languages replace the list",
			input: map[string]any{"languages": []string{"sql", "css"}},
			check: func(t *testing.T, cfg config.Config) {
				if !reflect.DeepEqual(cfg.Languages, []string{"sql", "css"}) {
					t.Errorf("Languages = %v", cfg.Languages)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(tt.input)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadRejectsNonObject(t *testing.T) {
	if _, err := config.Load([]string{"html"}); err == nil {
		t.Error("expected an error for a non-object value")
	}
}

func TestLayerPriority(t *testing.T) {
	s := config.NewStore()
	dir := t.TempDir()
	path := filepath.Join(dir, "subdoc.toml")
	toml := "throttle_ms = 300\n\n[regexes]\nhtml = \"(<!--)(.*?)(-->)\"\nsql = \"(')([^']*)(')\"\n"
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if err := s.Set(config.LayerInit, map[string]any{"regexes": map[string]any{"html": "(a)(b)(c)"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(config.LayerClient, map[string]any{"throttle_ms": 50}); err != nil {
		t.Fatal(err)
	}

	if p, _ := s.Pattern("html"); p != "(a)(b)(c)" {
		t.Errorf("html pattern = %q, want the initialization override", p)
	}
	if p, _ := s.Pattern("sql"); p != "(')([^']*)(')" {
		t.Errorf("sql pattern = %q, want the file value", p)
	}
	if got := s.ThrottleInterval(); got != 50*time.Millisecond {
		t.Errorf("ThrottleInterval() = %v, want 50ms", got)
	}

	// Clearing a layer falls back to the one below.
	if err := s.Set(config.LayerClient, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.ThrottleInterval(); got != 300*time.Millisecond {
		t.Errorf("ThrottleInterval() = %v, want 300ms", got)
	}
}

func TestPatternTypeCheck(t *testing.T) {
	s := config.NewStore()
	if err := s.Set(config.LayerClient, map[string]any{"regexes": map[string]any{"html": true, "a.b": "(x)(y)(z)"}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Pattern("html"); ok {
		t.Error("boolean pattern should be treated as absent")
	}
	if p, ok := s.Pattern("a.b"); !ok || p != "(x)(y)(z)" {
		t.Errorf("Pattern(a.b) = %q, %v", p, ok)
	}
}

func TestLoadFileMissing(t *testing.T) {
	s := config.NewStore()
	if err := s.LoadFile(filepath.Join(t.TempDir(), "nope.toml")); err != nil {
		t.Errorf("LoadFile() error = %v, want nil for a missing file", err)
	}
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("throttle_ms = = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := config.NewStore().LoadFile(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdoc.toml")
	if err := os.WriteFile(path, []byte("throttle_ms = 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := config.NewStore()
	if err := s.LoadFile(path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan config.Config, 8)
	stop, err := s.Watch(path, func(cfg config.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("throttle_ms = 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.ThrottleMs == 20 {
				return
			}
		case <-deadline:
			t.Fatal("configuration was not reloaded")
		}
	}
}
