package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("subdoc.config")

type Config struct {
	// Regexes maps a language id to an expression with three groups: opening
	// delimiter, body and closing delimiter.
	Regexes map[string]string `json:"regexes" toml:"regexes"`
	// Languages are offered, in order, when a mirror is opened without one.
	Languages  []string `json:"languages" toml:"languages"`
	ThrottleMs int      `json:"throttle_ms" toml:"throttle_ms"`
	// SyntaxLanguages maps a language id to a tree-sitter grammar name.
	SyntaxLanguages map[string]string `json:"syntax_languages" toml:"syntax_languages"`
}

const DefaultThrottle = 100 * time.Millisecond

var defaultConfig = Config{
	Regexes:    map[string]string{},
	Languages:  []string{"html", "css", "json", "markdown", "sql", "graphql", "xml", "yaml"},
	ThrottleMs: int(DefaultThrottle / time.Millisecond),
	SyntaxLanguages: map[string]string{
		"javascript":      "javascript",
		"javascriptreact": "javascript",
		"typescript":      "typescript",
		"typescriptreact": "tsx",
	},
}

// Default returns a copy of the built-in configuration.
func Default() Config {
	return decode(defaultJSON())
}

func defaultJSON() []byte {
	data, err := json.Marshal(defaultConfig)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal default config: %v", err))
	}
	return data
}

// Load overlays v, any JSON-marshalable value, on the defaults. Only fields
// present in v overwrite.
func Load(v any) (Config, error) {
	s := NewStore()
	if err := s.Set(LayerInit, v); err != nil {
		return Config{}, err
	}
	return s.Config(), nil
}

// Layer identifies a configuration source. Higher layers win.
type Layer int

const (
	LayerFile Layer = iota
	LayerInit
	LayerClient
	layerCount
)

func (l Layer) String() string {
	switch l {
	case LayerFile:
		return "file"
	case LayerInit:
		return "initializationOptions"
	case LayerClient:
		return "workspace/didChangeConfiguration"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Store merges configuration sources over the defaults. Raw JSON is kept so
// lookups can check value types instead of failing the whole decode.
type Store struct {
	mu     sync.RWMutex
	layers [layerCount][]byte
	merged []byte
	cfg    Config
}

func NewStore() *Store {
	s := &Store{}
	s.rebuild()
	return s
}

// Set replaces the contents of layer with v. A nil v clears the layer.
func (s *Store) Set(layer Layer, v any) error {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("failed to marshal %s settings: %w", layer, err)
		}
		if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
			if string(data) == "null" {
				data = nil
			} else {
				return fmt.Errorf("%s settings must be an object", layer)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers[layer] = data
	s.rebuild()
	return nil
}

// LoadFile reads a TOML file into the file layer. A missing file clears it.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("config file %s does not exist", path)
			return s.Set(LayerFile, nil)
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return s.Set(LayerFile, raw)
}

// rebuild must be called with mu held.
func (s *Store) rebuild() {
	merged := defaultJSON()
	for _, layer := range s.layers {
		if layer == nil {
			continue
		}
		merged = merge(merged, layer)
	}
	s.merged = merged
	s.cfg = decode(merged)
}

// merge overlays the top-level keys of layer on base. Objects are merged one
// level deep so a layer can override a single language's pattern.
func merge(base, layer []byte) []byte {
	gjson.ParseBytes(layer).ForEach(func(key, value gjson.Result) bool {
		path := escape(key.String())
		if value.IsObject() && gjson.GetBytes(base, path).IsObject() {
			value.ForEach(func(sub, v gjson.Result) bool {
				base = set(base, path+"."+escape(sub.String()), v.Raw)
				return true
			})
			return true
		}
		base = set(base, path, value.Raw)
		return true
	})
	return base
}

func set(doc []byte, path, raw string) []byte {
	out, err := sjson.SetRawBytes(doc, path, []byte(raw))
	if err != nil {
		log.Warningf("ignoring setting %s: %s", path, err.Error())
		return doc
	}
	return out
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

func escape(key string) string {
	return pathEscaper.Replace(key)
}

// decode builds a Config from merged JSON. Entries of the wrong type are
// dropped rather than rejected.
func decode(data []byte) Config {
	doc := gjson.ParseBytes(data)
	cfg := Config{
		Regexes:         stringMap(doc.Get("regexes")),
		SyntaxLanguages: stringMap(doc.Get("syntax_languages")),
		ThrottleMs:      int(doc.Get("throttle_ms").Int()),
	}
	for _, v := range doc.Get("languages").Array() {
		if v.Type == gjson.String && v.String() != "" {
			cfg.Languages = append(cfg.Languages, v.String())
		}
	}
	return cfg
}

func stringMap(obj gjson.Result) map[string]string {
	m := make(map[string]string)
	obj.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			m[key.String()] = value.String()
		}
		return true
	})
	return m
}

// Config returns the merged configuration.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// JSON returns the merged settings document.
func (s *Store) JSON() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.merged...)
}

// Pattern returns the expression configured for language. Values that are not
// strings are treated as absent.
func (s *Store) Pattern(language string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := gjson.GetBytes(s.merged, "regexes."+escape(language))
	if v.Type != gjson.String {
		return "", false
	}
	return v.String(), true
}

// Grammar returns the tree-sitter grammar configured for language.
func (s *Store) Grammar(language string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := gjson.GetBytes(s.merged, "syntax_languages."+escape(language))
	if v.Type != gjson.String || v.String() == "" {
		return "", false
	}
	return v.String(), true
}

func (s *Store) ThrottleInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.ThrottleMs <= 0 {
		return DefaultThrottle
	}
	return time.Duration(s.cfg.ThrottleMs) * time.Millisecond
}

func (s *Store) Languages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.cfg.Languages...)
}
