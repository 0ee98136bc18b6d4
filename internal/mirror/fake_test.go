package mirror_test

import (
	"fmt"
	"subdoc/internal/locate"
	"subdoc/internal/mirror"
	"subdoc/internal/text"
	"sync"
	"testing"
	"time"
)

// loop stands in for the scheduler. Posted work only runs when the test drains
// it, so everything the engine does happens on the test goroutine.
type loop struct {
	mu sync.Mutex
	q  []func()
}

func (l *loop) post(_ string, f func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.q = append(l.q, f)
}

func (l *loop) drain() {
	for {
		l.mu.Lock()
		if len(l.q) == 0 {
			l.mu.Unlock()
			return
		}
		f := l.q[0]
		l.q = l.q[1:]
		l.mu.Unlock()
		f()
	}
}

// waitUntil drains the loop until cond holds.
func (l *loop) waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		l.drain()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// settle keeps draining for d so late timers get a chance to fire.
func (l *loop) settle(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		l.drain()
		time.Sleep(2 * time.Millisecond)
	}
	l.drain()
}

type fakeDoc struct {
	lang string
	text string
}

type shown struct {
	uri string
	pos text.Position
}

// fakeEditor behaves like an LSP client: edits it applies are echoed back as
// change notifications through the loop.
type fakeEditor struct {
	engine *mirror.Engine
	loop   *loop

	docs   map[string]*fakeDoc
	nextID int

	reject    map[string]bool
	// panics makes edits of a document blow up, as a dropped connection does.
	panics    map[string]string
	createErr error
	// openWithContent makes created documents report their first edit
	// through didOpen instead of a change notification.
	openWithContent bool
	unopened        map[string]bool

	edits   map[string]int
	created []mirror.DocumentSpec
	closed  []string
	shown   []shown
	errors  []string

	candidates []string
	pick       string
	pickOK     bool
}

func newFakeEditor(l *loop) *fakeEditor {
	return &fakeEditor{
		loop:     l,
		docs:     make(map[string]*fakeDoc),
		reject:   make(map[string]bool),
		panics:   make(map[string]string),
		unopened: make(map[string]bool),
		edits:    make(map[string]int),
	}
}

func (f *fakeEditor) Document(uri string) (mirror.Document, error) {
	d, ok := f.docs[uri]
	if !ok {
		return mirror.Document{}, fmt.Errorf("no document %s", uri)
	}
	return mirror.Document{URI: uri, LanguageID: d.lang, Text: d.text}, nil
}

func (f *fakeEditor) ApplyEdit(uri string, edits []mirror.TextEdit) (bool, error) {
	d, ok := f.docs[uri]
	if !ok {
		return false, fmt.Errorf("no document %s", uri)
	}
	if msg, ok := f.panics[uri]; ok {
		panic(msg)
	}
	if f.reject[uri] {
		return false, nil
	}
	changes := make([]text.Change, len(edits))
	for i, e := range edits {
		r := e.Range
		changes[i] = text.Change{Range: &r, Text: e.NewText}
	}
	d.text = text.Apply(d.text, changes)
	f.edits[uri]++

	if f.unopened[uri] {
		delete(f.unopened, uri)
		content := d.text
		f.loop.post("didOpen", func() { f.engine.DidOpen(uri, content) })
		return true, nil
	}
	f.loop.post("didChange", func() { f.engine.DidChange(uri, changes) })
	return true, nil
}

func (f *fakeEditor) CreateDocument(spec mirror.DocumentSpec) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, spec)

	var uri string
	if spec.Path != "" {
		uri = "untitled:" + spec.Path
	} else {
		f.nextID++
		uri = fmt.Sprintf("untitled:subdoc-%d.%s", f.nextID, spec.Language)
	}
	if _, ok := f.docs[uri]; ok {
		return uri, nil
	}
	f.docs[uri] = &fakeDoc{lang: spec.Language}
	if f.openWithContent {
		f.unopened[uri] = true
	} else {
		f.loop.post("didOpen", func() { f.engine.DidOpen(uri, "") })
	}
	return uri, nil
}

func (f *fakeEditor) CloseDocument(uri string) error {
	f.closed = append(f.closed, uri)
	delete(f.docs, uri)
	f.loop.post("didClose", func() { f.engine.DidClose(uri) })
	return nil
}

func (f *fakeEditor) ShowDocument(uri string, pos text.Position) error {
	f.shown = append(f.shown, shown{uri: uri, pos: pos})
	return nil
}

func (f *fakeEditor) PickLanguage(candidates []string) (string, bool, error) {
	f.candidates = candidates
	return f.pick, f.pickOK, nil
}

func (f *fakeEditor) ShowError(message string) {
	f.errors = append(f.errors, message)
}

// typeIn is a user edit: applied directly and notified without going through
// the loop.
func (f *fakeEditor) typeIn(uri string, r text.Range, s string) {
	d := f.docs[uri]
	d.text = text.Replace(d.text, r, s)
	f.engine.DidChange(uri, []text.Change{{Range: &r, Text: s}})
}

func (f *fakeEditor) text(uri string) string {
	if d, ok := f.docs[uri]; ok {
		return d.text
	}
	return ""
}

type source struct {
	patterns map[string]string
}

func (s source) Pattern(language string) (string, bool) {
	p, ok := s.patterns[language]
	return p, ok
}

func (s source) Grammar(language string) (string, bool) {
	if language == "javascript" {
		return "javascript", true
	}
	return "", false
}

const (
	hostURI  = "file:///w/page.txt"
	hostText = "intro\nconst t = `<p>hi</p>`;\nend\n"
)

var regionRange = text.Range{
	Start: text.Position{Line: 1, Character: 11},
	End:   text.Position{Line: 1, Character: 20},
}

type harness struct {
	loop   *loop
	editor *fakeEditor
	engine *mirror.Engine
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	l := &loop{}
	f := newFakeEditor(l)
	locator := locate.NewLocator(source{patterns: map[string]string{
		"plaintext": "(`)([^`]*)(`)",
		"broken":    "(`)([^`]*",
	}})
	t.Cleanup(locator.Close)

	e := mirror.NewEngine(mirror.Options{
		Editor:    f,
		Locator:   locator,
		Post:      l.post,
		Interval:  func() time.Duration { return interval },
		Languages: func() []string { return []string{"html", "css"} },
	})
	f.engine = e
	return &harness{loop: l, editor: f, engine: e}
}

func (h *harness) addHost(uri, lang, content string) {
	h.editor.docs[uri] = &fakeDoc{lang: lang, text: content}
}

// only returns the single live pairing.
func (h *harness) only(t *testing.T) mirror.Status {
	t.Helper()
	all := h.engine.Pairings()
	if len(all) != 1 {
		t.Fatalf("got %d pairings, want 1", len(all))
	}
	return all[0]
}
