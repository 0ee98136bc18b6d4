// Package mirror keeps an embedded region of a host document and a separate
// mirror document in sync, in both directions, until either side can no
// longer be tracked.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"subdoc/internal/locate"
	"subdoc/internal/text"
	"subdoc/internal/throttle"
	"subdoc/internal/track"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("subdoc.mirror")

const (
	ReasonReloading      = "Reloading."
	ReasonHostModified   = "Source document has been modified. This mirror can be closed."
	ReasonHostClosed     = "Source document closed. This mirror can be closed."
	ReasonMirrorClosed   = "Mirror document closed. This mirror can be closed."
	ReasonToHostFailed   = "Source document could not be synced with the mirror. This mirror can be closed."
	ReasonToMirrorFailed = "Mirror could not be synced with the source document. This mirror can be closed."
	ReasonClosed         = "Closed by request. This mirror can be closed."
	ReasonSessionEnded   = "Session ended. This mirror can be closed."
	ReasonDefault        = "This mirror can be closed."
)

var (
	ErrApplyRejected = errors.New("edit rejected by editor")
	ErrInvalidRange  = errors.New("range outside document")
	ErrShutdown      = errors.New("engine shut down")
	ErrPairingFailed = errors.New("pairing failed")
)

// NamedPath is where the named mirror of host in language lives. Opening the
// same host in the same language again reuses it.
func NamedPath(host, language string) string {
	return host + ".virtual." + language
}

type Options struct {
	Editor  Editor
	Locator Locator
	// Post runs f on the engine's loop. Throttled syncs are delivered through it.
	Post func(name string, f func())
	// Interval is read when a pairing starts.
	Interval func() time.Duration
	// Languages lists the picker candidates in order.
	Languages func() []string
}

// Engine owns the pairing table. Apart from Pairings, every method must be
// called from the loop that Options.Post feeds.
type Engine struct {
	editor    Editor
	locator   Locator
	post      func(string, func())
	interval  func() time.Duration
	languages func() []string

	table  *Table
	closed bool

	mu       sync.Mutex
	snapshot []Status
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		editor:    opts.Editor,
		locator:   opts.Locator,
		post:      opts.Post,
		interval:  opts.Interval,
		languages: opts.Languages,
		table:     NewTable(),
	}
	if e.post == nil {
		e.post = func(_ string, f func()) { f() }
	}
	if e.interval == nil {
		e.interval = func() time.Duration { return 100 * time.Millisecond }
	}
	if e.languages == nil {
		e.languages = func() []string { return nil }
	}
	return e
}

// Pairings returns the state published after the last change. It is safe to
// call from any goroutine.
func (e *Engine) Pairings() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Status(nil), e.snapshot...)
}

func (e *Engine) publish() {
	all := e.table.All()
	snapshot := make([]Status, 0, len(all))
	for _, p := range all {
		snapshot = append(snapshot, p.status())
	}
	e.mu.Lock()
	e.snapshot = snapshot
	e.mu.Unlock()
}

type OpenRequest struct {
	Host   string
	Cursor text.Position
	// Language of the mirror. The user is asked when empty.
	Language string
	Named    bool
}

// Open locates the embedded region under the cursor and starts a pairing for
// it. A cursor outside any region is not an error.
func (e *Engine) Open(ctx context.Context, req OpenRequest) error {
	if e.closed {
		return ErrShutdown
	}

	if old := e.table.Get(req.Host); old != nil && old.toHost.Pending() {
		// The flushed edit changes the host; locate again once its echo has
		// been applied.
		old.toHost.Flush()
		e.post("open", func() {
			if err := e.Open(ctx, req); err != nil {
				log.Errorf("failed to open mirror for %s: %s", req.Host, err.Error())
			}
		})
		return nil
	}

	doc, err := e.editor.Document(req.Host)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", req.Host, err)
	}

	offset := text.OffsetAt(doc.Text, req.Cursor)
	iv, ok, err := e.locator.Locate(ctx, doc.LanguageID, doc.Text, offset)
	if err != nil {
		var cfgErr *locate.ConfigError
		if errors.As(err, &cfgErr) {
			e.editor.ShowError(cfgErr.Error())
		}
		return fmt.Errorf("failed to locate region in %s: %w", req.Host, err)
	}
	if !ok {
		log.Infof("no embedded region at %s in %s (%s)", req.Cursor, req.Host, doc.LanguageID)
		return nil
	}

	language := req.Language
	if language == "" {
		language, ok, err = e.editor.PickLanguage(e.languages())
		if err != nil {
			return fmt.Errorf("failed to pick language: %w", err)
		}
		if !ok || language == "" {
			log.Debugf("language selection dismissed for %s", req.Host)
			return nil
		}
	}

	rng := text.Range{
		Start: text.PositionAt(doc.Text, iv.Start),
		End:   text.PositionAt(doc.Text, iv.End),
	}
	cursor := req.Cursor
	_, err = e.Activate(ActivateRequest{
		Host:     req.Host,
		Range:    rng,
		Language: language,
		Named:    req.Named,
		Cursor:   &cursor,
	})
	return err
}

type ActivateRequest struct {
	Host     string
	Range    text.Range
	Language string
	Named    bool
	// Cursor, when set, is moved into the mirror once it is live.
	Cursor *text.Position
}

// Activate pairs req.Range of the host with a new mirror. An existing pairing
// for the host is invalidated first.
func (e *Engine) Activate(req ActivateRequest) (st Status, err error) {
	if e.closed {
		return Status{}, ErrShutdown
	}

	if old := e.table.Get(req.Host); old != nil {
		// A named mirror for the same language is about to be reseeded, so
		// writing the reason into it would only flash.
		taint := !(old.named && req.Named && old.language == req.Language)
		e.teardown(old, ReasonReloading, taint)
	}

	host, err := e.editor.Document(req.Host)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read %s: %w", req.Host, err)
	}
	if !text.InBounds(host.Text, req.Range) {
		return Status{}, fmt.Errorf("%w: %s in %s", ErrInvalidRange, req.Range, req.Host)
	}

	p := &Pairing{
		host:     req.Host,
		language: req.Language,
		named:    req.Named,
		rng:      req.Range,
		state:    StateActivating,
	}
	interval := e.interval()
	p.toHost = throttle.New(interval, e.poster("toHost"), func() { e.syncToHost(p) })
	p.toMirror = throttle.New(interval, e.poster("toMirror"), func() { e.syncToMirror(p) })
	e.table.Put(p)
	e.publish()
	defer e.recoverPairing(p, ReasonToMirrorFailed, &err)

	spec := DocumentSpec{Language: req.Language}
	if req.Named {
		spec.Path = NamedPath(req.Host, req.Language)
	}
	uri, err := e.editor.CreateDocument(spec)
	if err != nil {
		p.mirrorClosed = true
		e.invalidate(p, ReasonDefault)
		return Status{}, fmt.Errorf("failed to create mirror for %s: %w", req.Host, err)
	}
	p.mirror = uri

	if err := e.copyToMirror(p, OriginActivating); err != nil {
		e.invalidate(p, ReasonToMirrorFailed)
		return Status{}, fmt.Errorf("failed to seed mirror %s: %w", uri, err)
	}
	p.state = StateLive
	e.publish()
	log.Infof("mirroring %s %s into %s (%s)", req.Host, p.rng, uri, req.Language)

	if req.Cursor != nil {
		if err := e.editor.ShowDocument(uri, TransferCursor(*req.Cursor, p.rng)); err != nil {
			log.Warningf("failed to move cursor into %s: %s", uri, err.Error())
		}
	}
	return p.status(), nil
}

func (e *Engine) poster(name string) func(func()) {
	return func(f func()) { e.post(name, f) }
}

// TransferCursor maps a host position to the matching mirror position. The
// column is only relative on the first line of the range.
func TransferCursor(cursor text.Position, rng text.Range) text.Position {
	pos := text.Position{
		Line:      cursor.Line - rng.Start.Line,
		Character: cursor.Character,
	}
	if pos.Line == 0 {
		pos.Character -= rng.Start.Character
	}
	if pos.Line < 0 {
		pos.Line = 0
	}
	if pos.Character < 0 {
		pos.Character = 0
	}
	return pos
}

// DidOpen handles a document reported open by the editor. A mirror opened
// with its seeded content already in place produces no change notification,
// so the seeding tag is consumed here.
func (e *Engine) DidOpen(uri, content string) {
	p := e.table.ByMirror(uri)
	if p == nil || p.origin != OriginActivating {
		return
	}
	host, err := e.editor.Document(p.host)
	if err != nil {
		return
	}
	if content == text.Slice(host.Text, p.rng) {
		p.origin = OriginUnknown
		e.publish()
	}
}

// DidChange routes an edit notification to the pairing that owns uri.
func (e *Engine) DidChange(uri string, changes []text.Change) {
	if p := e.table.Get(uri); p != nil {
		e.hostChanged(p, changes)
	}
	if p := e.table.ByMirror(uri); p != nil {
		e.mirrorChanged(p)
	}
}

func (e *Engine) hostChanged(p *Pairing, changes []text.Change) {
	defer e.recoverPairing(p, ReasonHostModified, nil)

	switch p.origin {
	case OriginDisposing:
		return
	case OriginFromMirror:
		p.origin = OriginUnknown
		e.publish()
		return
	}

	edits := make([]track.Edit, 0, len(changes))
	for _, c := range changes {
		if c.Range == nil {
			log.Infof("%s replaced as a whole", p.host)
			e.invalidate(p, ReasonHostModified)
			return
		}
		edits = append(edits, track.Edit{Range: *c.Range, Text: c.Text})
	}

	rng, touched, err := track.AdjustAll(p.rng, edits)
	if err != nil {
		log.Infof("%s: %s", p.host, err.Error())
		e.invalidate(p, ReasonHostModified)
		return
	}
	p.rng = rng
	e.publish()
	if touched {
		p.toMirror.Request()
	}
}

func (e *Engine) mirrorChanged(p *Pairing) {
	defer e.recoverPairing(p, ReasonToHostFailed, nil)

	switch p.origin {
	case OriginDisposing:
		return
	case OriginActivating, OriginFromHost:
		p.origin = OriginUnknown
		e.publish()
		return
	}
	p.toHost.Request()
}

// DidClose invalidates the pairing uri belongs to.
func (e *Engine) DidClose(uri string) {
	if p := e.table.Get(uri); p != nil {
		e.invalidate(p, ReasonHostClosed)
	}
	if p := e.table.ByMirror(uri); p != nil {
		p.mirrorClosed = true
		e.invalidate(p, ReasonMirrorClosed)
	}
}

// recoverPairing tears p down after a panic. When errp is set, the panic is
// reported through it.
func (e *Engine) recoverPairing(p *Pairing, reason string, errp *error) {
	if r := recover(); r != nil {
		log.Errorf("pairing for %s failed: %v", p.host, r)
		e.invalidate(p, reason)
		if errp != nil {
			*errp = fmt.Errorf("%w: %v", ErrPairingFailed, r)
		}
	}
}

func (e *Engine) syncToMirror(p *Pairing) {
	defer e.recoverPairing(p, ReasonToMirrorFailed, nil)

	if p.state != StateLive {
		return
	}
	if err := e.copyToMirror(p, OriginFromHost); err != nil {
		log.Errorf("failed to sync %s into %s: %s", p.host, p.mirror, err.Error())
		e.invalidate(p, ReasonToMirrorFailed)
	}
}

func (e *Engine) syncToHost(p *Pairing) {
	defer e.recoverPairing(p, ReasonToHostFailed, nil)

	if p.state != StateLive {
		return
	}
	if err := e.copyToHost(p); err != nil {
		log.Errorf("failed to sync %s into %s: %s", p.mirror, p.host, err.Error())
		e.invalidate(p, ReasonToHostFailed)
	}
}

// ToMirror copies the tracked region of host into its mirror right away.
func (e *Engine) ToMirror(host string) (err error) {
	p := e.table.Get(host)
	if p == nil {
		return fmt.Errorf("no mirror for %s", host)
	}
	defer e.recoverPairing(p, ReasonToMirrorFailed, &err)
	p.toMirror.Cancel()
	if err := e.copyToMirror(p, OriginFromHost); err != nil {
		e.invalidate(p, ReasonToMirrorFailed)
		return err
	}
	return nil
}

// ToHost copies the mirror of host back into the tracked region right away.
func (e *Engine) ToHost(host string) (err error) {
	p := e.table.Get(host)
	if p == nil {
		return fmt.Errorf("no mirror for %s", host)
	}
	defer e.recoverPairing(p, ReasonToHostFailed, &err)
	p.toHost.Cancel()
	if err := e.copyToHost(p); err != nil {
		e.invalidate(p, ReasonToHostFailed)
		return err
	}
	return nil
}

// copyToMirror replaces the whole mirror with the tracked region. Nothing is
// sent when the mirror already matches.
func (e *Engine) copyToMirror(p *Pairing, origin Origin) error {
	host, err := e.editor.Document(p.host)
	if err != nil {
		return fmt.Errorf("failed to read host: %w", err)
	}
	if !text.InBounds(host.Text, p.rng) {
		return fmt.Errorf("%w: %s", ErrInvalidRange, p.rng)
	}
	content := text.Slice(host.Text, p.rng)

	mirror, err := e.editor.Document(p.mirror)
	if err != nil {
		return fmt.Errorf("failed to read mirror: %w", err)
	}
	if mirror.Text == content {
		return nil
	}

	p.origin = origin
	e.publish()
	ok, err := e.editor.ApplyEdit(p.mirror, []TextEdit{{Range: text.Full(mirror.Text), NewText: content}})
	if err != nil {
		return fmt.Errorf("failed to edit mirror: %w", err)
	}
	if !ok {
		return ErrApplyRejected
	}
	return nil
}

// copyToHost replaces the tracked region with the whole mirror and refits the
// range to the new content.
func (e *Engine) copyToHost(p *Pairing) error {
	mirror, err := e.editor.Document(p.mirror)
	if err != nil {
		return fmt.Errorf("failed to read mirror: %w", err)
	}
	host, err := e.editor.Document(p.host)
	if err != nil {
		return fmt.Errorf("failed to read host: %w", err)
	}
	if !text.InBounds(host.Text, p.rng) {
		return fmt.Errorf("%w: %s", ErrInvalidRange, p.rng)
	}
	if text.Slice(host.Text, p.rng) == mirror.Text {
		return nil
	}

	p.origin = OriginFromMirror
	e.publish()
	ok, err := e.editor.ApplyEdit(p.host, []TextEdit{{Range: p.rng, NewText: mirror.Text}})
	if err != nil {
		return fmt.Errorf("failed to edit host: %w", err)
	}
	if !ok {
		return ErrApplyRejected
	}
	p.rng = track.Fit(p.rng.Start, mirror.Text)
	e.publish()
	return nil
}

// Invalidate tears down the pairing of host.
func (e *Engine) Invalidate(host, reason string) bool {
	p := e.table.Get(host)
	if p == nil {
		return false
	}
	e.invalidate(p, reason)
	return true
}

func (e *Engine) invalidate(p *Pairing, reason string) {
	e.teardown(p, reason, true)
}

// teardown closes p. Anonymous mirrors are discarded; named mirrors are
// overwritten with reason unless taint is false. Calling it again is a no-op.
func (e *Engine) teardown(p *Pairing, reason string, taint bool) {
	if p.state == StateClosed {
		return
	}
	p.state = StateClosed
	p.origin = OriginDisposing
	p.toHost.Cancel()
	p.toMirror.Cancel()
	e.table.Delete(p)
	e.publish()

	log.Infof("closing mirror %s of %s: %s", p.mirror, p.host, reason)
	if p.mirror == "" || p.mirrorClosed {
		return
	}

	if !p.named {
		if err := e.editor.CloseDocument(p.mirror); err != nil {
			log.Warningf("failed to close mirror %s: %s", p.mirror, err.Error())
		}
		return
	}
	if !taint {
		return
	}
	if reason == "" {
		reason = ReasonDefault
	}
	doc, err := e.editor.Document(p.mirror)
	if err != nil {
		log.Warningf("failed to read mirror %s: %s", p.mirror, err.Error())
		return
	}
	ok, err := e.editor.ApplyEdit(p.mirror, []TextEdit{{Range: text.Full(doc.Text), NewText: reason}})
	if err != nil {
		log.Warningf("failed to mark mirror %s: %s", p.mirror, err.Error())
	} else if !ok {
		log.Warningf("failed to mark mirror %s: %s", p.mirror, ErrApplyRejected.Error())
	}
}

// CloseAll flushes pending mirror edits into their hosts and invalidates every
// pairing with reason. It returns the number of pairings closed.
func (e *Engine) CloseAll(reason string) int {
	all := e.table.All()
	for _, p := range all {
		p.toHost.Flush()
	}
	n := 0
	for _, p := range e.table.All() {
		e.invalidate(p, reason)
		n++
	}
	return n
}

// Shutdown closes every pairing and refuses new ones.
func (e *Engine) Shutdown() {
	if e.closed {
		return
	}
	n := e.CloseAll(ReasonSessionEnded)
	e.closed = true
	log.Infof("engine stopped, %d mirror(s) closed", n)
}
