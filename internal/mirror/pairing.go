package mirror

import (
	"sort"
	"subdoc/internal/text"
	"subdoc/internal/throttle"
)

// Origin records which side of a pairing the next expected edit notification
// comes from. It is set just before the engine edits a buffer and consumed by
// the first notification for that buffer.
type Origin int

const (
	OriginUnknown Origin = iota
	// OriginActivating marks the edit that seeds a new mirror.
	OriginActivating
	// OriginFromHost marks a host to mirror copy; the mirror echo is expected.
	OriginFromHost
	// OriginFromMirror marks a mirror to host copy; the host echo is expected.
	OriginFromMirror
	// OriginDisposing silences every notification once teardown started.
	OriginDisposing
)

func (o Origin) String() string {
	switch o {
	case OriginActivating:
		return "activating"
	case OriginFromHost:
		return "fromHost"
	case OriginFromMirror:
		return "fromMirror"
	case OriginDisposing:
		return "disposing"
	default:
		return "unknown"
	}
}

type State int

const (
	StateNone State = iota
	StateActivating
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActivating:
		return "activating"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "none"
	}
}

// Pairing links a host document region to the mirror document showing it.
// It is only touched from the engine's loop.
type Pairing struct {
	host     string
	mirror   string
	language string
	named    bool
	rng      text.Range
	origin   Origin
	state    State

	mirrorClosed bool

	toHost   *throttle.Throttler
	toMirror *throttle.Throttler
}

func (p *Pairing) status() Status {
	return Status{
		Host:     p.host,
		Mirror:   p.mirror,
		Language: p.language,
		Named:    p.named,
		Range:    p.rng,
		State:    p.state,
		Origin:   p.origin,
	}
}

// Status is a copy of a pairing's observable state.
type Status struct {
	Host     string     `json:"host"`
	Mirror   string     `json:"mirror"`
	Language string     `json:"language"`
	Named    bool       `json:"named"`
	Range    text.Range `json:"range"`
	State    State      `json:"-"`
	Origin   Origin     `json:"-"`
}

// Table holds the pairings of one engine, keyed by host URI. There is at most
// one pairing per host.
type Table struct {
	byHost map[string]*Pairing
}

func NewTable() *Table {
	return &Table{byHost: make(map[string]*Pairing)}
}

func (t *Table) Get(host string) *Pairing {
	return t.byHost[host]
}

// Put stores p, replacing any pairing for the same host.
func (t *Table) Put(p *Pairing) {
	t.byHost[p.host] = p
}

// Delete removes p if it is still the pairing stored for its host.
func (t *Table) Delete(p *Pairing) {
	if t.byHost[p.host] == p {
		delete(t.byHost, p.host)
	}
}

// ByMirror finds the pairing whose mirror is uri.
func (t *Table) ByMirror(uri string) *Pairing {
	if uri == "" {
		return nil
	}
	for _, p := range t.byHost {
		if p.mirror == uri {
			return p
		}
	}
	return nil
}

// All returns the pairings ordered by host URI.
func (t *Table) All() []*Pairing {
	all := make([]*Pairing, 0, len(t.byHost))
	for _, p := range t.byHost {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].host < all[j].host })
	return all
}
