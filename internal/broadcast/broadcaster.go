// Package broadcast fans events out to live subscribers grouped by sketch.
package broadcast

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sketchd/internal/cache"
	"sketchd/pkg/types"
)

// ErrClosed is returned by Subscribe after Shutdown.
var ErrClosed = errors.New("broadcaster closed")

var errNotReady = errors.New("transport not ready")

// PreviewSource supplies the current preview for newly connected clients.
type PreviewSource interface {
	Current(sketch string) (cache.Entry, bool)
}

// Subscriber is one live connection interested in one sketch.
type Subscriber struct {
	ID          string
	Sketch      string
	ConnectedAt time.Time

	// mu serializes sends on the transport and guards lastPing.
	mu       sync.Mutex
	lastPing time.Time
	t        Transport
}

// LastPing reports when the client last pinged, or ConnectedAt.
func (s *Subscriber) LastPing() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPing
}

func (s *Subscriber) sendLocked(b []byte) error {
	if !s.t.Ready() {
		return errNotReady
	}
	return s.t.Send(b)
}

func (s *Subscriber) send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(b)
}

// SubscriberInfo describes a subscriber for status endpoints.
type SubscriberInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastPing    time.Time `json:"last_ping"`
}

// Config encapsulates all tunables for Broadcaster construction.
type Config struct {
	Source PreviewSource
	// OnEmpty runs after the last subscriber of a sketch leaves.
	OnEmpty func(sketch string)
	Logger  zerolog.Logger
}

// Broadcaster owns the sketch -> subscriber sets.
type Broadcaster struct {
	source  PreviewSource
	log     zerolog.Logger
	started time.Time

	mu      sync.Mutex
	subs    map[string]map[string]*Subscriber
	onEmpty func(string)
	total   int64
	closed  bool
}

func New(cfg Config) *Broadcaster {
	return &Broadcaster{
		source:  cfg.Source,
		onEmpty: cfg.OnEmpty,
		log:     cfg.Logger,
		started: time.Now(),
		subs:    make(map[string]map[string]*Subscriber),
	}
}

// SetOnEmpty replaces the empty-set hook. Components that depend on each
// other are wired after construction through it.
func (b *Broadcaster) SetOnEmpty(fn func(sketch string)) {
	b.mu.Lock()
	b.onEmpty = fn
	b.mu.Unlock()
}

// Subscribe registers t for sketch, confirms the connection and sends the
// current preview when one exists. Events published concurrently are held
// back until the confirmation has been written.
func (b *Broadcaster) Subscribe(sketch string, t Transport) (*Subscriber, error) {
	now := time.Now()
	s := &Subscriber{
		ID:          uuid.NewString(),
		Sketch:      sketch,
		ConnectedAt: now,
		lastPing:    now,
		t:           t,
	}
	s.mu.Lock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.mu.Unlock()
		return nil, ErrClosed
	}
	set := b.subs[sketch]
	if set == nil {
		set = make(map[string]*Subscriber)
		b.subs[sketch] = set
	}
	set[s.ID] = s
	b.total++
	b.mu.Unlock()
	subscribersGauge.Inc()

	err := b.greetLocked(s)
	s.mu.Unlock()
	if err != nil {
		b.drop(s, err)
		return nil, err
	}
	b.log.Info().Str("sketch", sketch).Str("subscriber", s.ID).Msg("subscriber connected")
	return s, nil
}

func (b *Broadcaster) greetLocked(s *Subscriber) error {
	msg, err := json.Marshal(Event{
		Type:   TypeConnectionConfirmed,
		Sketch: s.Sketch,
		Fields: map[string]any{"subscriber_id": s.ID},
	})
	if err != nil {
		return err
	}
	if err := s.sendLocked(msg); err != nil {
		return err
	}
	if b.source == nil {
		return nil
	}
	if e, ok := b.source.Current(s.Sketch); ok {
		if msg, err = json.Marshal(PreviewUpdated(e, nil)); err != nil {
			return err
		}
		return s.sendLocked(msg)
	}
	return nil
}

// Publish serializes ev once and sends it to every subscriber of sketch.
// Subscribers whose send fails are removed. It returns how many received it.
func (b *Broadcaster) Publish(sketch string, ev Event) int {
	b.mu.Lock()
	set := b.subs[sketch]
	targets := make([]*Subscriber, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	b.mu.Unlock()
	if len(targets) == 0 {
		return 0
	}

	ev.Sketch = sketch
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("type", ev.Type).Msg("encode event")
		return 0
	}
	publishedTotal.WithLabelValues(ev.Type).Inc()

	delivered := 0
	for _, s := range targets {
		if err := s.send(msg); err != nil {
			b.drop(s, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Unsubscribe removes s. It reports false when s was already gone.
func (b *Broadcaster) Unsubscribe(s *Subscriber) bool {
	if s == nil {
		return false
	}
	return b.remove(s)
}

func (b *Broadcaster) drop(s *Subscriber, err error) {
	sendFailuresTotal.Inc()
	b.log.Warn().Err(err).Str("sketch", s.Sketch).Str("subscriber", s.ID).Msg("send failed; dropping subscriber")
	b.remove(s)
}

func (b *Broadcaster) remove(s *Subscriber) bool {
	b.mu.Lock()
	set := b.subs[s.Sketch]
	if set == nil || set[s.ID] != s {
		b.mu.Unlock()
		return false
	}
	delete(set, s.ID)
	empty := len(set) == 0
	if empty {
		delete(b.subs, s.Sketch)
	}
	onEmpty := b.onEmpty
	closed := b.closed
	b.mu.Unlock()

	subscribersGauge.Dec()
	_ = s.t.Close()
	b.log.Info().Str("sketch", s.Sketch).Str("subscriber", s.ID).Msg("subscriber disconnected")
	if empty && onEmpty != nil && !closed {
		onEmpty(s.Sketch)
	}
	return true
}

// HandleMessage processes one inbound client message.
func (b *Broadcaster) HandleMessage(s *Subscriber, raw []byte) error {
	var msg struct {
		Type string `json:"type"`
	}
	var reply Event
	if err := json.Unmarshal(raw, &msg); err != nil {
		reply = Event{Type: TypeError, Fields: map[string]any{"message": "Invalid JSON message"}}
	} else {
		switch msg.Type {
		case "ping":
			s.mu.Lock()
			s.lastPing = time.Now()
			s.mu.Unlock()
			reply = Event{Type: TypePong}
		case "force_refresh":
			reply = b.currentOrNone(s.Sketch)
		default:
			reply = Event{Type: TypeError, Fields: map[string]any{"message": "Unknown message type: " + msg.Type}}
		}
	}
	reply.Sketch = s.Sketch
	out, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	if err := s.send(out); err != nil {
		b.drop(s, err)
		return err
	}
	return nil
}

func (b *Broadcaster) currentOrNone(sketch string) Event {
	if b.source != nil {
		if e, ok := b.source.Current(sketch); ok {
			return PreviewUpdated(e, nil)
		}
	}
	return Event{Type: TypeNoPreview, Fields: map[string]any{"message": "No preview available"}}
}

// Count returns the number of subscribers for sketch.
func (b *Broadcaster) Count(sketch string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sketch])
}

// SketchStats describes the subscribers of sketch, oldest first.
func (b *Broadcaster) SketchStats(sketch string) []SubscriberInfo {
	b.mu.Lock()
	list := make([]*Subscriber, 0, len(b.subs[sketch]))
	for _, s := range b.subs[sketch] {
		list = append(list, s)
	}
	b.mu.Unlock()
	out := make([]SubscriberInfo, 0, len(list))
	for _, s := range list {
		out = append(out, SubscriberInfo{ID: s.ID, ConnectedAt: s.ConnectedAt, LastPing: s.LastPing()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Stats summarizes live connections.
func (b *Broadcaster) Stats() types.ConnectionStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := types.ConnectionStats{
		TotalConnections: b.total,
		ActiveSketches:   len(b.subs),
		UptimeSeconds:    int64(time.Since(b.started).Seconds()),
		Sketches:         make(map[string]int, len(b.subs)),
	}
	for sketch, set := range b.subs {
		st.Sketches[sketch] = len(set)
		st.ActiveConnections += len(set)
	}
	return st
}

// Shutdown notifies and closes every subscriber. The empty-set hook does
// not run. Later Subscribe calls fail with ErrClosed.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscriber
	for _, set := range b.subs {
		for _, s := range set {
			all = append(all, s)
		}
	}
	b.subs = make(map[string]map[string]*Subscriber)
	b.mu.Unlock()

	msg, _ := json.Marshal(Event{Type: TypeServerShutdown, Fields: map[string]any{"message": "Server is shutting down"}})
	for _, s := range all {
		_ = s.send(msg)
		_ = s.t.Close()
		subscribersGauge.Dec()
	}
	b.log.Info().Int("subscribers", len(all)).Msg("broadcaster shut down")
}
