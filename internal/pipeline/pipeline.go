// Package pipeline runs a recording session from first audio chunk to the
// persisted meeting record.
//
// While recording, every captured chunk is preprocessed and transcribed by a
// small bounded worker pool for the live view. Stopping releases the audio
// device, runs one authoritative transcription over the whole recording,
// persists the meeting and transcript, and then runs the summary and
// action-item engines concurrently. Only one session runs at a time.
//
// Live results are advisory. They are delivered in completion order, and
// results that finish after the session left the Recording state are
// discarded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/summary"
	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/audio/preprocess"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/provider/stt"
	"github.com/MrWong99/minutes/pkg/store"
)

var (
	// ErrSessionActive is returned by Start while a session is recording,
	// finalizing, or summarizing.
	ErrSessionActive = errors.New("pipeline: a session is already active")

	// ErrNotRecording is returned by Stop when no session is recording.
	ErrNotRecording = errors.New("pipeline: no session is recording")

	// ErrTranscription is returned by Stop when the full-recording
	// transcription fails. Nothing is persisted in that case.
	ErrTranscription = errors.New("pipeline: transcription failed")
)

// Defaults for [Config].
const (
	DefaultChunkDuration = 5 * time.Second
	DefaultLiveWorkers   = 2
)

// Summarizer produces the structured summary and the meeting title.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, title, meetingContext string) summary.Result
	GenerateTitle(ctx context.Context, transcript string) string
}

// Extractor produces action items for a transcript. A non-nil error marks
// the extraction as failed; the returned items are still used.
type Extractor interface {
	Extract(ctx context.Context, transcript, meetingID string, participants []string) ([]meeting.ActionItem, error)
}

// Archiver copies a kept recording to long-term storage and returns the
// location recorded as the meeting's audio path.
type Archiver interface {
	Archive(ctx context.Context, localPath, meetingID string) (string, error)
}

// Config holds the collaborators and tuning of a [Pipeline].
type Config struct {
	Source      audio.Source
	Transcriber stt.Provider
	Summarizer  Summarizer
	Extractor   Extractor
	Store       store.Store

	// Metrics may be nil.
	Metrics *observe.Metrics

	// SourceName labels audio metrics. Defaults to "audio".
	SourceName string

	ChunkDuration time.Duration
	LiveWorkers   int
	Preprocess    preprocess.Config

	// AudioDir keeps each recording as <meeting-id>.wav. When empty the
	// recording goes to a temporary file that is removed after
	// transcription.
	AudioDir string

	// Archiver, if set, uploads kept recordings. A failed upload leaves the
	// local path on the meeting.
	Archiver Archiver
}

// StartOptions describe the meeting being recorded.
type StartOptions struct {
	// Title is used as is. When empty a title is generated from the
	// transcript.
	Title string `json:"title,omitempty"`

	// DeviceIndex selects the input device; nil uses the default.
	DeviceIndex *int `json:"device_index,omitempty"`

	Participants []string `json:"participants,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// Context is free text handed to the summary engine, such as the
	// meeting agenda.
	Context string `json:"context,omitempty"`
}

// Pipeline orchestrates recording sessions. All methods are safe for
// concurrent use.
type Pipeline struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	starting  bool
	gen       uint64
	session   *session
	lastErr   string
	meetingID string
	observers map[int]Observer
	nextObs   int
}

// session is the state of one recording. Fields below mu are guarded by
// Pipeline.mu.
type session struct {
	id      string
	gen     uint64
	opts    StartOptions
	started time.Time
	capture audio.Capture
	cancel  context.CancelFunc

	// done is closed when the chunk reader and every live worker returned.
	done chan struct{}

	live []string
}

// New returns an idle Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.LiveWorkers <= 0 {
		cfg.LiveWorkers = DefaultLiveWorkers
	}
	if cfg.SourceName == "" {
		cfg.SourceName = "audio"
	}
	return &Pipeline{cfg: cfg, now: time.Now, observers: make(map[int]Observer)}
}

// Subscribe registers o for notifications and returns a function that
// removes it.
func (p *Pipeline) Subscribe(o Observer) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = o
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the current state with the live transcript so far.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := Snapshot{
		State:     p.state,
		MeetingID: p.meetingID,
		LastError: p.lastErr,
		LiveText:  []string{},
	}
	if s := p.session; s != nil {
		snap.SessionID = s.id
		snap.StartedAt = s.started
		snap.Elapsed = p.now().Sub(s.started)
		snap.LiveText = slices.Clone(s.live)
	}
	return snap
}

// Start opens the audio device and begins recording. It fails with
// [ErrSessionActive] unless the pipeline is idle, complete, or failed. A
// device that cannot be opened or started leaves the state unchanged.
//
// The session outlives ctx; only values such as the trace are kept.
func (p *Pipeline) Start(ctx context.Context, opts StartOptions) error {
	p.mu.Lock()
	if p.starting || !p.state.canStart() {
		p.mu.Unlock()
		return ErrSessionActive
	}
	p.starting = true
	p.mu.Unlock()

	s, liveCtx, chunks, err := p.open(ctx, opts)

	p.mu.Lock()
	p.starting = false
	if err != nil {
		p.mu.Unlock()
		return err
	}
	prev := p.state
	p.gen++
	s.gen = p.gen
	p.session = s
	p.state = StateRecording
	p.lastErr = ""
	p.meetingID = ""
	obs := p.observersLocked()
	p.mu.Unlock()

	p.cfg.Metrics.SessionStarted(ctx)
	observe.Logger(ctx).Info("pipeline: session started", "session_id", s.id, "participants", len(opts.Participants))
	notifyState(obs, Event{SessionID: s.id, State: StateRecording, Previous: prev, At: p.now()})

	go p.consume(observe.WithSession(liveCtx, s.id), s, chunks)
	return nil
}

// open starts capture under a context that lives until the session's cancel
// is called. Live workers run under the same context.
func (p *Pipeline) open(ctx context.Context, opts StartOptions) (*session, context.Context, <-chan audio.Chunk, error) {
	capture, err := p.cfg.Source.Open(ctx, opts.DeviceIndex)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pipeline: open device: %w", err)
	}
	liveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	chunks, err := capture.Start(liveCtx, p.cfg.ChunkDuration)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("pipeline: start capture: %w", err)
	}
	s := &session{
		id:      store.NewID(),
		opts:    opts,
		started: p.now(),
		capture: capture,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	return s, liveCtx, chunks, nil
}

// consume feeds captured chunks to the live workers until capture ends. A
// capture that ends with an error while still recording fails the session.
func (p *Pipeline) consume(ctx context.Context, s *session, chunks <-chan audio.Chunk) {
	defer close(s.done)

	// The pending queue decouples the capture loop from slow transcription:
	// a saturated pool skips live text, never audio.
	pending := make(chan audio.Chunk, p.cfg.LiveWorkers*4)
	var g errgroup.Group
	g.SetLimit(p.cfg.LiveWorkers)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for c := range pending {
			g.Go(func() error {
				p.transcribeLive(ctx, s, c)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for c := range chunks {
		p.cfg.Metrics.RecordChunk(ctx, p.cfg.SourceName)
		select {
		case pending <- c:
		default:
			p.cfg.Metrics.RecordDiscarded(ctx)
			slog.Debug("pipeline: live pool saturated, skipping chunk", "session_id", s.id, "seq", c.Seq)
		}
	}
	close(pending)
	<-dispatched

	if err := s.capture.Err(); err != nil {
		p.captureFailed(ctx, s, err)
	}
}

// transcribeLive preprocesses and transcribes one chunk for the live view.
func (p *Pipeline) transcribeLive(ctx context.Context, s *session, c audio.Chunk) {
	if p.stale(s) {
		p.cfg.Metrics.RecordDiscarded(ctx)
		return
	}
	sig := preprocess.ProcessChunk(c, p.cfg.Preprocess)
	if sig.Empty() {
		return
	}
	res := p.cfg.Transcriber.TranscribeChunk(ctx, sig)
	p.cfg.Metrics.RecordSTT(ctx, res.Backend, "chunk", res.ProcessingTime, res.Error)
	if res.Failed() {
		slog.Debug("pipeline: live transcription failed", "session_id", s.id, "seq", c.Seq, "err", res.Error)
		return
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}

	p.mu.Lock()
	if p.session != s || p.gen != s.gen || p.state != StateRecording || ctx.Err() != nil {
		p.mu.Unlock()
		p.cfg.Metrics.RecordDiscarded(ctx)
		slog.Debug("pipeline: discarding stale live result", "session_id", s.id, "seq", c.Seq)
		return
	}
	s.live = append(s.live, text)
	obs := p.observersLocked()
	p.mu.Unlock()

	lt := LiveText{SessionID: s.id, Seq: c.Seq, Text: text, Backend: res.Backend}
	for _, o := range obs {
		o.OnLiveTranscript(lt)
	}
}

func (p *Pipeline) stale(s *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != s || p.state != StateRecording
}

// captureFailed moves a still-recording session to Error and releases the
// device.
func (p *Pipeline) captureFailed(ctx context.Context, s *session, err error) {
	p.mu.Lock()
	if p.session != s || p.state != StateRecording {
		p.mu.Unlock()
		return
	}
	p.state = StateError
	p.lastErr = err.Error()
	obs := p.observersLocked()
	p.mu.Unlock()

	s.cancel()
	if _, serr := s.capture.Stop(); serr != nil {
		slog.Warn("pipeline: release device after capture failure", "session_id", s.id, "err", serr)
	}
	p.cfg.Metrics.SessionEnded(ctx)
	observe.Logger(ctx).Error("pipeline: capture failed", "err", err)

	ev := Event{SessionID: s.id, State: StateError, Previous: StateRecording, Err: err.Error(), At: p.now()}
	notifyState(obs, ev)
	for _, o := range obs {
		o.OnError(ev)
	}
}

// transition moves s from one state to another and notifies observers. It
// reports false when s is no longer the active session.
func (p *Pipeline) transition(s *session, to State, meetingID string) bool {
	p.mu.Lock()
	if p.session != s {
		p.mu.Unlock()
		return false
	}
	from := p.state
	p.state = to
	if meetingID != "" {
		p.meetingID = meetingID
	}
	obs := p.observersLocked()
	p.mu.Unlock()

	notifyState(obs, Event{SessionID: s.id, State: to, Previous: from, MeetingID: meetingID, At: p.now()})
	return true
}

// fail moves s to Error, notifies observers, and returns err.
func (p *Pipeline) fail(ctx context.Context, s *session, err error) error {
	p.mu.Lock()
	from := p.state
	p.state = StateError
	p.lastErr = err.Error()
	obs := p.observersLocked()
	p.mu.Unlock()

	p.cfg.Metrics.SessionEnded(ctx)
	observe.RecordError(ctx, err)
	observe.Logger(ctx).Error("pipeline: session failed", "state", from.String(), "err", err)

	ev := Event{SessionID: s.id, State: StateError, Previous: from, Err: err.Error(), At: p.now()}
	notifyState(obs, ev)
	for _, o := range obs {
		o.OnError(ev)
	}
	return err
}

func (p *Pipeline) observersLocked() []Observer {
	out := make([]Observer, 0, len(p.observers))
	for _, o := range p.observers {
		out = append(out, o)
	}
	return out
}

func notifyState(obs []Observer, ev Event) {
	for _, o := range obs {
		o.OnStateChange(ev)
	}
}
