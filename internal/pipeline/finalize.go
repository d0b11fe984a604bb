package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/summary"
	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

// Stop ends the recording and runs the session to completion: full
// transcription, persistence, summary, and action items. It returns the
// merged record once the session is Complete.
//
// A failed transcription ends the session in Error with nothing persisted
// and an error wrapping [ErrTranscription]. Summary or action-item failures
// do not fail the session; the record then carries an empty summary marked
// unavailable.
//
// Once issued, transcription and engine calls are not cancelled by ctx.
func (p *Pipeline) Stop(ctx context.Context) (*meeting.Record, error) {
	p.mu.Lock()
	s := p.session
	if p.state != StateRecording || s == nil {
		p.mu.Unlock()
		return nil, ErrNotRecording
	}
	p.state = StateFinalizing
	obs := p.observersLocked()
	p.mu.Unlock()
	notifyState(obs, Event{SessionID: s.id, State: StateFinalizing, Previous: StateRecording, At: p.now()})

	ctx = observe.WithSession(context.WithoutCancel(ctx), s.id)
	ctx, span := observe.StartSpan(ctx, "pipeline.finalize")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	s.cancel()
	rec, err := s.capture.Stop()
	if err != nil && !errors.Is(err, audio.ErrNotStarted) {
		log.Warn("pipeline: capture stop reported an error", "err", err)
	}
	<-s.done
	if d := s.capture.Dropped(); d > 0 {
		p.cfg.Metrics.RecordDropped(ctx, p.cfg.SourceName, int64(d))
	}
	log.Info("pipeline: recording stopped", "duration", rec.Duration(), "live_results", len(s.live))

	meetingID := store.NewID()
	path, keep, err := p.writeAudio(meetingID, rec)
	if err != nil {
		return nil, p.fail(ctx, s, fmt.Errorf("pipeline: write recording: %w", err))
	}

	res := p.cfg.Transcriber.TranscribeFile(ctx, path)
	p.cfg.Metrics.RecordSTT(ctx, res.Backend, "file", res.ProcessingTime, res.Error)
	if !keep || res.Failed() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("pipeline: remove recording", "path", path, "err", err)
		}
		keep = false
	}
	if res.Failed() {
		return nil, p.fail(ctx, s, fmt.Errorf("%w: %s", ErrTranscription, res.Error))
	}
	log.Info("pipeline: transcribed recording", "backend", res.Backend, "words", meeting.WordCount(res.Text), "elapsed", res.ProcessingTime)

	title := strings.TrimSpace(s.opts.Title)
	if title == "" {
		title = p.cfg.Summarizer.GenerateTitle(ctx, res.Text)
	}
	m := meeting.Meeting{
		ID:           meetingID,
		Title:        title,
		Date:         s.started,
		Duration:     rec.Duration(),
		Participants: s.opts.Participants,
		Tags:         s.opts.Tags,
		Notes:        s.opts.Context,
	}
	if keep {
		m.AudioPath = p.archive(ctx, path, meetingID)
	}
	tr := meeting.NewTranscript(meetingID, res)
	if err := p.persistTranscript(ctx, &m, &tr); err != nil {
		return nil, p.fail(ctx, s, err)
	}
	p.cfg.Metrics.RecordStage(ctx, "finalizing", time.Since(start))

	if !p.transition(s, StateSummarizing, meetingID) {
		return nil, ErrNotRecording
	}
	record, unavailable := p.summarize(ctx, m, tr, s.opts.Context)

	p.mu.Lock()
	p.state = StateComplete
	obs = p.observersLocked()
	p.mu.Unlock()

	p.cfg.Metrics.SessionEnded(ctx)
	log.Info("pipeline: session complete",
		"meeting_id", meetingID,
		"action_items", len(record.ActionItems),
		"summary_unavailable", unavailable,
		"elapsed", time.Since(start),
	)
	notifyState(obs, Event{SessionID: s.id, State: StateComplete, Previous: StateSummarizing, MeetingID: meetingID, At: p.now()})
	out := Outcome{SessionID: s.id, Record: record, SummaryUnavailable: unavailable}
	for _, o := range obs {
		o.OnComplete(out)
	}
	return &record, nil
}

// writeAudio stores the recording as WAV. keep reports whether the file is
// the meeting's permanent audio.
func (p *Pipeline) writeAudio(meetingID string, rec audio.Recording) (path string, keep bool, err error) {
	if p.cfg.AudioDir != "" {
		if err := os.MkdirAll(p.cfg.AudioDir, 0o755); err != nil {
			return "", false, err
		}
		path = filepath.Join(p.cfg.AudioDir, meetingID+".wav")
		return path, true, audio.WriteWAVFile(path, rec)
	}
	f, err := os.CreateTemp("", "minutes-*.wav")
	if err != nil {
		return "", false, err
	}
	path = f.Name()
	_ = f.Close()
	if err := audio.WriteWAVFile(path, rec); err != nil {
		_ = os.Remove(path)
		return "", false, err
	}
	return path, false, nil
}

// archive returns where the kept recording ends up: the archive location,
// or path when there is no archiver or the upload fails.
func (p *Pipeline) archive(ctx context.Context, path, meetingID string) string {
	if p.cfg.Archiver == nil {
		return path
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.archive")
	defer span.End()
	uri, err := p.cfg.Archiver.Archive(ctx, path, meetingID)
	if err != nil {
		observe.Logger(ctx).Warn("pipeline: archive recording, keeping the local copy", "path", path, "err", err)
		return path
	}
	observe.Logger(ctx).Info("pipeline: recording archived", "uri", uri)
	return uri
}

// persistTranscript writes the meeting and its transcript. If the transcript
// cannot be stored the meeting is removed again.
func (p *Pipeline) persistTranscript(ctx context.Context, m *meeting.Meeting, tr *meeting.Transcript) error {
	if err := p.cfg.Store.CreateMeeting(ctx, m); err != nil {
		return fmt.Errorf("pipeline: persist meeting: %w", err)
	}
	if err := p.cfg.Store.CreateTranscript(ctx, tr); err != nil {
		if derr := p.cfg.Store.DeleteMeeting(ctx, m.ID); derr != nil {
			observe.Logger(ctx).Warn("pipeline: roll back meeting", "meeting_id", m.ID, "err", derr)
		}
		return fmt.Errorf("pipeline: persist transcript: %w", err)
	}
	return nil
}

// summarize runs both engines concurrently, persists their output, and
// returns the merged record. Persistence failures here are logged; the
// transcript is already safe.
func (p *Pipeline) summarize(ctx context.Context, m meeting.Meeting, tr meeting.Transcript, meetingContext string) (meeting.Record, bool) {
	ctx, span := observe.StartSpan(ctx, "pipeline.summarize")
	defer span.End()
	log := observe.Logger(ctx).With("meeting_id", m.ID)
	start := time.Now()

	var (
		sr      summary.Result
		items   []meeting.ActionItem
		itemErr error
		g       errgroup.Group
	)
	g.Go(func() error {
		sr = p.cfg.Summarizer.Summarize(ctx, tr.FullText, m.Title, meetingContext)
		return nil
	})
	g.Go(func() error {
		items, itemErr = p.cfg.Extractor.Extract(ctx, tr.FullText, m.ID, m.Participants)
		return nil
	})
	_ = g.Wait()

	sum := sr.Summary(m.ID)
	if itemErr != nil {
		log.Warn("pipeline: action item extraction failed, marking summary unavailable", "err", itemErr)
		sum.Unavailable = true
	}
	if err := p.cfg.Store.CreateSummary(ctx, &sum); err != nil {
		log.Error("pipeline: persist summary", "err", err)
	}
	stored := make([]meeting.ActionItem, 0, len(items))
	for _, it := range items {
		it.MeetingID = m.ID
		if err := p.cfg.Store.CreateActionItem(ctx, &it); err != nil {
			log.Error("pipeline: persist action item", "task", it.Task, "err", err)
			continue
		}
		stored = append(stored, it)
	}
	p.cfg.Metrics.RecordStage(ctx, "summarizing", time.Since(start))

	return meeting.Record{Meeting: m, Transcript: tr, Summary: sum, ActionItems: stored}, sum.Unavailable
}

// Reprocess re-runs the summary and action-item engines over a stored
// transcript. The summary is replaced. Extracted items whose task already
// exists on the meeting are skipped, so edits to existing items survive.
// It does not touch the recording state machine.
func (p *Pipeline) Reprocess(ctx context.Context, meetingID string) (*meeting.Record, error) {
	m, err := p.cfg.Store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reprocess: %w", err)
	}
	tr, err := p.cfg.Store.GetTranscript(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reprocess: %w", err)
	}
	existing, err := p.cfg.Store.ListActionItems(ctx, store.ActionItemFilter{MeetingID: meetingID})
	if err != nil {
		return nil, fmt.Errorf("pipeline: reprocess: %w", err)
	}
	observe.Logger(ctx).Info("pipeline: reprocessing meeting", "meeting_id", meetingID)

	known := make(map[string]bool, len(existing))
	for _, it := range existing {
		known[strings.ToLower(strings.TrimSpace(it.Task))] = true
	}

	var (
		sr      summary.Result
		items   []meeting.ActionItem
		itemErr error
		g       errgroup.Group
	)
	g.Go(func() error {
		sr = p.cfg.Summarizer.Summarize(ctx, tr.FullText, m.Title, m.Notes)
		return nil
	})
	g.Go(func() error {
		items, itemErr = p.cfg.Extractor.Extract(ctx, tr.FullText, m.ID, m.Participants)
		return nil
	})
	_ = g.Wait()

	sum := sr.Summary(m.ID)
	if itemErr != nil {
		observe.Logger(ctx).Warn("pipeline: reprocess: action item extraction failed", "meeting_id", meetingID, "err", itemErr)
		sum.Unavailable = true
	}
	if err := p.cfg.Store.CreateSummary(ctx, &sum); err != nil {
		return nil, fmt.Errorf("pipeline: reprocess: persist summary: %w", err)
	}
	all := existing
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it.Task))
		if known[key] {
			continue
		}
		known[key] = true
		it.MeetingID = m.ID
		if err := p.cfg.Store.CreateActionItem(ctx, &it); err != nil {
			return nil, fmt.Errorf("pipeline: reprocess: persist action item: %w", err)
		}
		all = append(all, it)
	}
	return &meeting.Record{Meeting: m, Transcript: tr, Summary: sum, ActionItems: all}, nil
}
