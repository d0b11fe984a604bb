package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
//
// Providers report failures inside [stt.Result] rather than as errors, so a
// failed result counts as a failure here and the next backend is asked. The
// served result carries the serving backend's name in Backend. When every
// backend fails the last failed result is returned.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// resultError carries a failed result through the fallback group.
type resultError struct {
	res stt.Result
}

func (e *resultError) Error() string { return e.res.Backend + ": " + e.res.Error }

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Name returns the primary backend's name.
func (f *STTFallback) Name() string { return f.group.Primary().Name() }

// Status reports the per-backend breaker states.
func (f *STTFallback) Status() []BreakerStatus { return f.group.Status() }

// TranscribeFile transcribes path with the first backend that succeeds.
func (f *STTFallback) TranscribeFile(ctx context.Context, path string) stt.Result {
	return f.run(ctx, func(p stt.Provider) stt.Result { return p.TranscribeFile(ctx, path) })
}

// TranscribeChunk transcribes sig with the first backend that succeeds.
func (f *STTFallback) TranscribeChunk(ctx context.Context, sig audio.Signal) stt.Result {
	return f.run(ctx, func(p stt.Provider) stt.Result { return p.TranscribeChunk(ctx, sig) })
}

func (f *STTFallback) run(ctx context.Context, call func(stt.Provider) stt.Result) stt.Result {
	started := time.Now()
	res, name, err := executeNamed(f.group, func(p stt.Provider) (stt.Result, error) {
		r := call(p)
		if r.Backend == "" {
			r.Backend = p.Name()
		}
		if r.Failed() {
			if ctx.Err() != nil {
				return r, ctx.Err()
			}
			return r, &resultError{res: r}
		}
		return r, nil
	})
	if err == nil {
		if res.Backend == "" {
			res.Backend = name
		}
		return res
	}

	var re *resultError
	if errors.As(err, &re) {
		failed := re.res
		failed.Error = err.Error()
		failed.ProcessingTime = time.Since(started)
		return failed
	}
	return stt.Failure(f.Name(), err, started)
}
