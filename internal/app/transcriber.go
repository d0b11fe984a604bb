package app

import (
	"errors"
	"log/slog"

	"github.com/MrWong99/minutes/internal/resilience"
	"github.com/MrWong99/minutes/pkg/provider/stt"
)

// ErrNoTranscriber is returned when neither the local model nor the remote
// service can serve transcription.
var ErrNoTranscriber = errors.New("app: no transcription backend available")

// LocalTranscriber is an on-device backend whose model may be missing.
type LocalTranscriber interface {
	stt.Provider
	Available() bool
}

// SelectTranscriber picks the backend for a session. When the local model
// is requested and available, it serves first and the remote service takes over
// after failures. An unavailable local model degrades to remote with a
// warning. local and remote may be nil; fb configures the breakers when
// both serve.
func SelectTranscriber(useLocal bool, local LocalTranscriber, remote stt.Provider, fb resilience.FallbackConfig) (stt.Provider, error) {
	if !useLocal || local == nil {
		if remote == nil {
			return nil, ErrNoTranscriber
		}
		return remote, nil
	}

	if !local.Available() {
		if remote == nil {
			return nil, ErrNoTranscriber
		}
		slog.Warn("local transcription unavailable, using remote service",
			"requested", local.Name(),
			"serving", remote.Name(),
			"reason", "model missing or failed to load",
		)
		return remote, nil
	}
	if remote == nil {
		slog.Info("transcription backend selected", "backend", local.Name())
		return local, nil
	}

	group := resilience.NewSTTFallback(local, local.Name(), fb)
	group.AddFallback(remote.Name(), remote)
	slog.Info("transcription backend selected", "backend", local.Name(), "fallback", remote.Name())
	return group, nil
}
