package resilience

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/provider/stt"
	sttmock "github.com/MrWong99/minutes/pkg/provider/stt/mock"
)

func okResult(text string) stt.Result {
	return stt.Result{Text: text, Segments: []stt.Segment{{Text: text, End: 1}}}
}

func failResult(msg string) stt.Result {
	return stt.Result{Segments: []stt.Segment{}, Error: msg}
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "whisper-local", FileResult: okResult("hello")}
	secondary := &sttmock.Provider{ProviderName: "openai", FileResult: okResult("remote")}

	fb := NewSTTFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res := fb.TranscribeFile(context.Background(), "meeting.wav")
	if res.Failed() || res.Text != "hello" {
		t.Fatalf("res = %+v", res)
	}
	if res.Backend != "whisper-local" {
		t.Errorf("Backend = %q", res.Backend)
	}
	if secondary.FileCallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.FileCallCount())
	}
	if fb.Name() != "whisper-local" {
		t.Errorf("Name = %q", fb.Name())
	}
}

func TestSTTFallback_FailedResultFailsOver(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "whisper-local", ChunkResult: failResult("model not loaded")}
	secondary := &sttmock.Provider{ProviderName: "openai", ChunkResult: okResult("from remote")}

	fb := NewSTTFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res := fb.TranscribeChunk(context.Background(), audio.Signal{Samples: make([]float32, 160), SampleRate: 16000})
	if res.Failed() {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Text != "from remote" || res.Backend != "openai" {
		t.Errorf("res = %+v, want remote result labelled openai", res)
	}
	if primary.ChunkCallCount() != 1 || secondary.ChunkCallCount() != 1 {
		t.Errorf("calls: primary %d, secondary %d", primary.ChunkCallCount(), secondary.ChunkCallCount())
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "whisper-local", FileResult: failResult("cuda error")}
	secondary := &sttmock.Provider{ProviderName: "openai", FileResult: failResult("HTTP 500")}

	fb := NewSTTFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res := fb.TranscribeFile(context.Background(), "meeting.wav")
	if !res.Failed() {
		t.Fatal("expected a failed result")
	}
	if res.Text != "" || len(res.Segments) != 0 {
		t.Errorf("failed result carries content: %+v", res)
	}
	if !strings.Contains(res.Error, "all providers failed") || !strings.Contains(res.Error, "HTTP 500") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSTTFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &sttmock.Provider{ProviderName: "whisper-local", ChunkResult: failResult("boom")}
	secondary := &sttmock.Provider{ProviderName: "openai", ChunkResult: okResult("ok")}

	fb := NewSTTFallback(primary, "whisper-local", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("openai", secondary)

	sig := audio.Signal{Samples: make([]float32, 160), SampleRate: 16000}
	for range 4 {
		fb.TranscribeChunk(context.Background(), sig)
	}
	if primary.ChunkCallCount() != 2 {
		t.Errorf("primary called %d times, want 2 before the breaker opened", primary.ChunkCallCount())
	}
	if st := fb.Status(); st[0].State != "open" {
		t.Errorf("primary breaker = %+v", st[0])
	}
}

func TestSTTFallback_CancelledCallDoesNotFailOver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &sttmock.Provider{ProviderName: "whisper-local", ChunkResult: failResult("context canceled")}
	secondary := &sttmock.Provider{ProviderName: "openai", ChunkResult: okResult("late")}

	fb := NewSTTFallback(primary, "whisper-local", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res := fb.TranscribeChunk(ctx, audio.Signal{Samples: make([]float32, 160), SampleRate: 16000})
	if !res.Failed() {
		t.Fatal("expected a failed result")
	}
	if secondary.ChunkCallCount() != 0 {
		t.Error("cancelled call should not reach the fallback")
	}
}
