package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

// backendGroup builds a group whose entries are their own names.
func backendGroup(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failing    []string
		cancelled  bool
		wantCalled []string
		wantErr    error
	}{
		{name: "primary serves", wantCalled: []string{"whisper-local"}},
		{name: "primary fails", failing: []string{"whisper-local"}, wantCalled: []string{"whisper-local", "openai"}},
		{
			name:       "every backend fails",
			failing:    []string{"whisper-local", "openai", "whisper-server"},
			wantCalled: []string{"whisper-local", "openai", "whisper-server"},
			wantErr:    ErrAllFailed,
		},
		{name: "cancellation stops the walk", cancelled: true, wantCalled: []string{"whisper-local"}, wantErr: context.Canceled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := backendGroup(FallbackConfig{}, "whisper-local", "openai", "whisper-server")

			var called []string
			err := fg.Execute(func(backend string) error {
				called = append(called, backend)
				if tc.cancelled {
					return context.Canceled
				}
				if slices.Contains(tc.failing, backend) {
					return fmt.Errorf("%s: %w", backend, errTest)
				}
				return nil
			})
			if !slices.Equal(called, tc.wantCalled) {
				t.Errorf("called = %v, want %v", called, tc.wantCalled)
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.cancelled && errors.Is(err, ErrAllFailed) {
				t.Error("cancellation reported as ErrAllFailed")
			}
			if errors.Is(err, ErrAllFailed) && !errors.Is(err, errTest) {
				t.Errorf("err = %v does not wrap the last backend error", err)
			}
		})
	}
}

func TestFallbackGroup_OpenBreakerSkipsEntry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tr := &transitions{}
	fg := backendGroup(FallbackConfig{CircuitBreaker: CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  1,
		Clock:        clock.Now,
		OnTransition: tr.record,
	}}, "whisper-local", "openai")

	localDown := true
	transcribe := func() string {
		var served string
		err := fg.Execute(func(backend string) error {
			if backend == "whisper-local" && localDown {
				return errTest
			}
			served = backend
			return nil
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		return served
	}

	for range 2 {
		if got := transcribe(); got != "openai" {
			t.Fatalf("served by %q, want openai", got)
		}
	}
	if st := fg.Status(); st[0].State != "open" || st[1].State != "closed" {
		t.Fatalf("status = %+v, want local open and remote closed", st)
	}

	localDown = false
	if got := transcribe(); got != "openai" {
		t.Errorf("served by %q during the cool-down, want openai", got)
	}
	clock.Advance(time.Minute)
	if got := transcribe(); got != "whisper-local" {
		t.Errorf("served by %q after the cool-down, want whisper-local", got)
	}

	want := []string{
		"whisper-local:closed->open",
		"whisper-local:open->half-open",
		"whisper-local:half-open->closed",
	}
	if !slices.Equal(tr.list(), want) {
		t.Errorf("transitions = %v, want %v", tr.list(), want)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("gpt-4-turbo", "openai", FallbackConfig{})
	fg.AddFallback("ollama", "llama3")

	tests := []struct {
		name    string
		failing string
		want    string
		wantErr bool
	}{
		{name: "primary", want: "summary by gpt-4-turbo"},
		{name: "failover", failing: "gpt-4-turbo", want: "summary by llama3"},
		{name: "all fail", failing: "*", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ExecuteWithResult(fg, func(model string) (string, error) {
			if tc.failing == "*" || tc.failing == model {
				return "", errTest
			}
			return "summary by " + model, nil
		})
		if tc.wantErr {
			if !errors.Is(err, ErrAllFailed) {
				t.Errorf("%s: err = %v, want ErrAllFailed", tc.name, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s: got %q, %v; want %q", tc.name, got, err, tc.want)
		}
	}
}

func TestFallbackGroup_StatusAndPrimary(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("local model", "whisper-local", FallbackConfig{})
	fg.AddFallback("openai", "hosted")

	st := fg.Status()
	if len(st) != 2 || st[0].Name != "whisper-local" || st[1].Name != "openai" {
		t.Fatalf("status = %+v", st)
	}
	if fg.Primary() != "local model" {
		t.Errorf("Primary = %q", fg.Primary())
	}
}
