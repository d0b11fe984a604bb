package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/MrWong99/minutes/internal/config"
)

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := *in.Bucket + "/" + *in.Key
	m.objects[key] = data
	m.types[key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func writeRecording(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(p, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestArchive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        []Option
		wantURI     string
		wantDeleted bool
	}{
		{name: "no prefix", wantURI: "s3://meetings/m-1.wav"},
		{name: "prefix", opts: []Option{WithPrefix("/team/2024/")}, wantURI: "s3://meetings/team/2024/m-1.wav"},
		{name: "delete local", opts: []Option{WithDeleteLocal(true)}, wantURI: "s3://meetings/m-1.wav", wantDeleted: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := newMockS3()
			local := writeRecording(t)

			uri, err := New(client, "meetings", tc.opts...).Archive(context.Background(), local, "m-1")
			if err != nil {
				t.Fatalf("Archive: %v", err)
			}
			if uri != tc.wantURI {
				t.Errorf("uri = %q, want %q", uri, tc.wantURI)
			}
			key := strings.TrimPrefix(tc.wantURI, "s3://")
			if string(client.objects[key]) != "RIFF....WAVE" || client.types[key] != "audio/wav" {
				t.Errorf("object %q = %q (%s)", key, client.objects[key], client.types[key])
			}
			_, statErr := os.Stat(local)
			if deleted := errors.Is(statErr, os.ErrNotExist); deleted != tc.wantDeleted {
				t.Errorf("local file deleted = %v, want %v", deleted, tc.wantDeleted)
			}
		})
	}
}

func TestArchive_Errors(t *testing.T) {
	t.Parallel()

	t.Run("upload rejected", func(t *testing.T) {
		t.Parallel()
		client := newMockS3()
		client.putErr = &apiError{code: "AccessDenied"}
		local := writeRecording(t)

		_, err := New(client, "meetings", WithDeleteLocal(true)).Archive(context.Background(), local, "m-1")
		if err == nil || !strings.Contains(err.Error(), "AccessDenied") {
			t.Fatalf("err = %v, want the service code", err)
		}
		if _, statErr := os.Stat(local); statErr != nil {
			t.Error("local file removed after a failed upload")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := New(newMockS3(), "meetings").Archive(context.Background(), filepath.Join(t.TempDir(), "gone.wav"), "m-1")
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("err = %v, want os.ErrNotExist", err)
		}
	})
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	a, err := FromConfig(config.ArchiveConfig{})
	if err != nil || a != nil {
		t.Errorf("disabled archive = %v, %v; want nil, nil", a, err)
	}
	if _, err := FromConfig(config.ArchiveConfig{Backend: "ftp", Bucket: "b"}); err == nil {
		t.Error("unknown backend accepted")
	}
	if _, err := FromConfig(config.ArchiveConfig{Backend: config.ArchiveS3}); err == nil {
		t.Error("missing bucket accepted")
	}

	a, err = FromConfig(config.ArchiveConfig{
		Backend:  config.ArchiveS3,
		Bucket:   "meetings",
		Prefix:   "rec",
		Region:   "eu-central-1",
		Endpoint: "http://localhost:9000",
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if got := a.Key("m-1"); got != "rec/m-1.wav" {
		t.Errorf("Key = %q", got)
	}
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv(AccessKeyEnv, "")
	t.Setenv(SecretKeyEnv, "")
	if _, err := envCredentials(context.Background()); err == nil {
		t.Error("missing credentials accepted")
	}

	t.Setenv(AccessKeyEnv, "AKIDEXAMPLE")
	t.Setenv(SecretKeyEnv, "secret")
	c, err := envCredentials(context.Background())
	if err != nil || c.AccessKeyID != "AKIDEXAMPLE" || c.SecretAccessKey != "secret" {
		t.Errorf("credentials = %+v, %v", c, err)
	}
}
