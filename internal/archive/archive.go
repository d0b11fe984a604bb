// Package archive uploads finished recordings to S3 or an S3-compatible
// object store such as MinIO or R2.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/MrWong99/minutes/internal/config"
)

// Environment variables holding the static S3 credentials.
const (
	AccessKeyEnv = "AWS_ACCESS_KEY_ID"
	SecretKeyEnv = "AWS_SECRET_ACCESS_KEY"
)

// S3Client is the part of the S3 API the archiver uses. [*s3.Client]
// satisfies it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3Client = (*s3.Client)(nil)

// Option configures an [S3Archiver].
type Option func(*S3Archiver)

// WithPrefix stores objects under prefix/.
func WithPrefix(prefix string) Option {
	return func(a *S3Archiver) { a.prefix = strings.Trim(prefix, "/") }
}

// WithDeleteLocal removes the local file after a successful upload.
func WithDeleteLocal(del bool) Option {
	return func(a *S3Archiver) { a.deleteLocal = del }
}

// S3Archiver copies recordings into a bucket.
type S3Archiver struct {
	client      S3Client
	bucket      string
	prefix      string
	deleteLocal bool
}

// New returns an archiver writing to bucket through client.
func New(client S3Client, bucket string, opts ...Option) *S3Archiver {
	a := &S3Archiver{client: client, bucket: bucket}
	for _, o := range opts {
		o(a)
	}
	return a
}

// FromConfig builds an archiver for cfg. It returns nil when archiving is
// disabled.
func FromConfig(cfg config.ArchiveConfig) (*S3Archiver, error) {
	switch cfg.Backend {
	case config.ArchiveNone:
		return nil, nil
	case config.ArchiveS3:
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Backend)
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket must not be empty")
	}

	o := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
		Credentials:  aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	if cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return New(s3.New(o), cfg.Bucket, WithPrefix(cfg.Prefix), WithDeleteLocal(cfg.DeleteLocal)), nil
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv(AccessKeyEnv), os.Getenv(SecretKeyEnv)
	if id == "" || secret == "" {
		return aws.Credentials{}, fmt.Errorf("archive: %s and %s must be set", AccessKeyEnv, SecretKeyEnv)
	}
	return aws.Credentials{AccessKeyID: id, SecretAccessKey: secret, Source: "environment"}, nil
}

// Key returns the object key for a meeting's recording.
func (a *S3Archiver) Key(meetingID string) string {
	if a.prefix == "" {
		return meetingID + ".wav"
	}
	return path.Join(a.prefix, meetingID+".wav")
}

// Archive uploads the WAV at localPath as the recording of meetingID and
// returns its s3:// URI.
func (a *S3Archiver) Archive(ctx context.Context, localPath, meetingID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: open recording: %w", err)
	}
	defer f.Close()

	key := a.Key(meetingID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("audio/wav"),
		Metadata:    map[string]string{"meeting-id": meetingID},
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, describe(err))
	}

	uri := "s3://" + a.bucket + "/" + key
	if a.deleteLocal {
		if err := os.Remove(localPath); err != nil {
			slog.Warn("archive: remove local recording", "path", localPath, "err", err)
		}
	}
	return uri, nil
}

// describe keeps the service error code visible in logs.
func describe(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
