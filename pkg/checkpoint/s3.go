// S3-backed run-state persistence for cluster runs without shared disk.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3 run-state backend.
type S3Config struct {
	// Bucket is the S3 bucket for storing run states
	Bucket string

	// Prefix is prepended to all run-state keys (e.g., "runs/")
	Prefix string

	// Region is the AWS region
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Timeout for S3 operations
	Timeout time.Duration

	// StorageClass for run-state objects (default: STANDARD)
	StorageClass types.StorageClass

	// ServerSideEncryption enables SSE-S3 encryption
	ServerSideEncryption bool
}

// DefaultS3Config returns sensible defaults.
func DefaultS3Config(bucket string) S3Config {
	return S3Config{
		Bucket:       bucket,
		Prefix:       "runs/",
		Timeout:      30 * time.Second,
		StorageClass: types.StorageClassStandard,
	}
}

// S3Backend stores run states in S3.
type S3Backend struct {
	cfg    S3Config
	client *s3.Client
}

// NewS3Backend creates a new S3 run-state backend.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	// Build AWS config options
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	// Load AWS config
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client options
	s3Opts := []func(*s3.Options){}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Backend{
		cfg:    cfg,
		client: client,
	}, nil
}

// key returns the S3 key for a run-state ID.
func (b *S3Backend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save persists a run state to S3.
func (b *S3Backend) Save(ctx context.Context, rs *RunState) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, _, err := rs.encode()
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(b.cfg.Bucket),
		Key:          aws.String(b.key(rs.ID)),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		StorageClass: b.cfg.StorageClass,
	}

	if b.cfg.ServerSideEncryption {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}

	_, err = b.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to save run state to S3: %w", err)
	}

	return nil
}

// Load retrieves a run state from S3.
func (b *S3Backend) Load(ctx context.Context, id string) (*RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load run state from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state data: %w", err)
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &rs, nil
}

// Delete removes a run state from S3.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(id)),
	})
	return err
}

// list returns all run states under the configured prefix.
func (b *S3Backend) list(ctx context.Context) ([]*RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var states []*RunState
	var continuationToken *string

	for {
		output, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(b.cfg.Prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list run states: %w", err)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			// Extract ID from key
			id := strings.TrimPrefix(key, b.cfg.Prefix)
			id = strings.TrimSuffix(id, ".json")

			rs, err := b.Load(ctx, id)
			if err != nil {
				continue // Skip invalid run states
			}
			states = append(states, rs)
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	return states, nil
}

// ListIncomplete returns all run states that haven't completed.
func (b *S3Backend) ListIncomplete(ctx context.Context) ([]*RunState, error) {
	all, err := b.list(ctx)
	if err != nil {
		return nil, err
	}

	var incomplete []*RunState
	for _, rs := range all {
		if rs.Phase != "complete" {
			incomplete = append(incomplete, rs)
		}
	}

	return incomplete, nil
}

// FindBySam finds an incomplete run state for the given SAM file and
// window plan.
func (b *S3Backend) FindBySam(ctx context.Context, samPath string, windowSize, windowStride int64) (*RunState, error) {
	incomplete, err := b.ListIncomplete(ctx)
	if err != nil {
		return nil, err
	}

	for _, rs := range incomplete {
		if rs.SamPath == samPath && rs.WindowSize == windowSize && rs.WindowStride == windowStride {
			return rs, nil
		}
	}

	return nil, os.ErrNotExist
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}

// Cleanup removes completed run states older than maxAge.
func (b *S3Backend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	all, err := b.list(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, rs := range all {
		if rs.Phase == "complete" && rs.UpdatedAt.Before(cutoff) {
			if err := b.Delete(ctx, rs.ID); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}
