package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/enforce"
	"enforcement-engine/internal/telemetry"
)

type snapshotUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// SnapshotArchiver periodically serializes the pipeline snapshot view and
// uploads it for dashboards and audits. Upload failures are logged and
// retried on the next tick, never fatal.
type SnapshotArchiver struct {
	engine   *enforce.Engine
	uploader snapshotUploader
	interval time.Duration
}

// NewSnapshotArchiver picks an uploader: S3 when a bucket is configured,
// the local snapshot dir otherwise.
func NewSnapshotArchiver(ctx context.Context, cfg config.Config, eng *enforce.Engine) (*SnapshotArchiver, error) {
	interval := cfg.SnapshotInterval
	if interval == 0 {
		interval = 15 * time.Minute
	}

	var up snapshotUploader
	if cfg.SnapshotS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.SnapshotS3Bucket}
	} else {
		baseDir := cfg.SnapshotDir
		if baseDir == "" {
			baseDir = "./snapshots"
		}
		up = &localUploader{baseDir: baseDir}
	}

	return &SnapshotArchiver{engine: eng, uploader: up, interval: interval}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SnapshotS3Region),
	}
	if cfg.SnapshotS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.SnapshotS3Endpoint,
					HostnameImmutable: cfg.SnapshotS3PathStyle,
					SigningRegion:     cfg.SnapshotS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.SnapshotS3PathStyle
	}), nil
}

// Run archives on a ticker until context cancellation.
func (a *SnapshotArchiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				log.Printf("snapshot archive: %v", err)
			}
		}
	}
}

// ArchiveOnce takes one snapshot and uploads it.
func (a *SnapshotArchiver) ArchiveOnce(ctx context.Context) error {
	snap, err := a.engine.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := snap.TakenAt.UTC().Format("2006/01/02/pipeline-150405.json")
	loc, err := a.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	telemetry.SnapshotUploads.Inc()
	log.Printf("pipeline snapshot archived to %s", loc)
	return nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	for strings.HasPrefix(key, "../") {
		key = strings.TrimPrefix(key, "../")
	}
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
