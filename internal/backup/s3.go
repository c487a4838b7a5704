// Package backup exports snapshots of the bot database to S3-compatible
// object storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/config"
	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("backup bucket is not configured")

const keyTimeFormat = "20060102T150405Z"

// ObjectAPI is the subset of the S3 client used by the exporter.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Snapshot is the exported state. Account passwords are never serialized.
type Snapshot struct {
	TakenAt  time.Time                `json:"taken_at"`
	Users    []*domain.User           `json:"users"`
	Accounts []*domain.HostingAccount `json:"accounts"`
	Actions  []*domain.AuditLogEntry  `json:"actions"`
}

// Collect reads a snapshot from the repositories.
// actionLimit bounds how many audit entries are included.
func Collect(ctx context.Context, repos *repository.Repositories, actionLimit int) (*Snapshot, error) {
	users, err := repos.User.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	accounts, err := repos.Account.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	actions, err := repos.ActionLog.ListRecent(ctx, actionLimit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	return &Snapshot{
		TakenAt:  time.Now().UTC(),
		Users:    users,
		Accounts: accounts,
		Actions:  actions,
	}, nil
}

// S3Exporter writes snapshots to a bucket.
type S3Exporter struct {
	client ObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Exporter creates an exporter from configuration using static credentials.
func NewS3Exporter(ctx context.Context, cfg config.BackupConfig, logger zerolog.Logger) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewExporter(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewExporter creates an exporter over an existing client.
func NewExporter(client ObjectAPI, bucket, prefix string, logger zerolog.Logger) *S3Exporter {
	return &S3Exporter{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "backup").Str("bucket", bucket).Logger(),
	}
}

// Key returns the object key for a snapshot taken at t.
func (e *S3Exporter) Key(t time.Time) string {
	return path.Join(e.prefix, "snapshot-"+t.UTC().Format(keyTimeFormat)+".json")
}

// Export uploads the snapshot and returns its key.
func (e *S3Exporter) Export(ctx context.Context, snap *Snapshot) (string, error) {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := e.Key(snap.TakenAt)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("snapshot upload failed")
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	e.logger.Info().
		Str("key", key).
		Int("users", len(snap.Users)).
		Int("accounts", len(snap.Accounts)).
		Int("bytes", len(body)).
		Msg("snapshot exported")
	return key, nil
}

// List returns the keys of stored snapshots, newest first.
func (e *S3Exporter) List(ctx context.Context) ([]string, error) {
	prefix := e.prefix
	if prefix != "" {
		prefix += "/"
	}

	var keys []string
	var token *string
	for {
		out, err := e.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(e.bucket),
			Prefix:            aws.String(prefix + "snapshot-"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}
