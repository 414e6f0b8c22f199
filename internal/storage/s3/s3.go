// Package s3 stores violation evidence blobs (screenshots, webcam frames,
// audio clips) in S3-compatible object storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds S3 connection and behavior configuration.
type Config struct {
	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the key prefix for all evidence objects.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Endpoint is an optional custom endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// AccessKeyID for static credentials (optional, uses IAM if not set).
	AccessKeyID string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`

	// SecretAccessKey for static credentials.
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`

	// SessionToken for temporary credentials.
	SessionToken string `json:"session_token,omitempty" yaml:"session_token,omitempty"`

	// StorageClass for uploaded objects.
	StorageClass string `json:"storage_class" yaml:"storage_class"`

	// ServerSideEncryption type (AES256 or aws:kms).
	ServerSideEncryption string `json:"server_side_encryption,omitempty" yaml:"server_side_encryption,omitempty"`

	// KMSKeyID for KMS encryption.
	KMSKeyID string `json:"kms_key_id,omitempty" yaml:"kms_key_id,omitempty"`

	// UsePathStyle forces path-style addressing (for MinIO, etc.).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// RetryMaxAttempts for failed operations.
	RetryMaxAttempts int `json:"retry_max_attempts" yaml:"retry_max_attempts"`

	// Timeout for operations.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Region:           "us-east-1",
		Bucket:           "proctor-evidence",
		Prefix:           "evidence/",
		StorageClass:     "STANDARD_IA",
		RetryMaxAttempts: 3,
		Timeout:          time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	return nil
}

// GetStorageClass returns the S3 storage class type.
func (c *Config) GetStorageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "ONEZONE_IA":
		return types.StorageClassOnezoneIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	case "GLACIER_IR":
		return types.StorageClassGlacierIr
	default:
		return types.StorageClassStandard
	}
}

// EvidenceStore uploads and retrieves evidence blobs.
type EvidenceStore struct {
	client  *s3.Client
	config  *Config
	logger  *slog.Logger
	metrics *storeMetrics
}

type storeMetrics struct {
	bytesUploaded   atomic.Int64
	bytesDownloaded atomic.Int64
	objectsUploaded atomic.Int64
	objectsDeleted  atomic.Int64
	errors          atomic.Int64
}

// NewEvidenceStore creates a new evidence store.
func NewEvidenceStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*EvidenceStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

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

	s3Client := s3.NewFromConfig(awsCfg, s3Opts...)

	store := &EvidenceStore{
		client:  s3Client,
		config:  cfg,
		logger:  logger,
		metrics: &storeMetrics{},
	}

	logger.Info("evidence store initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)

	return store, nil
}

// Put uploads one evidence blob under the session's key space and returns
// the reference to record on the event.
func (s *EvidenceStore) Put(ctx context.Context, sessionID string, name string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("s3: empty evidence payload")
	}

	key := fmt.Sprintf("%s%s/%d-%s", s.config.Prefix, sessionID, time.Now().UnixNano(), name)

	putInput := &s3.PutObjectInput{
		Bucket:       aws.String(s.config.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		StorageClass: s.config.GetStorageClass(),
	}

	if contentType != "" {
		putInput.ContentType = aws.String(contentType)
	}

	if s.config.ServerSideEncryption != "" {
		switch s.config.ServerSideEncryption {
		case "AES256":
			putInput.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			putInput.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if s.config.KMSKeyID != "" {
				putInput.SSEKMSKeyId = aws.String(s.config.KMSKeyID)
			}
		}
	}

	if _, err := s.client.PutObject(ctx, putInput); err != nil {
		s.metrics.errors.Add(1)
		return "", fmt.Errorf("s3: failed to upload evidence %s: %w", key, err)
	}

	s.metrics.bytesUploaded.Add(int64(len(data)))
	s.metrics.objectsUploaded.Add(1)

	s.logger.Debug("uploaded evidence",
		"key", key,
		"size", len(data),
	)

	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, key), nil
}

// Get downloads an evidence blob by its reference.
func (s *EvidenceStore) Get(ctx context.Context, ref string) ([]byte, string, error) {
	key, err := s.keyFromRef(ref)
	if err != nil {
		return nil, "", err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.metrics.errors.Add(1)
		return nil, "", fmt.Errorf("s3: failed to download evidence %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		s.metrics.errors.Add(1)
		return nil, "", fmt.Errorf("s3: failed to read evidence %s: %w", key, err)
	}

	s.metrics.bytesDownloaded.Add(int64(len(data)))

	return data, aws.ToString(result.ContentType), nil
}

// Delete removes an evidence blob.
func (s *EvidenceStore) Delete(ctx context.Context, ref string) error {
	key, err := s.keyFromRef(ref)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.metrics.errors.Add(1)
		return fmt.Errorf("s3: failed to delete evidence %s: %w", key, err)
	}

	s.metrics.objectsDeleted.Add(1)
	return nil
}

// keyFromRef resolves an evidence reference to an object key. Accepts both
// bare keys and s3://bucket/key references for this store's bucket.
func (s *EvidenceStore) keyFromRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, "s3://") {
		return ref, nil
	}

	rest := strings.TrimPrefix(ref, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("s3: malformed evidence reference %q", ref)
	}
	if bucket != s.config.Bucket {
		return "", fmt.Errorf("s3: evidence reference %q is not in bucket %s", ref, s.config.Bucket)
	}
	return key, nil
}

// Stats returns store counters.
func (s *EvidenceStore) Stats() map[string]int64 {
	return map[string]int64{
		"bytes_uploaded":   s.metrics.bytesUploaded.Load(),
		"bytes_downloaded": s.metrics.bytesDownloaded.Load(),
		"objects_uploaded": s.metrics.objectsUploaded.Load(),
		"objects_deleted":  s.metrics.objectsDeleted.Load(),
		"errors":           s.metrics.errors.Load(),
	}
}
