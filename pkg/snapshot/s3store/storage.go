// Package s3store stores snapshots in an S3-compatible bucket (AWS S3 or
// MinIO).
//
// Object layout under the configured prefix:
//
//	<prefix>/<workspace>/<name>/manifest.json
//	<prefix>/<workspace>/<name>/<id>.state.json
//
// The state object is keyed by snapshot ID so two racing creators never
// write the same object. The manifest is written last with If-None-Match,
// and a snapshot exists once its manifest does.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/store"
)

const manifestObject = "manifest.json"

// API is the subset of the S3 client used by Storage.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds construction parameters. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	PathStyle       bool   `mapstructure:"pathStyle" yaml:"pathStyle"`
	AccessKeyID     string `mapstructure:"accessKeyId" yaml:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey" yaml:"secretAccessKey"`
	SessionToken    string `mapstructure:"sessionToken" yaml:"sessionToken"`
}

// Storage implements snapshot.Storage on an S3 bucket.
type Storage struct {
	client API
	bucket string
	prefix string
	log    *slog.Logger
}

var _ snapshot.Storage = (*Storage)(nil)

// New builds an S3 client from cfg and returns a storage using it.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, &store.ValidationError{Field: "bucket", Message: "s3 bucket required"}
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, store.IOError(store.BackendS3, "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient returns a storage on an existing client.
func NewWithClient(client API, bucket, prefix string) *Storage {
	return &Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    logging.Nop(),
	}
}

// SetLogger sets the logger.
func (s *Storage) SetLogger(log *slog.Logger) { s.log = log }

func (s *Storage) Kind() store.Backend { return store.BackendS3 }

func (s *Storage) Create(ctx context.Context, d *snapshot.Descriptor, state []byte) error {
	manifestKey := s.key(d.Workspace, d.Name, manifestObject)
	exists, err := s.exists(ctx, manifestKey)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrConflict
	}

	manifest, err := json.Marshal(d)
	if err != nil {
		return err
	}
	stateKey := s.stateKey(d)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(stateKey),
		Body:        bytes.NewReader(state),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(manifest),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		s.deleteQuietly(ctx, stateKey)
		if statusCode(err) == http.StatusPreconditionFailed {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Storage) Descriptor(ctx context.Context, workspace, name string) (*snapshot.Descriptor, error) {
	data, err := s.get(ctx, s.key(workspace, name, manifestObject))
	if err != nil {
		return nil, err
	}
	var d snapshot.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode manifest %s/%s: %w", workspace, name, err)
	}
	return &d, nil
}

func (s *Storage) State(ctx context.Context, d *snapshot.Descriptor) ([]byte, error) {
	return s.get(ctx, s.stateKey(d))
}

// List reads manifest objects only.
func (s *Storage) List(ctx context.Context, workspace string) ([]*snapshot.Descriptor, error) {
	keys, err := s.listKeys(ctx, s.key(workspace)+"/")
	if err != nil {
		return nil, err
	}
	var out []*snapshot.Descriptor
	for _, k := range keys {
		if path.Base(k) != manifestObject {
			continue
		}
		data, err := s.get(ctx, k)
		if errors.Is(err, store.ErrNotFound) {
			// deleted since listing
			continue
		}
		if err != nil {
			return nil, err
		}
		var d snapshot.Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode manifest %s: %w", k, err)
		}
		out = append(out, &d)
	}
	return out, nil
}

func (s *Storage) Delete(ctx context.Context, workspace, name string) error {
	manifestKey := s.key(workspace, name, manifestObject)
	exists, err := s.exists(ctx, manifestKey)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(manifestKey)}); err != nil {
		return err
	}
	return s.deletePrefix(ctx, s.key(workspace, name)+"/")
}

func (s *Storage) DeleteWorkspace(ctx context.Context, workspace string) error {
	return s.deletePrefix(ctx, s.key(workspace)+"/")
}

func (s *Storage) Close() error { return nil }

func (s *Storage) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *Storage) stateKey(d *snapshot.Descriptor) string {
	return s.key(d.Workspace, d.Name, d.ID+".state.json")
}

func (s *Storage) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Storage) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *Storage) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		return keys, nil
	}
}

func (s *Storage) deletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) deleteQuietly(ctx context.Context, key string) {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		s.log.Warn("failed to remove orphaned snapshot state", "key", key, "error", err)
	}
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk) || statusCode(err) == http.StatusNotFound
}

// statusCode extracts the HTTP status of an SDK response error, or 0.
func statusCode(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
