package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/strata-io/strata/internal/ir"
)

// S3Store keeps one object per instance key under a prefix, so records
// commit individually and a partial apply is recoverable without ever
// rewriting the whole state. S3 serializes writes per object, which
// gives the per-key atomicity the store contract asks for.
type S3Store struct {
	bucket string
	prefix string
	client *s3.Client
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket  string
	Prefix  string
	Region  string
	Profile string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 state store requires a bucket")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "strata/state"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &S3Store{
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		client: s3.NewFromConfig(awsCfg),
	}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (*ir.Record, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read state record %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read state record %s: %w", key, err)
	}
	var rec ir.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode state record %s: %w", key, err)
	}
	return &rec, true, nil
}

func (s *S3Store) Put(ctx context.Context, rec *ir.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record %s: %w", rec.Key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(rec.Key)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("write state record %s: %w", rec.Key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete state record %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]*ir.Record, error) {
	var recs []*ir.Record
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list state records: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimSuffix(path.Base(aws.ToString(obj.Key)), ".json")
			rec, ok, err := s.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			if ok {
				recs = append(recs, rec)
			}
		}
	}
	return recs, nil
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) objectKey(key string) string {
	return s.prefix + "/" + key + ".json"
}
