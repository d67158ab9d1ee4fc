package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/port"
)

var ErrSizeMismatch = errors.New("stored object size mismatch")

// S3API is the subset of the S3 client the adapter uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3ClientConfig describes an S3-compatible endpoint (AWS, MinIO, ...).
type S3ClientConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// NewS3Client builds a client with static credentials. An empty endpoint
// means AWS itself.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

const restoreTimeout = 10 * time.Second

// S3Adapter keeps the catalog as a CSV object. Before every overwrite the
// current object is copied to key.bak and restored from there if the new
// object does not check out.
type S3Adapter struct {
	client S3API
	bucket string
	key    string
	codec  csvCodec
	log    *zap.Logger
}

func NewS3Adapter(client S3API, bucket, key string, comma rune, log *zap.Logger) *S3Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Adapter{client: client, bucket: bucket, key: key, codec: newCSVCodec(comma), log: log}
}

func (s *S3Adapter) Name() string {
	return "s3://" + s.bucket + "/" + s.key
}

func (s *S3Adapter) Fetch(ctx context.Context) (*port.Sheet, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return s.codec.decode(out.Body)
}

func (s *S3Adapter) Store(ctx context.Context, sheet *port.Sheet) error {
	data, err := s.codec.render(sheet)
	if err != nil {
		return err
	}

	backup := s.key + backupSuffix
	hasBackup, err := s.copy(ctx, s.key, backup)
	if err != nil {
		return fmt.Errorf("backup object: %w", err)
	}

	if err := s.put(ctx, data); err != nil {
		if hasBackup {
			// The caller's deadline may be what failed the put.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
			defer cancel()
			if _, restoreErr := s.copy(rctx, backup, s.key); restoreErr != nil {
				s.log.Error("failed to restore catalog object from backup",
					zap.String("bucket", s.bucket),
					zap.String("key", s.key),
					zap.Error(restoreErr),
				)
				return errors.Join(err, fmt.Errorf("restore backup: %w", restoreErr))
			}
		}
		return err
	}
	return nil
}

func (s *S3Adapter) put(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return fmt.Errorf("head object: %w", err)
	}
	if size := aws.ToInt64(head.ContentLength); size != int64(len(data)) {
		return fmt.Errorf("%w: stored %d bytes, want %d", ErrSizeMismatch, size, len(data))
	}
	return nil
}

// copy duplicates src to dst inside the bucket. It reports false when src
// does not exist.
func (s *S3Adapter) copy(ctx context.Context, src, dst string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(src),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, err
	}

	source := (&url.URL{Path: s.bucket + "/" + src}).EscapedPath()
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(source),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
