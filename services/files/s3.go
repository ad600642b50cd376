package filesvc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// S3Store keeps files as objects of one bucket, keyed by their reference.
type S3Store struct {
	api     *s3.Client
	bucket  string
	maxSize int64
}

var _ core.FileStore = (*S3Store)(nil)

// NewS3Store builds a client for any S3 compatible endpoint. An empty endpoint means AWS.
func NewS3Store(ctx context.Context, conf *core.Config) (*S3Store, error) {
	s3c := conf.Files.S3
	if s3c.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3c.Region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if s3c.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3c.AccessKey, s3c.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}

	endpoint := strings.TrimSpace(s3c.Endpoint)
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "https"
		if s3c.DisableTLS {
			scheme = "http"
		}
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = s3c.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &S3Store{api: client, bucket: s3c.Bucket, maxSize: conf.Files.MaxSize}, nil
}

// Save buffers r so the request can be signed with a known length.
func (s *S3Store) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	key, err := cleanRef(name)
	if err != nil {
		return "", err
	}
	if s.maxSize > 0 {
		r = io.LimitReader(r, s.maxSize+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "reading upload")
	}
	if s.maxSize > 0 && int64(len(body)) > s.maxSize {
		return "", core.ErrFileTooLarge
	}

	size := int64(len(body))
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(body),
		ContentLength: &size,
	})
	if err != nil {
		return "", core.Unavailable(err, "uploading file")
	}
	return key, nil
}

func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	key, err := cleanRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, core.Unavailable(err, "downloading file")
	}
	return out.Body, nil
}

// Delete removes the object at ref. S3 reports success for missing keys.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	key, err := cleanRef(ref)
	if err != nil {
		return err
	}
	if _, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return core.Unavailable(err, "deleting file")
	}
	return nil
}
