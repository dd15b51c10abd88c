package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

/* Store blobs via s3 provider. */
type S3Backend struct {
	client *minio.Client
	bucket string
}

func s3NotFound(code string) bool {
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// NewS3Backend connects with static credentials, or IAM credentials when no access key is configured.
func NewS3Backend(ctx context.Context, conf st.DDStoreS3) (*S3Backend, error) {
	creds := credentials.NewIAM("")
	if conf.AccessKey != "" {
		creds = credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, "")
	}
	opts := minio.Options{
		Secure: conf.Secure,
		Region: conf.Region,
		Creds:  creds,
	}
	client, err := minio.New(conf.Endpoint, &opts)
	if err != nil {
		return nil, err
	}
	b, err := client.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, err
	}
	if !b {
		err = client.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{Region: conf.Region})
		if err != nil {
			return nil, err
		}
	}
	return &S3Backend{client, conf.Bucket}, nil
}

func (s *S3Backend) Name() string { return "s3" }

func (s *S3Backend) Put(ctx context.Context, name string, data []byte) error {
	options := minio.PutObjectOptions{ContentType: "binary/octet-stream"}
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), options)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		return fmt.Errorf("%w", &WriteError{msg: fmt.Sprintf("%v", resp.Code)})
	}
	return nil
}

func (s *S3Backend) Get(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if s3NotFound(resp.Code) {
			return nil, fmt.Errorf("%w", &NotFoundError{})
		}
		return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", resp.Code)})
	}
	defer reader.Close()
	// GetObject is lazy, a missing key only shows up on the first read
	data, err := io.ReadAll(reader)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if s3NotFound(resp.Code) {
			return nil, fmt.Errorf("%w", &NotFoundError{})
		}
		return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("%v", err)})
	}
	return data, nil
}

func (s *S3Backend) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if s3NotFound(resp.Code) {
		return false, nil
	}
	return false, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", resp.Code)})
}

func (s *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	ret := []string{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			resp := minio.ToErrorResponse(obj.Err)
			return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", resp.Code)})
		}
		ret = append(ret, obj.Key)
	}
	return ret, nil
}

func (s *S3Backend) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if s3NotFound(resp.Code) {
			return nil
		}
		return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", resp.Code)})
	}
	return nil
}

func (s *S3Backend) Close() error { return nil }
