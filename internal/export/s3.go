package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Archiver uploads a canonical-JSON receipt envelope to object storage.
type Archiver interface {
	Archive(ctx context.Context, id string, at time.Time, body []byte) error
}

// S3Archiver writes envelopes to S3 paths like
// <bucket>/<prefix>/evidence/YYYY/MM/DD/<id>.json. The body is an opaque
// id/body pair so it can archive any canonical envelope.
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver builds an S3Archiver. Credentials/region are resolved the
// usual AWS SDK way (env vars, shared config, instance profile).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("export/s3: bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: manager.NewUploader(client)}, nil
}

// Archive uploads body under a date-partitioned key derived from at.
func (a *S3Archiver) Archive(ctx context.Context, id string, at time.Time, body []byte) error {
	year, month, day := at.Date()
	key := path.Join(a.prefix, "evidence",
		fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", int(month)), fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", id))

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
