package valuation

import (
	"bytes"
	"context"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
)

var _ Publisher = (*S3Publisher)(nil)

// S3Publisher uploads artifacts under prefix in an S3 bucket.
type S3Publisher struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewS3Publisher(ctx context.Context, bucket, prefix, region string) (*S3Publisher, error) {
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "can't load aws user config")
	}
	s3client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
	})
	return &S3Publisher{
		uploader: manager.NewUploader(s3client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (p *S3Publisher) Publish(ctx context.Context, name, contentType string, body []byte) error {
	key := path.Join(p.prefix, name)
	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errors.Wrapf(err, "upload s3://%s/%s", p.bucket, key)
	}
	logger.DebugContext(ctx, "Published artifact", slogx.String("bucket", p.bucket), slogx.String("key", key))
	return nil
}
