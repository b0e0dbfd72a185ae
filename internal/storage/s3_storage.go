package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type S3Storage struct {
	api    headObjectAPI
	bucket string
}

func NewS3Storage(awsCfg aws.Config, bucket string, optFns ...func(*s3.Options)) *S3Storage {
	return &S3Storage{api: s3.NewFromConfig(awsCfg, optFns...), bucket: bucket}
}

func (s *S3Storage) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("object s3://%s/%s: %w", s.bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to head object s3://%s/%s: %w", s.bucket, key, err)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}
