package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type awsS3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type awsS3Store struct {
	bucket string
	api    awsS3API
}

// S3Config carries connection settings for an S3-compatible store.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Store returns an AWS-backed ranged-read store for one bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newS3StoreWithAPI(cfg.Bucket, client), nil
}

func newS3StoreWithAPI(bucket string, api awsS3API) *awsS3Store {
	return &awsS3Store{bucket: bucket, api: api}
}

func (s *awsS3Store) Size(ctx context.Context, key string) (int64, error) {
	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classifyS3Error(fmt.Errorf("head object %s: %w", key, err), err)
	}
	if head.ContentLength == nil {
		return 0, fmt.Errorf("head object %s: missing content length", key)
	}
	return *head.ContentLength, nil
}

func (s *awsS3Store) ReadRange(ctx context.Context, key string, start, length int64) ([]byte, error) {
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, start+length-1)),
	})
	if err != nil {
		return nil, classifyS3Error(fmt.Errorf("get object %s: %w", key, err), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body %s: %v", ErrTransient, key, err)
	}
	return data, nil
}

func (s *awsS3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	var token *string
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classifyS3Error(fmt.Errorf("list objects %s: %w", prefix, err), err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			info := ObjectInfo{Key: *obj.Key}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			objects = append(objects, info)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return objects, nil
		}
		token = out.NextContinuationToken
	}
}

// classifyS3Error maps AWS failures onto the fetcher's two error kinds:
// missing or forbidden objects are unavailable outright, everything else is
// worth retrying.
func classifyS3Error(wrapped, cause error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(cause, &noKey) || errors.As(cause, &noBucket) || errors.As(cause, &notFound) {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, wrapped)
	}
	var apiErr smithy.APIError
	if errors.As(cause, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, wrapped)
		}
	}
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(cause, &httpErr) {
		switch httpErr.HTTPStatusCode() {
		case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, wrapped)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, wrapped)
}
