package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
)

// S3Store implements Store on an S3 (or S3-compatible) bucket
type S3Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	region   string
	baseURL  string
}

// NewS3Store creates an S3 store from configuration
func NewS3Store(cfg config.ObjectStoreConfig) (*S3Store, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" && cfg.Endpoint != "" {
		baseURL = joinURL(cfg.Endpoint, cfg.Bucket)
	} else if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Store{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		baseURL:  baseURL,
	}, nil
}

// EnsureBucket creates the media bucket when it does not exist yet and
// opens its objects to anonymous reads, since ad rows store plain public URLs.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 rejects an explicit location constraint
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(s.region),
		}
	}

	_, err = s.client.CreateBucketWithContext(ctx, input)
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}

	if err := s.client.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed waiting for bucket %s: %w", s.bucket, err)
	}
	return s.allowPublicRead(ctx)
}

type policyStatement struct {
	Sid       string `json:"Sid"`
	Effect    string `json:"Effect"`
	Principal string `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// publicReadPolicy grants s3:GetObject on every key of bucket
func publicReadPolicy(bucket string) (string, error) {
	data, err := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "PublicReadGetObject",
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:GetObject",
			Resource:  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
		}},
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// allowPublicRead lifts the default public access block of a new bucket and
// attaches the public read policy. S3-compatible servers without public
// access blocks answer NotImplemented, which is ignored.
func (s *S3Store) allowPublicRead(ctx context.Context) error {
	_, err := s.client.DeletePublicAccessBlockWithContext(ctx, &s3.DeletePublicAccessBlockInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || (aerr.Code() != "NotImplemented" && aerr.Code() != "NoSuchPublicAccessBlockConfiguration") {
			return fmt.Errorf("failed to remove public access block of %s: %w", s.bucket, err)
		}
	}

	policy, err := publicReadPolicy(s.bucket)
	if err != nil {
		return fmt.Errorf("failed to build policy for %s: %w", s.bucket, err)
	}
	_, err = s.client.PutBucketPolicyWithContext(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(s.bucket),
		Policy: aws.String(policy),
	})
	if err != nil {
		return fmt.Errorf("failed to set public read policy on %s: %w", s.bucket, err)
	}
	return nil
}

// Upload puts a local file at storagePath and returns its public URL
func (s *S3Store) Upload(ctx context.Context, localPath, storagePath, contentType string) (*models.UploadResult, error) {
	f, err := openForUpload(localPath, storagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(storagePath),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, &UploadError{Path: storagePath, Err: err}
	}

	return &models.UploadResult{
		StoragePath: storagePath,
		PublicURL:   s.PublicURL(storagePath),
	}, nil
}

// PublicURL returns the retrieval URL of a stored path
func (s *S3Store) PublicURL(storagePath string) string {
	return joinURL(s.baseURL, storagePath)
}
