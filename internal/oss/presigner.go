package oss

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"forum-api/internal/config"
)

var ErrNotConfigured = errors.New("object storage is not configured")

// FilePresigner signs URLs against the S3-compatible OSS endpoint.
type FilePresigner struct {
	S3PresignClient *s3.PresignClient
	BucketName      string
	PublicURL       string
	UploadTTL       time.Duration
}

func NewFilePresigner(ctx context.Context, cfg config.OSSConfig) (*FilePresigner, error) {
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, ErrNotConfigured
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")),
	)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &FilePresigner{
		S3PresignClient: s3.NewPresignClient(s3Client),
		BucketName:      cfg.Bucket,
		PublicURL:       strings.TrimRight(cfg.PublicURL, "/"),
		UploadTTL:       cfg.UploadTTL,
	}, nil
}

func (p *FilePresigner) PresignUpload(ctx context.Context, objectKey, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.BucketName),
		Key:    aws.String(objectKey),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	request, err := p.S3PresignClient.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = p.UploadTTL
	})
	if err != nil {
		return "", err
	}

	return request.URL, nil
}

// PresignView returns a GET URL that browsers render inline.
func (p *FilePresigner) PresignView(ctx context.Context, objectKey, contentType string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket:                     aws.String(p.BucketName),
		Key:                        aws.String(objectKey),
		ResponseContentDisposition: aws.String("inline"),
	}
	if contentType != "" {
		input.ResponseContentType = aws.String(contentType)
	}

	request, err := p.S3PresignClient.PresignGetObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}

	return request.URL, nil
}

// PublicObjectURL is the unsigned fallback used when signing fails.
func (p *FilePresigner) PublicObjectURL(objectKey string) string {
	if p.PublicURL == "" {
		return ""
	}
	return p.PublicURL + "/" + objectKey
}
