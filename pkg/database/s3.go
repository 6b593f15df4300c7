package database

import (
	"context"
	"fmt"
	"strings"

	"realtime_chat_service/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Client definition s3 client + multipart uploader
type S3Client struct {
	Client     *s3.Client
	Uploader   *manager.Uploader
	BucketName string
}

// NewS3Client builds an S3 client. A custom Endpoint switches to path
// style addressing (minio, localstack).
func NewS3Client(ctx context.Context, d ObjectStoreConnection) (*S3Client, error) {
	var s3Opts []func(*s3.Options)
	if d.Endpoint != "" {
		endpoint := d.Endpoint
		if !hasScheme(endpoint) {
			scheme := "http://"
			if d.UseSSL {
				scheme = "https://"
			}
			endpoint = scheme + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	awsCfg := aws.Config{
		Region:      d.Region,
		Credentials: credentials.NewStaticCredentialsProvider(d.User, d.Password, ""),
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.BucketName)}); err != nil {
		if _, cerr := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(d.BucketName)}); cerr != nil {
			return nil, fmt.Errorf("s3 bucket [%s]: %w", d.BucketName, cerr)
		}
		logger.Log.Info("bucket created", zap.String("bucket", d.BucketName))
	}

	return &S3Client{
		Client:     client,
		Uploader:   manager.NewUploader(client),
		BucketName: d.BucketName,
	}, nil
}

func hasScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
