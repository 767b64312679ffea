// Package media stores segment image and audio assets in S3-compatible
// object storage and hands back the public URL that goes on the segment.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type Uploader struct {
	client  *s3.Client
	bucket  string
	baseURL string
	log     *zap.Logger
}

// NewUploader builds an S3 client for an R2-style endpoint. Credentials
// come from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY.
func NewUploader(ctx context.Context, endpoint, bucket, baseURL string, log *zap.Logger) (*Uploader, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.EndpointResolver = s3.EndpointResolverFromURL(endpoint)
		o.Region = "auto"
		o.UsePathStyle = true
	})

	return &Uploader{client: client, bucket: bucket, baseURL: baseURL, log: log}, nil
}

// UploadSegmentAsset writes one generated artifact (kind "image" or
// "audio") under a stable per-segment key and returns its public URL.
func (u *Uploader) UploadSegmentAsset(ctx context.Context, storyID, segmentID, kind string, body []byte, contentType string) (string, error) {
	key := fmt.Sprintf("stories/%s/segments/%s/%s", storyID, segmentID, kind)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s for segment %s: %w", kind, segmentID, err)
	}
	u.log.Info("segment asset uploaded",
		zap.String("segment_id", segmentID),
		zap.String("kind", kind),
		zap.Int("bytes", len(body)))
	return u.baseURL + "/" + key, nil
}
