package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// MaxThumbnailSize is the maximum allowed thumbnail upload (5MB).
	MaxThumbnailSize = 5 * 1024 * 1024
	// FolderThumbnails is the S3 prefix for session thumbnails.
	FolderThumbnails = "thumbnails"
)

// AllowedThumbnailTypes maps accepted image MIME types to their extension.
var AllowedThumbnailTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ThumbnailsBucket string
}

// S3 uploads session assets.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("thumbnails_bucket", cfg.ThumbnailsBucket))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ThumbnailExtension returns the extension for an accepted thumbnail type, or false.
func ThumbnailExtension(contentType string) (string, bool) {
	ext, ok := AllowedThumbnailTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ext, ok
}

// ThumbnailKey returns the S3 object key: thumbnails/{session_id}/{unix}{ext}.
func ThumbnailKey(sessionID, ext string, at time.Time) string {
	return path.Join(FolderThumbnails, sessionID, fmt.Sprintf("%d%s", at.Unix(), ext))
}

// ThumbnailsBucket returns the thumbnails bucket name.
func (s *S3) ThumbnailsBucket() string { return s.cfg.ThumbnailsBucket }

// PublicObjectURL returns the unsigned URL of an object in a public bucket.
func (s *S3) PublicObjectURL(bucket, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.cfg.Region, key)
}

// Upload streams body to S3 and returns the object URL.
func (s *S3) Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if contentLength > 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if publicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("object uploaded", zap.String("bucket", bucket), zap.String("key", key))
	return s.PublicObjectURL(bucket, key), nil
}
