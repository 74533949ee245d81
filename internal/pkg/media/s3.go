package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"buildr/internal/config"
	"buildr/internal/pkg/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Storage 把媒体对象放到 S3 兼容的对象存储上。
//
// Key（object key）即删除句柄；公开访问 URL 由 PublicBaseURL 拼出，
// 以便走 CDN 域名而不是直连 bucket。
type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
	logger   *slog.Logger
}

// NewS3Storage 按配置初始化对象存储客户端。
func NewS3Storage(ctx context.Context, cfg *config.MediaConfig, logger *slog.Logger) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media bucket not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Storage{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		baseURL:  baseURL,
		logger:   logger,
	}, nil
}

// Upload 上传一个对象并返回其公开 URL 和删除句柄。
func (s *S3Storage) Upload(ctx context.Context, r io.Reader, contentType string, folder string) (Object, error) {
	key := folder + "/" + uuid.NewString() + extensionFor(contentType)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		metrics.MediaUploadFailedTotal.Inc()
		return Object{}, fmt.Errorf("upload media: %w", err)
	}

	metrics.MediaUploadTotal.Inc()
	if s.logger != nil {
		s.logger.Info("media uploaded", slog.String("key", key))
	}
	return Object{
		URL: s.baseURL + "/" + key,
		Key: key,
	}, nil
}

// Delete 删除一个对象。调用方把它当作 best-effort，失败只记日志。
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
