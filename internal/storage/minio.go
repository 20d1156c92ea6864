// Package storage keeps uploaded files such as insurer logos and document
// templates in MinIO.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
)

// MinioUploader implements domain.Uploader.
type MinioUploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
	log       *zap.SugaredLogger
}

// NewMinioUploader connects to MinIO and makes sure the bucket exists.
func NewMinioUploader(ctx context.Context, cfg domain.StorageConfig) (*MinioUploader, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	u := &MinioUploader{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: PublicBase(cfg),
		log:       logging.Named("storage"),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := u.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}

	u.log.Infow("connected to MinIO", "endpoint", endpoint, "bucket", cfg.Bucket)
	return u, nil
}

func (u *MinioUploader) ensureBucket(ctx context.Context, region string) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("error checking bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("error creating bucket %s: %w", u.bucket, err)
	}
	u.log.Infow("created bucket", "bucket", u.bucket)
	return nil
}

// Upload stores r under a fresh object name and returns its public URL.
// size may be -1 when unknown.
func (u *MinioUploader) Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (*domain.UploadResult, error) {
	if name == "" {
		return nil, domain.NewError(domain.KindValidation, "file name is required", nil)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	object := ObjectName(name)
	if _, err := u.client.PutObject(ctx, u.bucket, object, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return nil, domain.NewError(domain.KindServerError, fmt.Sprintf("failed to upload %s", name), err)
	}

	u.log.Debugw("uploaded file", "object", object, "size", size)
	return &domain.UploadResult{Files: []domain.UploadedFile{{
		URL:          ObjectURL(u.publicURL, u.bucket, object),
		OriginalName: name,
	}}}, nil
}

// Remove deletes an object previously returned by Upload.
func (u *MinioUploader) Remove(ctx context.Context, object string) error {
	if err := u.client.RemoveObject(ctx, u.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", object, err)
	}
	return nil
}

// PublicBase is the URL prefix uploaded files are served from.
func PublicBase(cfg domain.StorageConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	return scheme + "://" + strings.TrimRight(endpoint, "/")
}

// ObjectName is a collision-free object name that keeps the file extension.
func ObjectName(name string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(name, "\\", "/"))))
	return time.Now().UTC().Format("2006/01/02") + "/" + uuid.New().String() + ext
}

// ObjectURL joins base, bucket and object.
func ObjectURL(base, bucket, object string) string {
	return base + "/" + url.PathEscape(bucket) + "/" + (&url.URL{Path: object}).EscapedPath()
}
