// Package media отдаёт ссылки на файлы из содержимого сообщений (фото, голосовые, аватары
// групп) и загружает их в S3-совместимое хранилище.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/smalltalk/internal/logger"
)

// ErrNotConfigured возвращает Noop: хранилище не настроено.
var ErrNotConfigured = errors.New("media storage is not configured")

const (
	defaultURLExpiry = 15 * time.Minute
	defaultRegion    = "us-east-1"
)

// Store: всё, что нужно остальному коду от хранилища файлов.
type Store interface {
	URL(ctx context.Context, path string) (string, error)
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
}

type Options struct {
	Endpoint  string
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	// PublicURL подменяет схему и хост в выданных ссылках (CDN, обратный прокси).
	PublicURL string
	URLExpiry time.Duration
}

// Client хранит объекты в бакете; ключ объекта совпадает с path из сообщения.
type Client struct {
	client    *minio.Client
	bucket    string
	publicURL *url.URL
	expiry    time.Duration

	bucketOnce sync.Once
	bucketErr  error
}

func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("media: endpoint is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("media: bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = defaultRegion
	}
	// С заданным регионом подпись ссылок не ходит в сеть за location бакета.
	mc, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("media: create client: %w", err)
	}
	c := &Client{client: mc, bucket: bucket, expiry: opts.URLExpiry}
	if c.expiry <= 0 {
		c.expiry = defaultURLExpiry
	}
	if p := strings.TrimSpace(opts.PublicURL); p != "" {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("media: bad public url %q", p)
		}
		c.publicURL = u
	}
	return c, nil
}

// URL выдаёт временную ссылку на чтение объекта.
func (c *Client) URL(ctx context.Context, path string) (string, error) {
	key, err := objectKey(path)
	if err != nil {
		return "", err
	}
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, c.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", key, err)
	}
	if c.publicURL != nil {
		u.Scheme = c.publicURL.Scheme
		u.Host = c.publicURL.Host
	}
	return u.String(), nil
}

func (c *Client) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	defer logger.DeferLogDuration("media.Upload", time.Now())()
	if r == nil {
		return errors.New("media: reader is required")
	}
	key, err := objectKey(path)
	if err != nil {
		return err
	}
	if err := c.ensureBucket(ctx); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if size <= 0 {
		size = -1
	}
	if _, err := c.client.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("media: put %s: %w", key, err)
	}
	logger.Debugf("media: uploaded bucket=%s key=%s", c.bucket, key)
	return nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	c.bucketOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucket)
		if err != nil {
			c.bucketErr = fmt.Errorf("media: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			c.bucketErr = fmt.Errorf("media: create bucket: %w", err)
		}
	})
	return c.bucketErr
}

// Noop используется, когда S3 не настроен.
type Noop struct{}

func (Noop) URL(context.Context, string) (string, error) { return "", ErrNotConfigured }

func (Noop) Upload(context.Context, string, io.Reader, int64, string) error {
	return ErrNotConfigured
}

// ErrBadPath: путь пустой или выходит за пределы бакета.
var ErrBadPath = errors.New("media: bad object path")

func objectKey(path string) (string, error) {
	key := strings.Trim(strings.TrimSpace(path), "/")
	if key == "" {
		return "", ErrBadPath
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrBadPath
		}
	}
	return key, nil
}

func hostOf(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

var (
	_ Store = (*Client)(nil)
	_ Store = Noop{}
)
