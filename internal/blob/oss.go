package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig holds Aliyun OSS settings.
type OSSConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	// PublicBaseURL overrides the https://<bucket>.<endpoint> URL prefix,
	// e.g. for a CDN domain.
	PublicBaseURL string
	Prefix        string
}

// OSSStore uploads to an Aliyun OSS bucket.
type OSSStore struct {
	bucket  *oss.Bucket
	baseURL string
	prefix  string
}

var _ Store = (*OSSStore)(nil)

// NewOSSStore connects to the configured bucket.
func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("oss endpoint and bucket are required")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL, err = bucketURL(cfg.Endpoint, cfg.Bucket)
		if err != nil {
			return nil, err
		}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "attachments"
	}

	return &OSSStore{
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  prefix,
	}, nil
}

// Upload stores data under a fresh key. The OSS SDK has no context support,
// so cancellation is only checked before the request starts.
func (s *OSSStore) Upload(ctx context.Context, data []byte, name, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := objectKey(s.prefix, name)
	opts := []oss.Option{oss.ContentLength(int64(len(data)))}
	if mimeType != "" {
		opts = append(opts, oss.ContentType(mimeType))
	}
	if err := s.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return s.baseURL + "/" + key, nil
}

func bucketURL(endpoint, bucket string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid oss endpoint: %w", err)
	}
	u.Host = bucket + "." + u.Host
	u.Path = ""
	return u.String(), nil
}
