// Package objectstore 把工件（组清单等）写入 S3 兼容对象存储。
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"spikepsf/pkg/contract"
)

// Options: 连接与目标位置；凭据优先取环境变量。
type Options struct {
	Endpoint     string `json:"endpoint"` // host:port，不含 scheme
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"`
	Region       string `json:"region"`
	UseSSL       bool   `json:"use_ssl"`
	AccessKeyEnv string `json:"access_key_env"`
	SecretKeyEnv string `json:"secret_key_env"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	// CreateBucket: 桶不存在时创建。
	CreateBucket bool `json:"create_bucket"`
}

func (o *Options) defaults() {
	if o.Region == "" {
		o.Region = "us-east-1"
	}
	if o.AccessKeyEnv == "" {
		o.AccessKeyEnv = "SPIKEPSF_S3_ACCESS_KEY"
	}
	if o.SecretKeyEnv == "" {
		o.SecretKeyEnv = "SPIKEPSF_S3_SECRET_KEY"
	}
	if v := os.Getenv(o.AccessKeyEnv); v != "" {
		o.AccessKey = v
	}
	if v := os.Getenv(o.SecretKeyEnv); v != "" {
		o.SecretKey = v
	}
}

// Validate 检查必填项。
func (o Options) Validate() error {
	switch {
	case strings.TrimSpace(o.Endpoint) == "":
		return fmt.Errorf("%w: objectstore: endpoint is required", contract.ErrInvalidInput)
	case strings.Contains(o.Endpoint, "://"):
		return fmt.Errorf("%w: objectstore: endpoint must not include scheme: %q", contract.ErrInvalidInput, o.Endpoint)
	case strings.TrimSpace(o.Bucket) == "":
		return fmt.Errorf("%w: objectstore: bucket is required", contract.ErrInvalidInput)
	case o.AccessKey == "" || o.SecretKey == "":
		return fmt.Errorf("%w: objectstore: missing credentials", contract.ErrInvalidInput)
	}
	return nil
}

// putter: 所需的 minio 客户端子集。
type putter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// Store 实现 contract.Writer。
type Store struct {
	c      putter
	bucket string
	prefix string
	region string
	create bool
	ready  bool
}

var _ contract.Writer = (*Store)(nil)

// New 创建对象存储 Writer；连接在首次写入时校验。
func New(opts Options) (*Store, error) {
	opts.defaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w", err)
	}
	return newStore(c, opts), nil
}

func newStore(c putter, opts Options) *Store {
	return &Store{c: c, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/"), region: opts.Region, create: opts.CreateBucket}
}

// Key 返回 id 对应的对象键（prefix/id，统一为 '/' 分隔）。
func (s *Store) Key(id contract.ArtifactID) (string, error) {
	k := strings.TrimLeft(string(contract.NormalizeFileID("/"+string(id))), "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("%w: empty artifact id", contract.ErrPathInvalid)
	}
	if s.prefix != "" {
		k = s.prefix + "/" + k
	}
	return k, nil
}

// Write 以流式上传（长度未知，由客户端分片）。
func (s *Store) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := s.Key(id)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err = s.c.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{ContentType: contentType(key)})
	if err != nil {
		return fmt.Errorf("objectstore put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	if s.ready {
		return nil
	}
	ok, err := s.c.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objectstore bucket %s: %w", s.bucket, err)
	}
	if !ok {
		if !s.create {
			return fmt.Errorf("objectstore bucket %s: %w", s.bucket, errors.New("bucket missing"))
		}
		if err := s.c.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("objectstore make bucket %s: %w", s.bucket, err)
		}
	}
	s.ready = true
	return nil
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	case ".fits", ".fit":
		return "application/fits"
	}
	return "application/octet-stream"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
