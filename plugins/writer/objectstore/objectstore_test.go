package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spikepsf/pkg/contract"
)

type fakeClient struct {
	exists  bool
	made    int
	objects map[string]string
	types   map[string]string
	putErr  error
}

func (f *fakeClient) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = string(b)
	f.types[key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(b))}, nil
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeClient) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func newFake() *fakeClient {
	return &fakeClient{objects: map[string]string{}, types: map[string]string{}}
}

// UT-OBJ-01: 选项校验
func TestValidate(t *testing.T) {
	ok := Options{Endpoint: "localhost:9000", Bucket: "psf", AccessKey: "a", SecretKey: "b"}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Endpoint = "http://localhost:9000"
	assert.ErrorIs(t, bad.Validate(), contract.ErrInvalidInput)
	bad = ok
	bad.Bucket = ""
	assert.ErrorIs(t, bad.Validate(), contract.ErrInvalidInput)

	t.Setenv("SPIKEPSF_S3_ACCESS_KEY", "")
	t.Setenv("SPIKEPSF_S3_SECRET_KEY", "")
	_, err := New(Options{Endpoint: "localhost:9000", Bucket: "psf"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	t.Setenv("SPIKEPSF_S3_ACCESS_KEY", "env-a")
	t.Setenv("SPIKEPSF_S3_SECRET_KEY", "env-b")
	s, err := New(Options{Endpoint: "localhost:9000", Bucket: "psf"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

// UT-OBJ-02: 键映射、建桶与上传
func TestWrite(t *testing.T) {
	fc := newFake()
	s := newStore(fc, Options{Bucket: "psf", Prefix: "/runs/42/", CreateBucket: true})
	require.NoError(t, s.Write(context.Background(), "groups.yaml", strings.NewReader("objects: {}\n")))
	require.NoError(t, s.Write(context.Background(), `sub\..\M31.fits`, strings.NewReader("x")))
	assert.Equal(t, 1, fc.made)
	assert.Equal(t, "objects: {}\n", fc.objects["psf/runs/42/groups.yaml"])
	assert.Equal(t, "application/yaml", fc.types["runs/42/groups.yaml"])
	assert.Contains(t, fc.objects, "psf/runs/42/M31.fits")

	_, err := s.Key("")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

// UT-OBJ-03: 缺桶、上传失败与取消
func TestWriteErrors(t *testing.T) {
	s := newStore(newFake(), Options{Bucket: "psf"})
	err := s.Write(context.Background(), "a.yaml", strings.NewReader(""))
	assert.ErrorContains(t, err, "bucket missing")

	fc := newFake()
	fc.exists = true
	fc.putErr = errors.New("503 slow down")
	s = newStore(fc, Options{Bucket: "psf"})
	assert.ErrorContains(t, s.Write(context.Background(), "a.yaml", strings.NewReader("")), "slow down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, "a.yaml", strings.NewReader("")), context.Canceled)
}
