package preflight

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"impulse/internal/common"
	"impulse/internal/task"
	"impulse/pkg/queue"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string]bool
	buckets map[string]bool
	stats   []string
	err     error
}

func (s *fakeStore) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	s.stats = append(s.stats, bucket+"/"+object)
	if s.err != nil {
		return minio.ObjectInfo{}, s.err
	}
	if !s.objects[bucket+"/"+object] {
		return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	}
	return minio.ObjectInfo{Key: object}, nil
}

func (s *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.buckets[bucket], nil
}

func request() *task.Request {
	return &task.Request{
		Pipeline: "p1", Job: "j1", Task: "t1", Build: "7",
		Output: queue.Location{Bucket: "out", Object: "t1.tgz"},
		Resources: map[string]queue.Location{
			"src":  {Bucket: "in", Object: "src.tgz"},
			"deps": {Bucket: "cache", Object: "mod.tgz"},
		},
	}
}

func TestMinioChecker_AllPresent(t *testing.T) {
	store := &fakeStore{
		objects: map[string]bool{"in/src.tgz": true, "cache/mod.tgz": true},
		buckets: map[string]bool{"out": true},
	}
	c := &MinioChecker{store: store}

	require.NoError(t, c.Check(context.Background(), request()))
	assert.Equal(t, []string{"cache/mod.tgz", "in/src.tgz"}, store.stats)
}

func TestMinioChecker_MissingInput(t *testing.T) {
	store := &fakeStore{
		objects: map[string]bool{"cache/mod.tgz": true},
		buckets: map[string]bool{"out": true},
	}
	c := &MinioChecker{store: store}

	err := c.Check(context.Background(), request())
	assert.ErrorIs(t, err, common.NewErrNo(common.INPUT_MISSING))
	assert.Contains(t, err.Error(), "src")
	assert.Contains(t, err.Error(), "NoSuchKey")
}

func TestMinioChecker_MissingOutputBucket(t *testing.T) {
	store := &fakeStore{
		objects: map[string]bool{"in/src.tgz": true, "cache/mod.tgz": true},
		buckets: map[string]bool{},
	}
	c := &MinioChecker{store: store}

	err := c.Check(context.Background(), request())
	assert.ErrorIs(t, err, common.NewErrNo(common.INPUT_MISSING))
	assert.Contains(t, err.Error(), "out")
}

func TestMinioChecker_NoOutputNoInputs(t *testing.T) {
	store := &fakeStore{err: errors.New("unreachable")}
	c := &MinioChecker{store: store}

	req := request()
	req.Resources = map[string]queue.Location{}
	req.Output = queue.Location{}
	assert.NoError(t, c.Check(context.Background(), req))
}

func TestMinioChecker_StoreDown(t *testing.T) {
	c := &MinioChecker{store: &fakeStore{err: errors.New("dial tcp: connection refused")}}
	err := c.Check(context.Background(), request())
	assert.ErrorIs(t, err, common.NewErrNo(common.INPUT_MISSING))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewMinioChecker(t *testing.T) {
	c, err := NewMinioChecker("localhost:9000", "ak", "sk", false)
	require.NoError(t, err)
	assert.NotNil(t, c.store)
}
