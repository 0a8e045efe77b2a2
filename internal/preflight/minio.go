// Package preflight checks a task's object-store references before its job
// is submitted.
package preflight

import (
	"context"
	"fmt"
	"sort"

	"impulse/internal/common"
	"impulse/internal/task"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Checker interface {
	Check(ctx context.Context, req *task.Request) error
}

// objectStore is the part of *minio.Client the checker uses.
type objectStore interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// MinioChecker verifies that every input object exists and that the output
// bucket is there to write into.
type MinioChecker struct {
	store objectStore
}

func NewMinioChecker(endpoint, accessKey, secretKey string, secure bool) (*MinioChecker, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioChecker{store: client}, nil
}

func (c *MinioChecker) Check(ctx context.Context, req *task.Request) error {
	for _, name := range sortedNames(req) {
		loc := req.Resources[name]
		if _, err := c.store.StatObject(ctx, loc.Bucket, loc.Object, minio.StatObjectOptions{}); err != nil {
			resp := minio.ToErrorResponse(err)
			return common.WrapErrNo(common.INPUT_MISSING,
				fmt.Errorf("input %s (%s/%s): %s", name, loc.Bucket, loc.Object, describe(resp, err)))
		}
	}

	if req.Output.Bucket == "" {
		return nil
	}
	ok, err := c.store.BucketExists(ctx, req.Output.Bucket)
	if err != nil {
		return common.WrapErrNo(common.INPUT_MISSING, fmt.Errorf("output bucket %s: %w", req.Output.Bucket, err))
	}
	if !ok {
		return common.WrapErrNo(common.INPUT_MISSING, fmt.Errorf("output bucket %s does not exist", req.Output.Bucket))
	}
	return nil
}

func describe(resp minio.ErrorResponse, err error) string {
	if resp.Code != "" {
		return resp.Code
	}
	return err.Error()
}

func sortedNames(req *task.Request) []string {
	names := make([]string, 0, len(req.Resources))
	for name := range req.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
