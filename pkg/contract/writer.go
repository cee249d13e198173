package contract

//go:generate mockgen -destination=mocks/mock_writer.go -package=mocks -source=writer.go Writer

import (
	"context"
	"io"
)

// ArtifactID 标识一份运行产物（组清单、工作副本）；与 FileID 同一表示。
type ArtifactID = FileID

// Writer 持久化运行产物：本地目录（fs）或 S3 兼容对象存储（s3）。
//   - 同一 ArtifactID 覆盖写，调用方保证单写者；
//   - 流式透传 r，不解析内容；
//   - ctx 取消时尽快返回，错误原样上抛，不重试。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
