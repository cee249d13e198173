package contract

import (
	"errors"
	"fmt"
	"strings"
)

// 错误分类（运行期可用 errors.Is 判定）。
var (
	// ErrUnsupportedInstrument: (instrument, camera) 未在几何表中登记。
	ErrUnsupportedInstrument = errors.New("unsupported instrument")
	// ErrFilterNotFound: 主/备滤光片关键字均无法给出取值。
	ErrFilterNotFound = errors.New("filter not found")
	// ErrUnknownMethod: 生成方法名未注册。
	ErrUnknownMethod = errors.New("unknown method")
	// ErrIncompatibleBackend: 方法对该仪器有硬性限制。
	ErrIncompatibleBackend = errors.New("incompatible backend")
	// ErrMalformedArtifactName: 预生成工件名不符合命名约定。
	ErrMalformedArtifactName = errors.New("malformed artifact name")
	// ErrGenerationFailure: 生成后端调用失败（包装底层错误）。
	ErrGenerationFailure = errors.New("generation failure")

	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidInput: 输入无法解析（坐标串、配置值等）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrNameResolution: 天体名称无法解析为坐标。
	ErrNameResolution = errors.New("name resolution failed")
	// ErrUnsupportedProjection: 芯片头中的 WCS 投影不受支持。
	ErrUnsupportedProjection = errors.New("unsupported projection")
)

// UpstreamError 承载远端服务（名称解析、网格下载）的最小诊断信息。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// JobError 携带触发失败的 (object, image, coordinate) 三元组，
// 调用方修正单个输入后即可重跑。
type JobError struct {
	Kind   error
	Object string
	Image  string
	Coord  *SkyCoord
	Err    error
}

func (e *JobError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("job failed")
	}
	if e.Object != "" {
		fmt.Fprintf(&b, " object=%q", e.Object)
	}
	if e.Image != "" {
		fmt.Fprintf(&b, " image=%q", e.Image)
	}
	if e.Coord != nil {
		fmt.Fprintf(&b, " coord=(%.6f,%+.6f)", e.Coord.RA, e.Coord.Dec)
	}
	if e.Err != nil && e.Err != e.Kind {
		cause := e.Err.Error()
		if e.Kind != nil {
			cause = strings.TrimPrefix(cause, e.Kind.Error()+": ")
		}
		b.WriteString(": ")
		b.WriteString(cause)
	}
	return b.String()
}

// Unwrap 同时暴露分类标签与底层原因。
func (e *JobError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Triple 构造带三元组的错误；kind 取 err 所属的分类标签（若无则使用 fallback）。
func Triple(err, fallback error, object, image string, coord *SkyCoord) *JobError {
	kind := fallback
	for _, k := range []error{
		ErrUnsupportedInstrument, ErrFilterNotFound, ErrUnknownMethod,
		ErrIncompatibleBackend, ErrMalformedArtifactName, ErrGenerationFailure,
	} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}
	return &JobError{Kind: kind, Object: object, Image: image, Coord: coord, Err: err}
}
