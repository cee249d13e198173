package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"spikepsf/pkg/contract"
)

// Code 是错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"

	CodeUnsupportedInstrument Code = "unsupported_instrument"
	CodeFilterNotFound        Code = "filter_not_found"
	CodeUnknownMethod         Code = "unknown_method"
	CodeIncompatibleBackend   Code = "incompatible_backend"
	CodeMalformedArtifact     Code = "malformed_artifact_name"
	CodeGeneration            Code = "generation_failure"
	CodeNameResolution        Code = "name_resolution"
	CodeProjection            Code = "unsupported_projection"
)

var taxonomy = []struct {
	err  error
	code Code
}{
	{contract.ErrUnsupportedInstrument, CodeUnsupportedInstrument},
	{contract.ErrFilterNotFound, CodeFilterNotFound},
	{contract.ErrUnknownMethod, CodeUnknownMethod},
	{contract.ErrIncompatibleBackend, CodeIncompatibleBackend},
	{contract.ErrMalformedArtifactName, CodeMalformedArtifact},
	{contract.ErrGenerationFailure, CodeGeneration},
	{contract.ErrNameResolution, CodeNameResolution},
	{contract.ErrUnsupportedProjection, CodeProjection},
}

// Classify 将错误归类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.code
		}
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var uerr contract.UpstreamError
	if errors.As(err, &uerr) {
		return CodeProtocol
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
