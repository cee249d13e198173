package contract

//go:generate mockgen -destination=mocks/mock_backend.go -package=mocks -source=backend.go Generator

import (
	"context"
	"strings"
)

// GenerateRequest: 一次生成调用的输入（坐标、曝光、仪器/相机、像素位置与透传参数）。
type GenerateRequest struct {
	Coord       SkyCoord
	Image       string
	InstCam     string
	Position    PositionRecord
	PlateScale  float64
	WorkingCopy string
	Kwargs      map[string]any
}

// PSFModel: 生成结果。核心只关心是否存在，不解释像素内容。
type PSFModel struct {
	// Path: 后端落盘的模型文件（可为空）。
	Path   string
	Width  int
	Height int
	// Data: 行优先像素（可为空，后端只写文件时不回填）。
	Data []float64
}

// Empty 报告模型是否缺失。
func (m PSFModel) Empty() bool { return m.Width <= 0 || m.Height <= 0 }

// Generator: PSF 生成策略。
// 约束：同步返回；可自行做文件 I/O；应尊重 ctx 取消。
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (PSFModel, error)
}

// GeneratorFunc 让普通函数满足 Generator。
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (PSFModel, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (PSFModel, error) {
	return f(ctx, req)
}

// Compatibility: 方法的仪器约束（数据而非分支）。
// 条目可为 "INST" 或 "INST/CAMERA"，大小写不敏感。
//   - Required 非空时，仪器必须命中其一，否则 ErrIncompatibleBackend；
//   - Forbidden 命中即 ErrIncompatibleBackend；
//   - Recommended 非空且未命中时仅告警。
type Compatibility struct {
	Required    []string
	Recommended []string
	Forbidden   []string
	// Advice: 告警时附带的提示文本。
	Advice string
}

// Match 报告 instCam 是否命中集合中的任一条目。
func Match(set []string, instrument, camera string) bool {
	inst := strings.ToUpper(strings.TrimSpace(instrument))
	full := InstCam(instrument, camera)
	for _, s := range set {
		e := strings.ToUpper(strings.TrimSpace(s))
		if e == inst || e == full {
			return true
		}
	}
	return false
}

// BackendKind 区分内置方法与用户方法的两种形态。
type BackendKind int

const (
	KindBuiltin BackendKind = iota
	KindUserFunc
	KindUserGlob
)

func (k BackendKind) String() string {
	switch k {
	case KindUserFunc:
		return "user-func"
	case KindUserGlob:
		return "user-glob"
	default:
		return "builtin"
	}
}

// BackendHandle: 已选定的生成策略，注册后不可变。
type BackendHandle struct {
	Method    string
	Kind      BackendKind
	Generator Generator // KindUserGlob 时为 nil
	Glob      string    // 仅 KindUserGlob
	Rules     Compatibility
}

// Collects 报告该句柄是否切换到“收集预生成工件”模式。
func (h BackendHandle) Collects() bool { return h.Kind == KindUserGlob }

// UserBackend: 用户方法的显式联合类型：UserFunc | ArtifactGlob。
type UserBackend interface {
	isUserBackend()
}

// UserFunc: 直接作为生成函数使用。
type UserFunc struct {
	Generator Generator
}

// ArtifactGlob: 预生成工件的文件匹配模式；不执行生成。
type ArtifactGlob struct {
	Pattern string
}

func (UserFunc) isUserBackend()     {}
func (ArtifactGlob) isUserBackend() {}
