package contract

import (
	"math"
	"strings"
)

// FileID: 逻辑文件标识（通常为路径，需规范化，跨平台一致）。
type FileID string

// SkyCoord: 天球坐标（ICRS，单位：度）。
type SkyCoord struct {
	RA  float64
	Dec float64
}

// Object: 一个待建模目标。ID 为用户给出的原样标识（名称或坐标串），用作分组键。
type Object struct {
	ID    string
	Coord SkyCoord
}

// PositionRecord: 天球坐标在某一曝光上的像素位置。
// 约束：
//  1. 由 resolver 按 (image, coordinate) 创建一次，此后只读；
//  2. 落在所有芯片之外时为哨兵值：X/Y 为 NaN，Chip/Filter 为空。
type PositionRecord struct {
	X      float64
	Y      float64
	Chip   string // 单芯片仪器为 "0"
	Filter string
}

// OffDetector 返回“不在探测器上”的哨兵记录。
func OffDetector() PositionRecord {
	return PositionRecord{X: math.NaN(), Y: math.NaN()}
}

// OnDetector 报告记录是否为有效像素位置。
func (p PositionRecord) OnDetector() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y)
}

// GroupKey: 聚合键 (object, filter)。
type GroupKey struct {
	Object string
	Filter string
}

// GenerationJob: 单个 PSF 生成工作单元。
// 由 scheduler 创建，仅被执行它的 worker 独占持有。
type GenerationJob struct {
	Object      string
	Image       string
	Coord       SkyCoord
	Position    PositionRecord
	InstCam     string
	PlateScale  float64
	Method      string
	Kwargs      map[string]any
	WorkingCopy string
}

// InstCam 组合仪器与相机名，例如 "ACS/WFC"、"WFC3/IR"、"MIRI"。
func InstCam(instrument, camera string) string {
	inst := strings.ToUpper(strings.TrimSpace(instrument))
	cam := strings.ToUpper(strings.TrimSpace(camera))
	if cam == "" {
		return inst
	}
	return inst + "/" + cam
}
