package contract

//go:generate mockgen -destination=mocks/mock_image.go -package=mocks -source=image.go ImageReader,ImageSource

import (
	"context"
	"strconv"
	"strings"
)

// Header: 单个 HDU 的头关键字（键为大写）。值类型为 string/int/float64/bool。
type Header map[string]any

// String 返回字符串值（去除首尾空白）；非字符串值按格式化输出。
func (h Header) String(key string) (string, bool) {
	v, ok := h[strings.ToUpper(key)]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case int:
		return strconv.Itoa(t), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Float 返回数值；整型与可解析的字符串也被接受。
func (h Header) Float(key string) (float64, bool) {
	v, ok := h[strings.ToUpper(key)]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// Int 返回整数值。
func (h Header) Int(key string) (int, bool) {
	f, ok := h.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// HDU: 只读头信息与轴长（NAXISn 顺序）。
type HDU struct {
	Index  int
	Name   string
	Header Header
	Axes   []int
}

// Width/Height 返回前两轴长度；缺失为 0。
func (h HDU) Width() int {
	if len(h.Axes) < 1 {
		return 0
	}
	return h.Axes[0]
}

func (h HDU) Height() int {
	if len(h.Axes) < 2 {
		return 0
	}
	return h.Axes[1]
}

// Image: 一幅多扩展曝光的头信息视图（不含像素数据）。
type Image struct {
	Path string
	HDUs []HDU
}

// Primary 返回主头；无 HDU 时返回空头。
func (im *Image) Primary() Header {
	if im == nil || len(im.HDUs) == 0 {
		return Header{}
	}
	return im.HDUs[0].Header
}

// HDU 按扩展序号取 HDU。
func (im *Image) HDU(i int) (HDU, bool) {
	if im == nil || i < 0 || i >= len(im.HDUs) {
		return HDU{}, false
	}
	return im.HDUs[i], true
}

// ImageReader: 底层图像文件读取协作方（仅头信息）。
type ImageReader interface {
	ReadHeaders(ctx context.Context, path string) (*Image, error)
}

// ImageSource: 输入曝光发现。
// 约束：结果按字典序稳定；不做内容解析。
type ImageSource interface {
	List(ctx context.Context, roots []string, imgType string) ([]string, error)
}
