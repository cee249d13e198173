package geometry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"spikepsf/pkg/contract"
)

// ChipSource: 芯片标识的来源。
type ChipSource int

const (
	// FromExtension: 使用布局中声明的 ID（按扩展位置固定）。
	FromExtension ChipSource = iota
	// FromDetectorKeyword: 读取主头 DETECTOR（NIRCAM）。
	FromDetectorKeyword
	// FromFilenameSCA: 由文件名中的 SCA 序号生成 SCAnn（Roman WFI）。
	FromFilenameSCA
)

// Chip: 单个科学芯片。
type Chip struct {
	// Ext: 多扩展文件中的 HDU 序号。
	Ext int
	// ID: 报告给下游的芯片标识；单芯片仪器为 "0"。
	ID string
	// Width/Height: 名义像素范围 [0,Width)×[0,Height)；图像头 NAXIS 存在时以其为准。
	Width  int
	Height int
	// PlateScale: 芯片级像元角尺度（角秒/像素）；0 表示沿用布局值。
	PlateScale float64
}

// Layout: (instrument, camera) 的不可变芯片布局。Chips 即解析时的迭代顺序。
type Layout struct {
	Instrument   string
	Camera       string
	Chips        []Chip
	PlateScale   float64
	FilterPrefix string
	ChipSource   ChipSource
}

// InstCam 返回布局的组合名。
func (l Layout) InstCam() string { return contract.InstCam(l.Instrument, l.Camera) }

// ScaleFor 返回芯片的像元角尺度；NIRCAM 长/短波通道按探测器名区分。
func (l Layout) ScaleFor(chip string) float64 {
	if l.Instrument == "NIRCAM" {
		if isNircamLong(chip) {
			return nircamLong
		}
		return nircamShort
	}
	for _, c := range l.Chips {
		if c.ID == chip && c.PlateScale > 0 {
			return c.PlateScale
		}
	}
	return l.PlateScale
}

// ChipID 按布局的芯片来源给出最终标识。
func (l Layout) ChipID(c Chip, primary contract.Header, imagePath string) string {
	switch l.ChipSource {
	case FromDetectorKeyword:
		det, ok := primary.String("DETECTOR")
		if !ok {
			return c.ID
		}
		det = strings.ToUpper(det)
		if det == "NRCALONG" || det == "NRCBLONG" {
			det = strings.Replace(det, "LONG", "5", 1)
		}
		return det
	case FromFilenameSCA:
		if n := scaFromName(imagePath); n != "" {
			return "SCA" + n
		}
		return c.ID
	default:
		return c.ID
	}
}

const (
	nircamLong  = 0.063
	nircamShort = 0.031
)

func isNircamLong(chip string) bool {
	switch strings.ToUpper(chip) {
	case "NRCA5", "NRCB5", "NRCALONG", "NRCBLONG":
		return true
	}
	return false
}

var scaRe = regexp.MustCompile(`(?i)(?:sca|wfi)(\d{1,2})`)

// scaFromName 取 SCA 序号：优先 sca/wfi 前缀，其次文件名最后一个 '_' 段中的纯数字。
func scaFromName(p string) string {
	base := filepath.Base(p)
	if m := scaRe.FindStringSubmatch(base); m != nil {
		return pad2(m[1])
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if len(last) > 2 {
		return ""
	}
	return pad2(last)
}

func pad2(digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%02d", n)
}

// 注册表（只读）。键为 InstCam 组合名。
var table = map[string]Layout{}

// 别名：同一布局的其它写法。
var aliases = map[string]string{
	"WFPC1":         "WFPC",
	"NIRISS":        "NIRISS/IMAGING",
	"NIRISS/IMAGER": "NIRISS/IMAGING",
	"WFC3/UV":       "WFC3/UVIS",
	"JWST/MIRI":     "MIRI",
	"JWST/NIRCAM":   "NIRCAM",
	"ROMAN/WFI":     "WFI",
	"ROMAN/CGI":     "CGI",
}

// 无相机维度的仪器：camera 被忽略。
var cameraless = map[string]bool{
	"WFPC": true, "WFPC1": true, "WFPC2": true,
	"MIRI": true, "NIRCAM": true, "WFI": true, "CGI": true,
}

func register(l Layout) {
	if l.FilterPrefix == "" {
		l.FilterPrefix = "F"
	}
	table[l.InstCam()] = l
}

func single(inst, cam string, w, h int, scale float64, src ChipSource) Layout {
	return Layout{
		Instrument: inst,
		Camera:     cam,
		Chips:      []Chip{{Ext: 1, ID: "0", Width: w, Height: h}},
		PlateScale: scale,
		ChipSource: src,
	}
}

func init() {
	// 双芯片：后一个扩展为 chip "1"，前一个为 chip "2"，迭代顺序 [ext4, ext1]。
	register(Layout{
		Instrument: "ACS", Camera: "WFC", PlateScale: 0.05,
		Chips: []Chip{
			{Ext: 4, ID: "1", Width: 4096, Height: 2048},
			{Ext: 1, ID: "2", Width: 4096, Height: 2048},
		},
	})
	register(Layout{
		Instrument: "WFC3", Camera: "UVIS", PlateScale: 0.039,
		Chips: []Chip{
			{Ext: 4, ID: "1", Width: 4096, Height: 2051},
			{Ext: 1, ID: "2", Width: 4096, Height: 2051},
		},
	})

	// 拼接相机：按扩展顺序。WFPC 1–4 为广角，5–8 为行星相机。
	wfpc := Layout{Instrument: "WFPC", PlateScale: 0.1016}
	for i := 1; i <= 8; i++ {
		c := Chip{Ext: i, ID: fmt.Sprint(i), Width: 800, Height: 800}
		if i >= 5 {
			c.PlateScale = 0.0439
		}
		wfpc.Chips = append(wfpc.Chips, c)
	}
	register(wfpc)

	wfpc2 := Layout{Instrument: "WFPC2", PlateScale: 0.1}
	for i := 1; i <= 4; i++ {
		c := Chip{Ext: i, ID: fmt.Sprint(i), Width: 800, Height: 800}
		if i == 1 {
			c.PlateScale = 0.046
		}
		wfpc2.Chips = append(wfpc2.Chips, c)
	}
	register(wfpc2)

	// 单芯片：芯片标识无意义，报告为 "0"。
	register(single("ACS", "HRC", 1024, 1024, 0.025, FromExtension))
	register(single("WFC3", "IR", 1014, 1014, 0.13, FromExtension))
	register(single("MIRI", "", 1032, 1024, 0.11, FromExtension))
	register(single("NIRCAM", "", 2048, 2048, nircamShort, FromDetectorKeyword))
	register(single("NIRISS", "IMAGING", 2048, 2048, 0.066, FromExtension))
	register(single("WFI", "", 4088, 4088, 0.11, FromFilenameSCA))
	register(single("CGI", "", 1024, 1024, 0.0218, FromExtension))
}

func key(instrument, camera string) string {
	inst := strings.ToUpper(strings.TrimSpace(instrument))
	if cameraless[inst] {
		camera = ""
	}
	k := contract.InstCam(inst, camera)
	if a, ok := aliases[k]; ok {
		return a
	}
	if a, ok := aliases[inst]; ok && camera == "" {
		return a
	}
	return k
}

// LayoutFor 返回 (instrument, camera) 的布局；未登记时返回 ErrUnsupportedInstrument。
func LayoutFor(instrument, camera string) (Layout, error) {
	l, ok := table[key(instrument, camera)]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %s", contract.ErrUnsupportedInstrument, contract.InstCam(instrument, camera))
	}
	out := l
	out.Chips = append([]Chip(nil), l.Chips...)
	return out, nil
}

// Registered 返回已登记的组合名（字典序）。
func Registered() []string {
	out := make([]string, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
