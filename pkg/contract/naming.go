package contract

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// CoordFormat: 坐标在文件名中的书写方式。
type CoordFormat string

const (
	// CoordDeg: 十进制度，例如 "23.31+30.12"。
	CoordDeg CoordFormat = "deg"
	// CoordHMS: 六十进制，例如 "01h33m51.10s+30d39m36.0s"。
	CoordHMS CoordFormat = "hms"
)

// CoordToken 生成 <ra><sign><dec>：Dec>=0 时插入 "+"，否则沿用负号。
func CoordToken(c SkyCoord, f CoordFormat) string {
	var ra, dec string
	switch f {
	case CoordHMS:
		h, m, s := sexagesimal(normRA(c.RA)/15, 2)
		if h >= 24 {
			h -= 24
		}
		ra = fmt.Sprintf("%02dh%02dm%05.2fs", h, m, s)
		d, dm, ds := sexagesimal(math.Abs(c.Dec), 1)
		dec = fmt.Sprintf("%02dd%02dm%04.1fs", d, dm, ds)
		if c.Dec < 0 {
			dec = "-" + dec
		}
	default:
		ra = trimFloat(normRA(c.RA))
		dec = trimFloat(c.Dec)
	}
	if strings.HasPrefix(dec, "-") {
		return ra + dec
	}
	return ra + "+" + dec
}

// WorkingCopyName: <stem>_<coord>_<filter>_topsf.fits，与源曝光同目录。
func WorkingCopyName(imagePath string, c SkyCoord, filter string, f CoordFormat) string {
	dir, stem := splitStem(imagePath)
	return filepath.Join(dir, stem+"_"+CoordToken(c, f)+"_"+filter+"_topsf.fits")
}

// ModelName: <stem>_<coord>_<filter>_psf.fits，后端独立模型文件。
func ModelName(imagePath string, c SkyCoord, filter string, f CoordFormat) string {
	dir, stem := splitStem(imagePath)
	return filepath.Join(dir, stem+"_"+CoordToken(c, f)+"_"+filter+"_psf.fits")
}

// ResampleOutput: 组合后的输出名前缀 <object>_<filter>_psf。
func ResampleOutput(object, filter string) string {
	return SanitizeToken(object) + "_" + SanitizeToken(filter) + "_psf"
}

// SanitizeToken 把标识中的空白、路径分隔符与下划线替换为 '-'，保证可被 '_' 切分。
func SanitizeToken(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '/', '\\', '_':
			return '-'
		}
		return r
	}, s)
}

// ArtifactName: <image-prefix>_<object-token>_<filter-token>_psf.<ext>
type ArtifactName struct {
	Prefix string
	Object string
	Filter string
	Ext    string
}

func (a ArtifactName) String() string {
	return a.Prefix + "_" + a.Object + "_" + a.Filter + "_psf." + a.Ext
}

// ParseArtifactName 按 '_' 切分文件基名，要求恰好 4 段且末段为 psf.<ext>。
func ParseArtifactName(path string) (ArtifactName, error) {
	base := filepath.Base(filepath.ToSlash(path))
	parts := strings.Split(base, "_")
	if len(parts) != 4 {
		return ArtifactName{}, fmt.Errorf("%w: %q has %d fields, want 4", ErrMalformedArtifactName, base, len(parts))
	}
	for i, p := range parts[:3] {
		if p == "" {
			return ArtifactName{}, fmt.Errorf("%w: %q field %d empty", ErrMalformedArtifactName, base, i)
		}
	}
	ext, ok := strings.CutPrefix(parts[3], "psf.")
	if !ok || ext == "" {
		return ArtifactName{}, fmt.Errorf("%w: %q does not end in _psf.<ext>", ErrMalformedArtifactName, base)
	}
	return ArtifactName{Prefix: parts[0], Object: parts[1], Filter: parts[2], Ext: ext}, nil
}

func splitStem(p string) (string, string) {
	dir := filepath.Dir(p)
	base := filepath.Base(p)
	ext := filepath.Ext(base)
	switch strings.ToLower(ext) {
	case ".fits", ".fit", ".fts":
		base = strings.TrimSuffix(base, ext)
	}
	return dir, base
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}

func normRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return ra
}

// sexagesimal 将非负值拆为 (整数, 分, 秒)，秒保留 prec 位小数并处理进位。
func sexagesimal(v float64, prec int) (int, int, float64) {
	scale := math.Pow(10, float64(prec))
	total := math.Round(v * 3600 * scale)
	whole := int64(total)
	unit := int64(3600 * scale)
	deg := whole / unit
	rem := whole % unit
	minUnit := int64(60 * scale)
	mins := rem / minUnit
	sec := float64(rem%minUnit) / scale
	return int(deg), int(mins), sec
}
