package skycoord

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"spikepsf/pkg/contract"
)

// 单位字母格式：00h42m44.3s +41d16m09s
var (
	hmsRe = regexp.MustCompile(`^[+-]?\d+(\.\d*)?h(\d+(\.\d*)?m)?(\d+(\.\d*)?s)?$`)
	dmsRe = regexp.MustCompile(`^[+-]?\d+(\.\d*)?d(\d+(\.\d*)?m)?(\d+(\.\d*)?s)?$`)
)

// Parse 解析坐标串。
//   - 含 ':'：六十进制，RA 为时、Dec 为度；
//   - 单位字母（h/m/s、d/m/s）：按字母确定单位；
//   - 其余：十进制度。
//
// 分隔符为空白或逗号；无法解析时返回 ErrInvalidInput。
func Parse(s string) (contract.SkyCoord, error) {
	fields := splitPair(s)
	if len(fields) != 2 {
		return contract.SkyCoord{}, fmt.Errorf("%w: coordinate %q needs two fields", contract.ErrInvalidInput, s)
	}
	var ra, dec float64
	var err error
	switch {
	case strings.Contains(fields[0], ":") || strings.Contains(fields[1], ":"):
		if ra, err = sexagesimal(fields[0]); err != nil {
			return contract.SkyCoord{}, err
		}
		ra *= 15
		if dec, err = sexagesimal(fields[1]); err != nil {
			return contract.SkyCoord{}, err
		}
	case hmsRe.MatchString(strings.ToLower(fields[0])) || dmsRe.MatchString(strings.ToLower(fields[0])):
		if ra, err = unitAngle(fields[0]); err != nil {
			return contract.SkyCoord{}, err
		}
		if dec, err = unitAngle(fields[1]); err != nil {
			return contract.SkyCoord{}, err
		}
		if strings.ContainsRune(strings.ToLower(fields[1]), 'h') {
			return contract.SkyCoord{}, fmt.Errorf("%w: declination %q in hours", contract.ErrInvalidInput, fields[1])
		}
	default:
		if ra, err = strconv.ParseFloat(fields[0], 64); err != nil {
			return contract.SkyCoord{}, fmt.Errorf("%w: ra %q", contract.ErrInvalidInput, fields[0])
		}
		if dec, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return contract.SkyCoord{}, fmt.Errorf("%w: dec %q", contract.ErrInvalidInput, fields[1])
		}
	}
	if math.IsNaN(ra) || math.IsInf(ra, 0) || dec < -90 || dec > 90 || math.IsNaN(dec) {
		return contract.SkyCoord{}, fmt.Errorf("%w: coordinate %q out of range", contract.ErrInvalidInput, s)
	}
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	return contract.SkyCoord{RA: ra, Dec: dec}, nil
}

// IsName 报告输入是否应交给名称解析（含字母且不是单位字母格式的坐标）。
func IsName(s string) bool {
	if _, err := Parse(s); err == nil {
		return false
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func splitPair(s string) []string {
	s = strings.TrimSpace(s)
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(f) == 2 {
		return f
	}
	// "00 42 44.3 +41 16 09"：六段空白分隔的六十进制
	if len(f) == 6 {
		return []string{strings.Join(f[:3], ":"), strings.Join(f[3:], ":")}
	}
	return f
}

// sexagesimal 解析 "dd:mm:ss.s"（可带符号），返回十进制值。
func sexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")
	parts := strings.Split(s, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: sexagesimal %q", contract.ErrInvalidInput, s)
	}
	var v float64
	div := 1.0
	for i, p := range parts {
		if p == "" {
			return 0, fmt.Errorf("%w: sexagesimal %q", contract.ErrInvalidInput, s)
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("%w: sexagesimal %q", contract.ErrInvalidInput, s)
		}
		if i > 0 && f >= 60 {
			return 0, fmt.Errorf("%w: sexagesimal %q field >= 60", contract.ErrInvalidInput, s)
		}
		v += f / div
		div *= 60
	}
	if neg {
		v = -v
	}
	return v, nil
}

// unitAngle 解析 "00h42m44.3s" / "+41d16m09s"；小时换算为度。
func unitAngle(s string) (float64, error) {
	low := strings.ToLower(strings.TrimSpace(s))
	hours := strings.Contains(low, "h")
	if !hmsRe.MatchString(low) && !dmsRe.MatchString(low) {
		return 0, fmt.Errorf("%w: angle %q", contract.ErrInvalidInput, s)
	}
	r := strings.NewReplacer("h", ":", "d", ":", "m", ":", "s", "")
	v, err := sexagesimal(strings.TrimRight(r.Replace(low), ":"))
	if err != nil {
		return 0, err
	}
	if hours {
		v *= 15
	}
	return v, nil
}

// Objects 将用户输入的目标串解析为坐标；名称经 nr 解析。
// 输出与输入一一对应，ID 保持原样。
func Objects(ctx context.Context, inputs []string, nr contract.NameResolver) ([]contract.Object, error) {
	out := make([]contract.Object, 0, len(inputs))
	for _, in := range inputs {
		id := strings.TrimSpace(in)
		if id == "" {
			return nil, fmt.Errorf("%w: empty object", contract.ErrInvalidInput)
		}
		if c, err := Parse(id); err == nil {
			out = append(out, contract.Object{ID: id, Coord: c})
			continue
		}
		if !IsName(id) {
			return nil, fmt.Errorf("%w: object %q is neither a coordinate nor a name", contract.ErrInvalidInput, id)
		}
		if nr == nil {
			return nil, fmt.Errorf("%w: %q (no name resolver configured)", contract.ErrNameResolution, id)
		}
		c, err := nr.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, contract.Object{ID: id, Coord: c})
	}
	return out, nil
}
