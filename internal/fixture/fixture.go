// Package fixture 为测试写出带 TAN WCS 的最小 FITS 曝光。
package fixture

import (
	"fmt"
	"os"
	"path/filepath"

	"spikepsf/pkg/contract"
	"spikepsf/plugins/imagereader/fits"
)

// Exposure: 单芯片曝光描述；零值字段取 WFC3/IR 默认。
type Exposure struct {
	Dir        string
	Stem       string
	ImgType    string // 默认 "_flt"
	Instrument string // 默认 "WFC3"
	Detector   string // 默认 "IR"
	Filter     string
	RA, Dec    float64
	// Size: 像素边长，默认 64；参考像元位于中心。
	Size int
	// Scale: 角秒/像素，默认 0.13。
	Scale float64
}

// Write 写出曝光并返回路径。
func Write(e Exposure) (string, error) {
	if e.Stem == "" || e.Filter == "" {
		return "", fmt.Errorf("%w: fixture needs stem and filter", contract.ErrInvalidInput)
	}
	if e.ImgType == "" {
		e.ImgType = "_flt"
	}
	if e.Instrument == "" {
		e.Instrument = "WFC3"
	}
	if e.Detector == "" {
		e.Detector = "IR"
	}
	if e.Size <= 0 {
		e.Size = 64
	}
	if e.Scale <= 0 {
		e.Scale = 0.13
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(e.Dir, e.Stem+e.ImgType+".fits")
	deg := e.Scale / 3600
	ref := float64(e.Size)/2 + 0.5
	err := fits.WriteFile(p,
		fits.Plane{
			Header: contract.Header{"INSTRUME": e.Instrument, "DETECTOR": e.Detector, "FILTER": e.Filter},
			Width:  1,
			Height: 1,
			Data:   []float64{0},
		},
		fits.Plane{
			Name:   "SCI",
			Width:  e.Size,
			Height: e.Size,
			Data:   make([]float64, e.Size*e.Size),
			Header: contract.Header{
				"CTYPE1": "RA---TAN",
				"CTYPE2": "DEC--TAN",
				"CRVAL1": e.RA,
				"CRVAL2": e.Dec,
				"CRPIX1": ref,
				"CRPIX2": ref,
				"CD1_1":  -deg,
				"CD2_2":  deg,
			},
		},
	)
	if err != nil {
		return "", err
	}
	return p, nil
}
