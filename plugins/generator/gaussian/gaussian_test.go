package gaussian

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spikepsf/internal/wcs"
	"spikepsf/pkg/contract"
	"spikepsf/plugins/imagereader/fits"
)

// UT-GAU-01: 归一化与峰值位置
func TestRender(t *testing.T) {
	d := Render(11, 5, 5, 1.5)
	var sum float64
	peak := 0
	for i, v := range d {
		sum += v
		if v > d[peak] {
			peak = i
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, 5*11+5, peak)
	assert.InDelta(t, d[5*11+4], d[5*11+6], 1e-15, "对称")
}

// UT-GAU-02: 写出模型文件，头中 WCS 指向目标坐标
func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	g, err := New(Options{})
	require.NoError(t, err)
	req := contract.GenerateRequest{
		Coord:      contract.SkyCoord{RA: 10.5, Dec: -20.25},
		Image:      filepath.Join(dir, "ja_flc.fits"),
		InstCam:    "ACS/WFC",
		Position:   contract.PositionRecord{X: 100.2, Y: 50.7, Chip: "1", Filter: "F814W"},
		PlateScale: 0.05,
		Kwargs:     map[string]any{"fov_arcsec": 1.0},
	}
	m, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.ModelName(req.Image, req.Coord, "F814W", contract.CoordDeg), m.Path)
	assert.Equal(t, 21, m.Width)
	assert.Equal(t, 21, m.Height)

	im, err := fits.New(nil).ReadHeaders(context.Background(), m.Path)
	require.NoError(t, err)
	h := im.Primary()
	meth, _ := h.String("PSFMETH")
	assert.Equal(t, "gaussian", meth)
	tr, err := wcs.FromHeader(h)
	require.NoError(t, err)
	ra, dec := tr.PixelToWorld(10+0.2, 10-0.3)
	assert.InDelta(t, 10.5, ra, 1e-9)
	assert.InDelta(t, -20.25, dec, 1e-9)
}

// UT-GAU-03: 参数校验
func TestParams(t *testing.T) {
	g, err := New(Options{FWHMArcsec: 0.2, Oversample: 2})
	require.NoError(t, err)
	p, err := g.Resolve(map[string]any{"fov_arcsec": "3"})
	require.NoError(t, err)
	assert.Equal(t, Params{FWHMArcsec: 0.2, FOVArcsec: 3, Oversample: 2}, p)

	_, err = g.Resolve(map[string]any{"fwhm_arcsec": -1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(Options{Oversample: -1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(Options{CoordFormat: "rad"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = g.Generate(context.Background(), contract.GenerateRequest{Image: "/x/a.fits"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
