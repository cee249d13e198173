package stdpsf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spikepsf/pkg/contract"
	ext "spikepsf/plugins/external"
	genext "spikepsf/plugins/generator/external"
	"spikepsf/plugins/imagereader/fits"
)

// UT-STD-01: 网格地址
func TestGridURL(t *testing.T) {
	cases := []struct {
		instcam, filter, chip, want string
	}{
		{"ACS/WFC", "F814W", "1", DefaultHSTBase + "ACSWFC/STDPSF_ACSWFC_F814W_SM3.fits"},
		{"WFC3/UVIS", "f606w", "2", DefaultHSTBase + "WFC3UV/STDPSF_WFC3UV_F606W.fits"},
		{"WFC3/IR", "F139M", "1", DefaultHSTBase + "WFC3IR/STDPSF_WFC3IR_F139M_1x1.fits"},
		{"WFC3/IR", "F160W", "1", DefaultHSTBase + "WFC3IR/STDPSF_WFC3IR_F160W.fits"},
		{"WFPC2", "F555W", "3", DefaultHSTBase + "WFPC2/STDPSF_WFPC2_F555W.fits"},
		{"MIRI", "F770W", "MIRIMAGE", DefaultJWSTBase + "MIRI/STDPSF_MIRI_F770W.fits"},
		{"NIRCAM", "F444W", "NRCA5", DefaultJWSTBase + "NIRCam/LWC/STDPSF_NRCAL_F444W.fits"},
		{"NIRCAM", "F200W", "NRCB3", DefaultJWSTBase + "NIRCam/SWC/F200W/STDPSF_F200W_NRCB3.fits"},
	}
	for _, c := range cases {
		t.Run(c.instcam+"_"+c.filter, func(t *testing.T) {
			got, err := GridURL(DefaultHSTBase, DefaultJWSTBase, c.instcam, c.filter, c.chip)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}

	_, err := GridURL(DefaultHSTBase, DefaultJWSTBase, "WFPC1", "F555W", "1")
	assert.ErrorIs(t, err, contract.ErrIncompatibleBackend)
	_, err = GridURL(DefaultHSTBase, DefaultJWSTBase, "NIRCAM", "F999W", "NRCA1")
	assert.ErrorIs(t, err, contract.ErrFilterNotFound)
	_, err = GridURL(DefaultHSTBase, DefaultJWSTBase, "NIRCAM", "F200W", "")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// UT-STD-02: 探测器序号
func TestDetector(t *testing.T) {
	assert.Equal(t, "2", Detector("ACS/WFC", "2"))
	assert.Equal(t, "4", Detector("WFPC2", "4"))
	assert.Equal(t, "6", Detector("NIRCAM", "nrcb2"))
	assert.Equal(t, "1", Detector("WFC3/IR", "1"))
	assert.Equal(t, "1", Detector("NIRCAM", "NRCA5"))
}

func newGen(t *testing.T, eval genext.Options, srvURL string) *Generator {
	t.Helper()
	g, err := New(Options{Eval: eval, CacheDir: t.TempDir(), HSTBase: srvURL, JWSTBase: srvURL, MaxTries: 3})
	require.NoError(t, err)
	g.initial = time.Millisecond
	return g
}

// UT-STD-03: 下载重试一次后命中缓存；4xx 不重试
func TestFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		switch {
		case r.URL.Path == "/missing.fits":
			http.NotFound(w, r)
		case n == 1:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte("GRID"))
		}
	}))
	defer srv.Close()

	g := newGen(t, genext.Options{Options: ext.Options{Binary: "true"}}, srv.URL)
	p, err := g.Fetch(context.Background(), srv.URL+"/ACSWFC/grid.fits")
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "GRID", string(b))
	assert.EqualValues(t, 2, hits.Load())

	_, err = g.Fetch(context.Background(), srv.URL+"/ACSWFC/grid.fits")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load(), "第二次命中缓存")

	hits.Store(10)
	_, err = g.Fetch(context.Background(), srv.URL+"/missing.fits")
	var ue contract.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusNotFound, ue.UpstreamStatus())
	assert.EqualValues(t, 11, hits.Load())
}

// UT-STD-04: 求值命令获得 {grid} 与 {detector}
func TestGenerate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs sh")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("GRID"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tmpl := filepath.Join(dir, "tmpl.fits")
	require.NoError(t, fits.WriteFile(tmpl, fits.Plane{Width: 3, Height: 3, Data: make([]float64, 9)}))
	marker := filepath.Join(dir, "args.txt")
	g := newGen(t, genext.Options{Options: ext.Options{
		Binary: "sh",
		Args:   []string{"-c", `echo "$1 $2" > "$4"; cp "$3" "$5"`, "sh", "{grid}", "{detector}", tmpl, marker, "{output}"},
	}}, srv.URL)

	req := contract.GenerateRequest{
		Coord:      contract.SkyCoord{RA: 1, Dec: 2},
		Image:      filepath.Join(dir, "jx_flc.fits"),
		InstCam:    "ACS/WFC",
		Position:   contract.PositionRecord{X: 10, Y: 20, Chip: "2", Filter: "F606W"},
		PlateScale: 0.05,
	}
	m, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Width)
	b, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(g.cache, "STDPSF_ACSWFC_F606W_SM3.fits")+" 2\n", string(b))

	req.InstCam = "WFPC"
	_, err = g.Generate(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrIncompatibleBackend)
}
