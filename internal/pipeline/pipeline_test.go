package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gopkg.in/yaml.v3"

	"spikepsf/pkg/contract"
	"spikepsf/pkg/contract/mocks"
	"spikepsf/plugins/generator/gaussian"
	"spikepsf/plugins/imagereader/fits"
	"spikepsf/plugins/source/filesystem"
)

const scale = 0.13 / 3600

// exposure 写出 WFC3/IR 单芯片曝光：64×64，中心指向 (ra, dec)。
func exposure(t *testing.T, dir, stem, filter string, ra, dec float64) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, stem+"_flt.fits")
	require.NoError(t, fits.WriteFile(p,
		fits.Plane{Header: contract.Header{"INSTRUME": "WFC3", "DETECTOR": "IR", "FILTER": filter}, Width: 1, Height: 1, Data: []float64{0}},
		fits.Plane{
			Name:   "SCI",
			Width:  64,
			Height: 64,
			Data:   make([]float64, 64*64),
			Header: contract.Header{
				"CTYPE1": "RA---TAN",
				"CTYPE2": "DEC--TAN",
				"CRVAL1": ra,
				"CRVAL2": dec,
				"CRPIX1": 32.5,
				"CRPIX2": 32.5,
				"CD1_1":  -scale,
				"CD2_2":  scale,
			},
		},
	))
	return p
}

// capture 记录写给 Writer 的清单。
type capture struct {
	mu   sync.Mutex
	ids  []string
	body []byte
}

func (c *capture) write(_ context.Context, id contract.ArtifactID, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, string(id))
	c.body = b
	return nil
}

func (c *capture) manifest(t *testing.T) Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, yaml.Unmarshal(c.body, &m))
	return m
}

func components(t *testing.T) Components {
	t.Helper()
	g, err := gaussian.New(gaussian.Options{})
	require.NoError(t, err)
	return Components{
		Source:     filesystem.New(nil),
		Reader:     fits.New(nil),
		Generators: map[string]contract.Generator{"gaussian": g},
	}
}

func settings(dir string) Settings {
	return Settings{
		Images:  []string{dir},
		ImgType: "_flt",
		Objects: []string{"150 2", "151 2"},
		Method:  "gaussian",
	}
}

// UT-PIP-01: 端到端：对齐按滤光片、重采样按 (目标, 滤光片)、清单写出
func TestRunEndToEnd(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		dir := t.TempDir()
		exposure(t, dir, "ia1", "F160W", 150, 2)
		exposure(t, dir, "ia2", "F160W", 150.0001, 2)
		exposure(t, dir, "ia3", "F110W", 150, 2.0001)

		ctrl := gomock.NewController(t)
		al := mocks.NewMockAligner(ctrl)
		rs := mocks.NewMockResampler(ctrl)
		wr := mocks.NewMockWriter(ctrl)
		al.EXPECT().Align(gomock.Any(), "F160W", gomock.Len(2)).Return(nil)
		al.EXPECT().Align(gomock.Any(), "F110W", gomock.Len(1)).Return(nil)
		var reqs []contract.ResampleRequest
		var mu sync.Mutex
		rs.EXPECT().Resample(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req contract.ResampleRequest) error {
			mu.Lock()
			reqs = append(reqs, req)
			mu.Unlock()
			return nil
		}).Times(2)
		cp := &capture{}
		wr.EXPECT().Write(gomock.Any(), contract.ArtifactID("groups.yaml"), gomock.Any()).DoAndReturn(cp.write)

		comp := components(t)
		comp.Aligner, comp.Resampler, comp.Writer = al, rs, wr
		set := settings(dir)
		set.Parallel = parallel
		set.Workers = 2
		res, err := Run(context.Background(), comp, set, nil)
		require.NoError(t, err)

		assert.Equal(t, "gaussian", res.Method)
		assert.Equal(t, "WFC3/IR", res.InstCam)
		assert.Len(t, res.Images, 3)
		require.Len(t, res.Groups, 2)
		assert.Len(t, res.Groups[contract.GroupKey{Object: "150 2", Filter: "F160W"}], 2)
		assert.Len(t, res.Groups[contract.GroupKey{Object: "150 2", Filter: "F110W"}], 1)
		for _, p := range res.Groups[contract.GroupKey{Object: "150 2", Filter: "F160W"}] {
			assert.FileExists(t, p)
			assert.True(t, strings.HasSuffix(p, "_F160W_psf.fits"), p)
		}

		require.Len(t, reqs, 2)
		outs := []string{reqs[0].Output, reqs[1].Output}
		assert.ElementsMatch(t, []string{"150-2_F110W_psf", "150-2_F160W_psf"}, outs)

		m := cp.manifest(t)
		assert.Equal(t, "gaussian", m.Method)
		require.Len(t, m.Objects, 2)
		assert.Equal(t, "150 2", m.Objects[0].ID)
		assert.Len(t, m.Objects[0].Filters["F160W"], 2)
		assert.Equal(t, "151 2", m.Objects[1].ID)
		assert.Empty(t, m.Objects[1].Filters)
		require.NotNil(t, m.Objects[1].RA)
		assert.Equal(t, 151.0, *m.Objects[1].RA)
	}
}

// UT-PIP-02: keeporig 复制原始曝光；savedir 收集派生产物并改写清单路径
func TestKeepOrigAndCollect(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "raw")
	save := filepath.Join(root, "out")
	img := exposure(t, dir, "ib1", "F160W", 150, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stars.cat"), []byte("x"), 0o644))

	ctrl := gomock.NewController(t)
	wr := mocks.NewMockWriter(ctrl)
	cp := &capture{}
	wr.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(cp.write)

	comp := components(t)
	comp.Writer = wr
	set := settings(dir)
	set.Objects = []string{"150 2"}
	set.KeepOrig = true
	set.Pretweaked = true
	set.SaveDir = save
	res, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(root, "raw_orig", "ib1_flt.fits"))
	assert.FileExists(t, img, "输入曝光不被收集")
	assert.FileExists(t, filepath.Join(save, "stars.cat"))
	assert.Equal(t, 3, res.Moved, "模型、工作副本与星表")

	paths := res.Groups[contract.GroupKey{Object: "150 2", Filter: "F160W"}]
	require.Len(t, paths, 1)
	assert.Equal(t, save, filepath.Dir(paths[0]))
	assert.FileExists(t, paths[0])
	assert.Equal(t, paths, cp.manifest(t).Objects[0].Filters["F160W"])

	left, err := filepath.Glob(filepath.Join(dir, "*_psf*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

// UT-PIP-03: pretweaked 跳过对齐；drizzleimgs 按滤光片组合曝光
func TestPretweakedAndDrizzleImages(t *testing.T) {
	dir := t.TempDir()
	exposure(t, dir, "ic1", "F160W", 150, 2)
	exposure(t, dir, "ic2", "F110W", 150, 2)

	ctrl := gomock.NewController(t)
	al := mocks.NewMockAligner(ctrl)
	rs := mocks.NewMockResampler(ctrl)
	rs.EXPECT().Resample(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		rs.EXPECT().Resample(gomock.Any(), gomock.Cond(func(r contract.ResampleRequest) bool { return r.Output == "F110W_sci" })).Return(nil),
		rs.EXPECT().Resample(gomock.Any(), gomock.Cond(func(r contract.ResampleRequest) bool { return r.Output == "F160W_sci" })).Return(nil),
	)

	comp := components(t)
	comp.Aligner, comp.Resampler = al, rs
	set := settings(dir)
	set.Objects = []string{"150 2"}
	set.Pretweaked = true
	set.DrizzleImgs = true
	_, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
}

// UT-PIP-04: 配置与兼容性错误
func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	exposure(t, dir, "id1", "F160W", 150, 2)

	_, err := Run(context.Background(), Components{}, Settings{}, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	set := settings(dir)
	set.ImgType = "_flc"
	_, err = Run(context.Background(), components(t), set, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	set = settings(dir)
	set.Method = "webbpsf"
	_, err = Run(context.Background(), components(t), set, nil)
	assert.ErrorIs(t, err, contract.ErrIncompatibleBackend)

	set = settings(dir)
	set.Method = "nosuch"
	_, err = Run(context.Background(), components(t), set, nil)
	assert.ErrorIs(t, err, contract.ErrUnknownMethod)

	set = settings(dir)
	set.Objects = []string{"Andromeda"}
	_, err = Run(context.Background(), components(t), set, nil)
	assert.ErrorIs(t, err, contract.ErrNameResolution)
}

// UT-PIP-07: 后端不兼容或仪器未登记时，不复制、不对齐、不写任何文件
func TestRejectBeforeTouchingInputs(t *testing.T) {
	cases := []struct {
		name   string
		method string
		inst   string
		want   error
	}{
		{"incompatible backend", "webbpsf", "", contract.ErrIncompatibleBackend},
		{"unsupported instrument", "gaussian", "NICMOS", contract.ErrUnsupportedInstrument},
		{"unknown method", "nosuch", "", contract.ErrUnknownMethod},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "raw")
			img := exposure(t, dir, "ig1", "F160W", 150, 2)

			ctrl := gomock.NewController(t)
			al := mocks.NewMockAligner(ctrl)
			al.EXPECT().Align(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			wr := mocks.NewMockWriter(ctrl)
			wr.EXPECT().Write(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			comp := components(t)
			comp.Aligner, comp.Writer = al, wr
			set := settings(dir)
			set.Method = c.method
			set.Instrument = c.inst
			set.KeepOrig = true
			_, err := Run(context.Background(), comp, set, nil)
			require.ErrorIs(t, err, c.want)

			assert.NoDirExists(t, filepath.Join(root, "raw_orig"))
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1, "只剩原始曝光")
			assert.Equal(t, filepath.Base(img), entries[0].Name())
		})
	}
}

// UT-PIP-05: 名称经解析器；重采样失败使运行失败且不写清单
func TestNameResolverAndResampleFailure(t *testing.T) {
	dir := t.TempDir()
	exposure(t, dir, "ie1", "F160W", 150, 2)

	ctrl := gomock.NewController(t)
	nr := mocks.NewMockNameResolver(ctrl)
	nr.EXPECT().Lookup(gomock.Any(), "COSMOS-1").Return(contract.SkyCoord{RA: 150, Dec: 2}, nil)
	rs := mocks.NewMockResampler(ctrl)
	rs.EXPECT().Resample(gomock.Any(), gomock.Any()).Return(errors.New("drizzle exited 1"))
	wr := mocks.NewMockWriter(ctrl)

	comp := components(t)
	comp.NameResolver, comp.Resampler, comp.Writer = nr, rs, wr
	set := settings(dir)
	set.Objects = []string{"COSMOS-1"}
	set.Pretweaked = true
	_, err := Run(context.Background(), comp, set, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drizzle exited 1")
}

// UT-PIP-06: 预生成模式只收集，不定位不生成
func TestUserGlob(t *testing.T) {
	dir := t.TempDir()
	exposure(t, dir, "if1", "F160W", 150, 2)
	pre := filepath.Join(t.TempDir(), "if1_M31_F160W_psf.fits")
	require.NoError(t, os.WriteFile(pre, []byte("SIMPLE"), 0o644))

	comp := components(t)
	comp.Generators = nil
	set := settings(dir)
	set.Method = "user"
	set.Objects = nil
	set.Pretweaked = true
	set.UserGlob = filepath.Join(filepath.Dir(pre), "*_psf.fits")
	res, err := Run(context.Background(), comp, set, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{pre}, res.Groups[contract.GroupKey{Object: "M31", Filter: "F160W"}])
	assert.Empty(t, res.Objects)
}

func TestBuildManifestOrder(t *testing.T) {
	res := &Result{
		Method:  "tinytim",
		Objects: []contract.Object{{ID: "b"}, {ID: "a"}, {ID: "b"}},
		Groups: map[contract.GroupKey][]string{
			{Object: "a", Filter: "F1"}: {"/2", "/1"},
			{Object: "z", Filter: "F1"}: {"/3"},
		},
	}
	m := BuildManifest(res, "cid")
	require.Len(t, m.Objects, 3)
	assert.Equal(t, []string{"b", "a", "z"}, []string{m.Objects[0].ID, m.Objects[1].ID, m.Objects[2].ID})
	assert.Equal(t, []string{"/1", "/2"}, m.Objects[1].Filters["F1"])
	assert.Nil(t, m.Objects[2].RA)
	assert.Equal(t, "cid", m.CorrID)
}
