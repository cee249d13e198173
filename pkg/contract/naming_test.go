package contract

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// UT-NAM-01: 坐标串符号规则
func TestCoordToken(t *testing.T) {
	tests := []struct {
		name string
		c    SkyCoord
		f    CoordFormat
		want string
	}{
		{"正 Dec 插入加号", SkyCoord{RA: 23.31, Dec: 30.12}, CoordDeg, "23.31+30.12"},
		{"负 Dec 沿用负号", SkyCoord{RA: 195.78, Dec: -46.52}, CoordDeg, "195.78-46.52"},
		{"零 Dec", SkyCoord{RA: 10, Dec: 0}, CoordDeg, "10+0"},
		{"RA 归一", SkyCoord{RA: -10, Dec: 1.5}, CoordDeg, "350+1.5"},
		{"六十进制", SkyCoord{RA: 23.4621, Dec: 30.66}, CoordHMS, "01h33m51.10s+30d39m36.0s"},
		{"六十进制负 Dec", SkyCoord{RA: 0, Dec: -0.5}, CoordHMS, "00h00m00.00s-00d30m00.0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoordToken(tt.c, tt.f))
		})
	}
}

// UT-NAM-02: 工作副本命名
func TestWorkingCopyName(t *testing.T) {
	img := filepath.Join("data", "j8pu0bs7q_flc.fits")
	got := WorkingCopyName(img, SkyCoord{RA: 23.31, Dec: 30.12}, "F814W", CoordDeg)
	assert.Equal(t, filepath.Join("data", "j8pu0bs7q_flc_23.31+30.12_F814W_topsf.fits"), got)

	model := ModelName(img, SkyCoord{RA: 23.31, Dec: -30.12}, "F814W", CoordDeg)
	assert.Equal(t, filepath.Join("data", "j8pu0bs7q_flc_23.31-30.12_F814W_psf.fits"), model)
}

// UT-NAM-03: 预生成工件名解析
func TestParseArtifactName(t *testing.T) {
	a, err := ParseArtifactName("/tmp/psfs/icxe15wwq_M79_F160W_psf.fits")
	require.NoError(t, err)
	assert.Equal(t, ArtifactName{Prefix: "icxe15wwq", Object: "M79", Filter: "F160W", Ext: "fits"}, a)
	assert.Equal(t, "icxe15wwq_M79_F160W_psf.fits", a.String())

	bad := []string{
		"icxe15wwq_flc_M79_F160W_psf.fits",
		"icxe15wwq_M79_psf.fits",
		"icxe15wwq_M79_F160W_model.fits",
		"icxe15wwq__F160W_psf.fits",
		"icxe15wwq_M79_F160W_psf.",
	}
	for _, b := range bad {
		_, err := ParseArtifactName(b)
		require.ErrorIs(t, err, ErrMalformedArtifactName, b)
	}
}

// UT-NAM-04: 组合输出名清洗
func TestResampleOutput(t *testing.T) {
	assert.Equal(t, "M-79_F814W_psf", ResampleOutput("M 79", "F814W"))
	assert.Equal(t, "NGC-1-a_F200W_psf", ResampleOutput("NGC/1_a", "F200W"))
}

// UT-ERR-01: JobError 同时匹配标签与原因
func TestJobErrorUnwrap(t *testing.T) {
	cause := errors.New("tiny2 exited 1")
	c := SkyCoord{RA: 1, Dec: -2}
	err := error(&JobError{Kind: ErrGenerationFailure, Object: "M79", Image: "a_flc.fits", Coord: &c, Err: cause})
	wrapped := fmt.Errorf("scheduler: %w", err)

	assert.ErrorIs(t, wrapped, ErrGenerationFailure)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, err.Error(), `object="M79"`)
	assert.Contains(t, err.Error(), `image="a_flc.fits"`)
	assert.Contains(t, err.Error(), "coord=(1.000000,-2.000000)")

	var je *JobError
	require.ErrorAs(t, wrapped, &je)
	assert.Equal(t, "M79", je.Object)
}

// UT-ERR-02: Triple 识别已分类错误
func TestTriple(t *testing.T) {
	inner := fmt.Errorf("layout: %w", ErrUnsupportedInstrument)
	je := Triple(inner, ErrGenerationFailure, "", "x.fits", nil)
	assert.Equal(t, ErrUnsupportedInstrument, je.Kind)

	je = Triple(errors.New("boom"), ErrGenerationFailure, "o", "x.fits", nil)
	assert.Equal(t, ErrGenerationFailure, je.Kind)
}

// UT-ERR-03: 包裹分类标签的原因仍出现在消息中
func TestJobErrorKeepsCause(t *testing.T) {
	c := SkyCoord{RA: 10, Dec: 41}
	cause := fmt.Errorf("%w: %w", ErrGenerationFailure, errors.New("tiny1 exited with status 2: missing focus file"))
	je := Triple(cause, ErrGenerationFailure, "M31", "a_flt.fits", &c)
	assert.Equal(t, ErrGenerationFailure, je.Kind)
	msg := je.Error()
	assert.Contains(t, msg, "missing focus file")
	assert.Equal(t, `generation failure object="M31" image="a_flt.fits" coord=(10.000000,+41.000000): tiny1 exited with status 2: missing focus file`, msg)

	bare := &JobError{Kind: ErrGenerationFailure, Image: "a_flt.fits", Err: ErrGenerationFailure}
	assert.Equal(t, `generation failure image="a_flt.fits"`, bare.Error())
}

// UT-POS-01: 哨兵记录
func TestPositionRecordSentinel(t *testing.T) {
	off := OffDetector()
	assert.False(t, off.OnDetector())
	assert.Empty(t, off.Chip)
	assert.Empty(t, off.Filter)
	assert.True(t, PositionRecord{X: 1, Y: 2, Chip: "1"}.OnDetector())
}

// UT-CMP-01: 兼容性集合匹配
func TestMatch(t *testing.T) {
	set := []string{"ACS/WFC", "wfc3"}
	assert.True(t, Match(set, "acs", "wfc"))
	assert.False(t, Match(set, "ACS", "HRC"))
	assert.True(t, Match(set, "WFC3", "IR"))
	assert.False(t, Match(nil, "WFC3", "IR"))
}

// UT-HDR-01: 头关键字取值
func TestHeaderAccessors(t *testing.T) {
	h := Header{"FILTER": " F814W ", "CRPIX1": 2048, "CD1_1": -1.3e-5, "EMPTY": "  ", "NUM": "1.5"}
	s, ok := h.String("filter")
	require.True(t, ok)
	assert.Equal(t, "F814W", s)
	_, ok = h.String("EMPTY")
	assert.False(t, ok)
	f, ok := h.Float("CRPIX1")
	require.True(t, ok)
	assert.Equal(t, 2048.0, f)
	f, ok = h.Float("NUM")
	require.True(t, ok)
	assert.Equal(t, 1.5, f)
	_, ok = h.Float("MISSING")
	assert.False(t, ok)
}
