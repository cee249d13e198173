package skycoord

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spikepsf/pkg/contract"
)

// UT-SKY-01: 三种坐标写法
func TestParseFormats(t *testing.T) {
	cases := []struct {
		in      string
		ra, dec float64
	}{
		{"150.0 2.5", 150, 2.5},
		{"150.0,-2.5", 150, -2.5},
		{"-10 0", 350, 0},
		{"10:00:00 +02:00:00", 150, 2},
		{"10:00:00 -00:30:00", 150, -0.5},
		{"10 00 00 +02 00 00", 150, 2},
		{"00h42m44.3s +41d16m09s", 10.684583333, 41.269166667},
		{"12h -30d", 180, -30},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := Parse(c.in)
			require.NoError(t, err)
			assert.InDelta(t, c.ra, got.RA, 1e-8)
			assert.InDelta(t, c.dec, got.Dec, 1e-8)
		})
	}
}

// UT-SKY-02: 非法输入
func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "150", "150 95", "1 2 3", "10:61:00 +02:00:00", "10h00m +02h00m", "M31"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, contract.ErrInvalidInput, in)
	}
}

// UT-SKY-03: 名称判定
func TestIsName(t *testing.T) {
	assert.True(t, IsName("M31"))
	assert.True(t, IsName("NGC 224"))
	assert.True(t, IsName("Andromeda Galaxy"))
	assert.False(t, IsName("00h42m44.3s +41d16m09s"))
	assert.False(t, IsName("10.5 -3"))
	assert.False(t, IsName("10.5"))
}

type fakeResolver struct {
	coords map[string]contract.SkyCoord
	calls  []string
}

func (f *fakeResolver) Lookup(_ context.Context, name string) (contract.SkyCoord, error) {
	f.calls = append(f.calls, name)
	c, ok := f.coords[name]
	if !ok {
		return contract.SkyCoord{}, errors.Join(contract.ErrNameResolution, errors.New(name))
	}
	return c, nil
}

// UT-SKY-04: Objects 保序、ID 原样、名称经解析器
func TestObjects(t *testing.T) {
	nr := &fakeResolver{coords: map[string]contract.SkyCoord{"M31": {RA: 10.68, Dec: 41.27}}}
	objs, err := Objects(context.Background(), []string{"150 2", " M31 ", "10:00:00 -01:00:00"}, nr)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "150 2", objs[0].ID)
	assert.Equal(t, "M31", objs[1].ID)
	assert.Equal(t, contract.SkyCoord{RA: 10.68, Dec: 41.27}, objs[1].Coord)
	assert.InDelta(t, -1.0, objs[2].Coord.Dec, 1e-12)
	assert.Equal(t, []string{"M31"}, nr.calls)

	_, err = Objects(context.Background(), []string{"Vega"}, nil)
	assert.ErrorIs(t, err, contract.ErrNameResolution)
	_, err = Objects(context.Background(), []string{"Vega"}, nr)
	assert.ErrorIs(t, err, contract.ErrNameResolution)
	_, err = Objects(context.Background(), []string{"  "}, nr)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = Objects(context.Background(), []string{"150 95"}, nr)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
