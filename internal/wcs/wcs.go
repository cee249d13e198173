// Package wcs 实现芯片级世界坐标 → 像素坐标变换（TAN 投影，可选 SIP 畸变）。
package wcs

import (
	"fmt"
	"math"
	"strings"

	"spikepsf/pkg/contract"
)

const deg2rad = math.Pi / 180

// sip: 畸变多项式系数，coef[p][q] 对应 u^p v^q。
type sip struct {
	order int
	coef  [][]float64
}

func (s *sip) eval(u, v float64) float64 {
	if s == nil {
		return 0
	}
	var sum float64
	up := 1.0
	for p := 0; p <= s.order; p++ {
		vq := 1.0
		for q := 0; p+q <= s.order; q++ {
			sum += s.coef[p][q] * up * vq
			vq *= v
		}
		up *= u
	}
	return sum
}

// Transform: 单芯片的 TAN(-SIP) 变换。像素坐标为 0 起点。
type Transform struct {
	crval [2]float64
	crpix [2]float64
	cd    [2][2]float64
	inv   [2][2]float64

	a, b   *sip // 正向：像素 → 无畸变
	ap, bp *sip // 逆向：无畸变 → 像素
}

// FromHeader 由芯片头构造变换。
// 支持 CD 矩阵，或 PCi_j × CDELTi；CTYPE 缺省按 TAN 处理。
func FromHeader(h contract.Header) (*Transform, error) {
	for _, k := range []string{"CTYPE1", "CTYPE2"} {
		if ct, ok := h.String(k); ok {
			proj := ct
			if len(ct) > 5 {
				proj = ct[5:]
			}
			proj = strings.Trim(strings.ToUpper(proj), "-")
			if proj != "TAN" && proj != "TAN-SIP" {
				return nil, fmt.Errorf("%w: %s=%q", contract.ErrUnsupportedProjection, k, ct)
			}
		}
	}
	t := &Transform{}
	var ok1, ok2, ok3, ok4 bool
	t.crval[0], ok1 = h.Float("CRVAL1")
	t.crval[1], ok2 = h.Float("CRVAL2")
	t.crpix[0], ok3 = h.Float("CRPIX1")
	t.crpix[1], ok4 = h.Float("CRPIX2")
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil, fmt.Errorf("%w: CRVAL/CRPIX missing", contract.ErrInvalidInput)
	}

	if cd, ok := cdMatrix(h); ok {
		t.cd = cd
	} else {
		d1, okd1 := h.Float("CDELT1")
		d2, okd2 := h.Float("CDELT2")
		if !okd1 || !okd2 {
			return nil, fmt.Errorf("%w: neither CD nor CDELT present", contract.ErrInvalidInput)
		}
		pc := [2][2]float64{{1, 0}, {0, 1}}
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				if v, ok := h.Float(fmt.Sprintf("PC%d_%d", i+1, j+1)); ok {
					pc[i][j] = v
				}
			}
		}
		t.cd = [2][2]float64{
			{d1 * pc[0][0], d1 * pc[0][1]},
			{d2 * pc[1][0], d2 * pc[1][1]},
		}
	}
	det := t.cd[0][0]*t.cd[1][1] - t.cd[0][1]*t.cd[1][0]
	if det == 0 || math.IsNaN(det) {
		return nil, fmt.Errorf("%w: singular CD matrix", contract.ErrInvalidInput)
	}
	t.inv = [2][2]float64{
		{t.cd[1][1] / det, -t.cd[0][1] / det},
		{-t.cd[1][0] / det, t.cd[0][0] / det},
	}
	t.a = readSIP(h, "A")
	t.b = readSIP(h, "B")
	t.ap = readSIP(h, "AP")
	t.bp = readSIP(h, "BP")
	return t, nil
}

func cdMatrix(h contract.Header) ([2][2]float64, bool) {
	var cd [2][2]float64
	found := false
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v, ok := h.Float(fmt.Sprintf("CD%d_%d", i+1, j+1)); ok {
				cd[i][j] = v
				found = true
			}
		}
	}
	return cd, found
}

func readSIP(h contract.Header, prefix string) *sip {
	order, ok := h.Int(prefix + "_ORDER")
	if !ok || order <= 0 {
		return nil
	}
	s := &sip{order: order, coef: make([][]float64, order+1)}
	for p := 0; p <= order; p++ {
		s.coef[p] = make([]float64, order+1)
		for q := 0; p+q <= order; q++ {
			if v, ok := h.Float(fmt.Sprintf("%s_%d_%d", prefix, p, q)); ok {
				s.coef[p][q] = v
			}
		}
	}
	return s
}

// WorldToPixel 将 (ra, dec)（度）投影为 0 起点像素坐标。
// ok=false 表示坐标位于切平面背面，无法投影。
func (t *Transform) WorldToPixel(ra, dec float64) (x, y float64, ok bool) {
	ra0, dec0 := t.crval[0]*deg2rad, t.crval[1]*deg2rad
	r, d := ra*deg2rad, dec*deg2rad
	dra := r - ra0
	cosc := math.Sin(dec0)*math.Sin(d) + math.Cos(dec0)*math.Cos(d)*math.Cos(dra)
	if cosc <= 0 {
		return math.NaN(), math.NaN(), false
	}
	xi := math.Cos(d) * math.Sin(dra) / cosc / deg2rad
	eta := (math.Cos(dec0)*math.Sin(d) - math.Sin(dec0)*math.Cos(d)*math.Cos(dra)) / cosc / deg2rad

	u := t.inv[0][0]*xi + t.inv[0][1]*eta
	v := t.inv[1][0]*xi + t.inv[1][1]*eta
	switch {
	case t.ap != nil || t.bp != nil:
		u, v = u+t.ap.eval(u, v), v+t.bp.eval(u, v)
	case t.a != nil || t.b != nil:
		u, v = t.undistort(u, v)
	}
	return t.crpix[0] + u - 1, t.crpix[1] + v - 1, true
}

// undistort 在缺少逆向系数时以不动点迭代求解 u' + A(u',v') = u。
func (t *Transform) undistort(u, v float64) (float64, float64) {
	pu, pv := u, v
	for i := 0; i < 50; i++ {
		nu := u - t.a.eval(pu, pv)
		nv := v - t.b.eval(pu, pv)
		if math.Abs(nu-pu) < 1e-10 && math.Abs(nv-pv) < 1e-10 {
			return nu, nv
		}
		pu, pv = nu, nv
	}
	return pu, pv
}

// PixelToWorld 将 0 起点像素坐标反投影为 (ra, dec)（度）。
func (t *Transform) PixelToWorld(x, y float64) (ra, dec float64) {
	u := x + 1 - t.crpix[0]
	v := y + 1 - t.crpix[1]
	u, v = u+t.a.eval(u, v), v+t.b.eval(u, v)
	xi := (t.cd[0][0]*u + t.cd[0][1]*v) * deg2rad
	eta := (t.cd[1][0]*u + t.cd[1][1]*v) * deg2rad

	ra0, dec0 := t.crval[0]*deg2rad, t.crval[1]*deg2rad
	rho := math.Hypot(xi, eta)
	if rho == 0 {
		return t.crval[0], t.crval[1]
	}
	c := math.Atan(rho)
	sc, cc := math.Sin(c), math.Cos(c)
	d := math.Asin(cc*math.Sin(dec0) + eta*sc*math.Cos(dec0)/rho)
	r := ra0 + math.Atan2(xi*sc, rho*math.Cos(dec0)*cc-eta*math.Sin(dec0)*sc)
	ra = math.Mod(r/deg2rad, 360)
	if ra < 0 {
		ra += 360
	}
	return ra, d / deg2rad
}
