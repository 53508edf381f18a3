package itm

import "math"

type propv struct {
	sgc   float64
	lvar  int
	mdvar int
	klim  Climate
}

// varState caches the climate curves between avar calls. lvar in propv says
// how much of it must be recomputed.
type varState struct {
	kdv                                int
	dexa, de, vmd, vs0, sgl            float64
	sgtm, sgtp, sgtd, tgtd, gm, gp     float64
	cv1, cv2, yv1, yv2, yv3            float64
	csm1, csm2, ysm1, ysm2, ysm3       float64
	csp1, csp2, ysp1, ysp2, ysp3       float64
	csd1, zd                           float64
	cfm1, cfm2, cfm3, cfp1, cfp2, cfp3 float64
	ws, w1                             bool
}

// Climate curve coefficients, indexed by climate code minus one.
var (
	bv1  = [7]float64{-9.67, -0.62, 1.26, -9.21, -0.62, -0.39, 3.15}
	bv2  = [7]float64{12.7, 9.19, 15.5, 9.05, 9.19, 2.86, 857.9}
	xv1  = [7]float64{144.9e3, 228.9e3, 262.6e3, 84.1e3, 228.9e3, 141.7e3, 2222.e3}
	xv2  = [7]float64{190.3e3, 205.2e3, 185.2e3, 101.1e3, 205.2e3, 315.9e3, 164.8e3}
	xv3  = [7]float64{133.8e3, 143.6e3, 99.8e3, 98.6e3, 143.6e3, 167.4e3, 116.3e3}
	bsm1 = [7]float64{2.13, 2.66, 6.11, 1.98, 2.68, 6.86, 8.51}
	bsm2 = [7]float64{159.5, 7.67, 6.65, 13.11, 7.16, 10.38, 169.8}
	xsm1 = [7]float64{762.2e3, 100.4e3, 138.2e3, 139.1e3, 93.7e3, 187.8e3, 609.8e3}
	xsm2 = [7]float64{123.6e3, 172.5e3, 242.2e3, 132.7e3, 186.8e3, 169.6e3, 119.9e3}
	xsm3 = [7]float64{94.5e3, 136.4e3, 178.6e3, 193.5e3, 133.5e3, 108.9e3, 106.6e3}
	bsp1 = [7]float64{2.11, 6.87, 10.08, 3.68, 4.75, 8.58, 8.43}
	bsp2 = [7]float64{102.3, 15.53, 9.60, 159.3, 8.12, 13.97, 8.19}
	xsp1 = [7]float64{636.9e3, 138.7e3, 165.3e3, 464.4e3, 93.2e3, 216.0e3, 136.2e3}
	xsp2 = [7]float64{134.8e3, 143.7e3, 225.7e3, 93.1e3, 135.9e3, 152.0e3, 188.5e3}
	xsp3 = [7]float64{95.6e3, 98.6e3, 129.7e3, 94.2e3, 113.4e3, 122.7e3, 122.9e3}
	bsd1 = [7]float64{1.224, 0.801, 1.380, 1.000, 1.224, 1.518, 1.518}
	bzd1 = [7]float64{1.282, 2.161, 1.282, 20., 1.282, 1.282, 1.282}
	bfm1 = [7]float64{1.0, 1.0, 1.0, 1.0, 0.92, 1.0, 1.0}
	bfm2 = [7]float64{0.0, 0.0, 0.0, 0.0, 0.25, 0.0, 0.0}
	bfm3 = [7]float64{0.0, 0.0, 0.0, 0.0, 1.77, 0.0, 0.0}
	bfp1 = [7]float64{1.0, 0.93, 1.0, 0.93, 0.93, 1.0, 1.0}
	bfp2 = [7]float64{0.0, 0.31, 0.0, 0.19, 0.31, 0.0, 0.0}
	bfp3 = [7]float64{0.0, 2.00, 0.0, 1.79, 2.00, 0.0, 0.0}
)

func curve(c1, c2, x1, x2, x3, de float64) float64 {
	r := de / x1
	return (c1 + c2/(1+math.Pow((de-x2)/x3, 2))) * r * r / (1 + r*r)
}

// qerfi is the inverse of the complementary normal distribution: the
// standard normal deviate exceeded with probability q.
func qerfi(q float64) float64 {
	const (
		c0 = 2.515516698
		c1 = 0.802853
		c2 = 0.010328
		d1 = 1.432788
		d2 = 0.189269
		d3 = 0.001308
	)
	x := 0.5 - q
	t := maxf(0.5-math.Abs(x), 0.000001)
	t = math.Sqrt(-2 * math.Log(t))
	v := t - ((c2*t+c1)*t+c0)/(((d3*t+d2)*t+d1)*t+1)
	if x < 0 {
		v = -v
	}
	return v
}

// avar returns the attenuation not exceeded for the time, location and
// situation deviates zzt, zzl and zzc.
func (m *model) avar(zzt, zzl, zzc float64) float64 {
	p, pv, s := &m.p, &m.pv, &m.v
	const (
		rt = 7.8
		rl = 24.0
	)

	if pv.lvar > 0 {
		// Each level recomputes its own terms and every level below it.
		if pv.lvar >= 5 {
			if pv.klim <= 0 || pv.klim > 7 {
				pv.klim = ContinentalTemperate
				p.kwx = max(p.kwx, 2)
			}
			k := int(pv.klim) - 1
			s.cv1, s.cv2 = bv1[k], bv2[k]
			s.yv1, s.yv2, s.yv3 = xv1[k], xv2[k], xv3[k]
			s.csm1, s.csm2 = bsm1[k], bsm2[k]
			s.ysm1, s.ysm2, s.ysm3 = xsm1[k], xsm2[k], xsm3[k]
			s.csp1, s.csp2 = bsp1[k], bsp2[k]
			s.ysp1, s.ysp2, s.ysp3 = xsp1[k], xsp2[k], xsp3[k]
			s.csd1 = bsd1[k]
			s.zd = bzd1[k]
			s.cfm1, s.cfm2, s.cfm3 = bfm1[k], bfm2[k], bfm3[k]
			s.cfp1, s.cfp2, s.cfp3 = bfp1[k], bfp2[k], bfp3[k]
		}
		if pv.lvar >= 4 {
			s.kdv = pv.mdvar
			s.ws = s.kdv >= 20
			if s.ws {
				s.kdv -= 20
			}
			s.w1 = s.kdv >= 10
			if s.w1 {
				s.kdv -= 10
			}
			if s.kdv < 0 || s.kdv > 3 {
				s.kdv = 0
				p.kwx = max(p.kwx, 2)
			}
		}
		if pv.lvar >= 3 {
			q := math.Log(0.133 * p.wn)
			s.gm = s.cfm1 + s.cfm2/(math.Pow(s.cfm3*q, 2)+1)
			s.gp = s.cfp1 + s.cfp2/(math.Pow(s.cfp3*q, 2)+1)
		}
		if pv.lvar >= 2 {
			s.dexa = math.Sqrt(18e6*p.he[0]) + math.Sqrt(18e6*p.he[1]) + math.Pow(575.7e12/p.wn, third)
		}
		if p.dist < s.dexa {
			s.de = 130e3 * p.dist / s.dexa
		} else {
			s.de = 130e3 + p.dist - s.dexa
		}

		s.vmd = curve(s.cv1, s.cv2, s.yv1, s.yv2, s.yv3, s.de)
		s.sgtm = curve(s.csm1, s.csm2, s.ysm1, s.ysm2, s.ysm3, s.de) * s.gm
		s.sgtp = curve(s.csp1, s.csp2, s.ysp1, s.ysp2, s.ysp3, s.de) * s.gp
		s.sgtd = s.sgtp * s.csd1
		s.tgtd = (s.sgtp - s.sgtd) * s.zd
		if s.w1 {
			s.sgl = 0
		} else {
			q := (1 - 0.8*math.Exp(-p.dist/50e3)) * p.dh * p.wn
			s.sgl = 10 * q / (q + 13)
		}
		if s.ws {
			s.vs0 = 0
		} else {
			s.vs0 = math.Pow(5+3*math.Exp(-s.de/100e3), 2)
		}
		pv.lvar = 0
	}

	zt, zl, zc := zzt, zzl, zzc
	switch s.kdv {
	case 0:
		zt, zl = zc, zc
	case 1:
		zl = zc
	case 2:
		zl = zt
	}
	if math.Abs(zt) > 3.1 || math.Abs(zl) > 3.1 || math.Abs(zc) > 3.1 {
		p.kwx = max(p.kwx, 1)
	}

	var sgt float64
	switch {
	case zt < 0:
		sgt = s.sgtm
	case zt <= s.zd:
		sgt = s.sgtp
	default:
		sgt = s.sgtd + s.tgtd/zt
	}
	vs := s.vs0 + math.Pow(sgt*zt, 2)/(rt+zc*zc) + math.Pow(s.sgl*zl, 2)/(rl+zc*zc)

	var yr float64
	switch s.kdv {
	case 0:
		pv.sgc = math.Sqrt(sgt*sgt + s.sgl*s.sgl + vs)
	case 1:
		yr = sgt * zt
		pv.sgc = math.Sqrt(s.sgl*s.sgl + vs)
	case 2:
		yr = math.Sqrt(sgt*sgt+s.sgl*s.sgl) * zt
		pv.sgc = math.Sqrt(vs)
	default:
		yr = sgt*zt + s.sgl*zl
		pv.sgc = math.Sqrt(vs)
	}

	v := p.aref - s.vmd - yr - pv.sgc*zc
	if v < 0 {
		v = v * (29 - v) / (29 - 10*v)
	}
	return v
}
