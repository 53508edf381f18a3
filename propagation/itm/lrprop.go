package itm

import (
	"math"
	"math/cmplx"
)

const third = 1.0 / 3.0

// prop holds the path parameters shared by every stage of the model.
type prop struct {
	aref float64
	dist float64
	hg   [2]float64
	wn   float64
	dh   float64
	ens  float64
	gme  float64
	zgnd complex128
	he   [2]float64
	dl   [2]float64
	the  [2]float64
	kwx  int
	mdp  int
}

// propa holds the coefficients of the reference attenuation fit.
type propa struct {
	dlsa, dx, ael, ak1, ak2, aed, emd, aes, ems float64
	dls                                         [2]float64
	dla, tha                                    float64
}

// diffState, scatterState and losState carry values computed on the setup
// call (d == 0) of their stage and reused on later calls.
type diffState struct {
	wd1, xd1, afo, qk, aht, xht float64
}

type scatterState struct {
	ad, rr, etq, h0s float64
}

type losState struct {
	wls float64
}

type lrpropState struct {
	wlos, wscat bool
	dmin, xae   float64
}

// model is one evaluation of the point-to-point model. It replaces the
// function-local statics of the reference algorithm so that concurrent
// evaluations do not share state.
type model struct {
	p  prop
	pa propa
	pv propv

	diff    diffState
	scatter scatterState
	los     losState
	lr      lrpropState
	v       varState
}

func minf(a, b float64) float64 { return math.Min(a, b) }
func maxf(a, b float64) float64 { return math.Max(a, b) }

func aknfe(v2 float64) float64 {
	if v2 < 5.76 {
		return 6.02 + 9.11*math.Sqrt(v2) - 1.27*v2
	}
	return 12.953 + 4.343*math.Log(v2)
}

func fht(x, pk float64) float64 {
	if x < 200 {
		w := -math.Log(pk)
		if pk < 1e-5 || x*math.Pow(w, 3) > 5495 {
			v := -117.0
			if x > 1 {
				v += 17.372 * math.Log(x)
			}
			return v
		}
		return 2.5e-5*x*x/pk - 8.686*w - 15
	}
	v := 0.05751*x - 4.343*math.Log(x)
	if x < 2000 {
		w := 0.0134 * x * math.Exp(-0.005*x)
		v = (1-w)*v + w*(17.372*math.Log(x)-117)
	}
	return v
}

func h0f(r, et float64) float64 {
	a := [5]float64{25, 80, 177, 395, 705}
	b := [5]float64{24, 45, 68, 80, 105}
	it := int(et)
	var q float64
	switch {
	case it <= 0:
		it = 1
	case it >= 5:
		it = 4
	default:
		q = et - float64(it)
	}
	x := math.Pow(1/r, 2)
	v := 4.343 * math.Log((a[it-1]*x+b[it-1])*x+1)
	if q != 0 {
		v = (1-q)*v + q*4.343*math.Log((a[it]*x+b[it])*x+1)
	}
	return v
}

func ahd(td float64) float64 {
	a := [3]float64{133.4, 104.6, 71.8}
	b := [3]float64{0.332e-3, 0.212e-3, 0.157e-3}
	c := [3]float64{-4.343, -1.086, 2.171}
	i := 2
	if td <= 10e3 {
		i = 0
	} else if td <= 70e3 {
		i = 1
	}
	return a[i] + b[i]*td + c[i]*math.Log(td)
}

// adiff is the diffraction attenuation at distance d. d == 0 primes the
// stage.
func (m *model) adiff(d float64) float64 {
	p, pa, s := &m.p, &m.pa, &m.diff
	if d == 0 {
		q := p.hg[0] * p.hg[1]
		s.qk = p.he[0]*p.he[1] - q
		if p.mdp < 0 {
			q += 10
		}
		s.wd1 = math.Sqrt(1 + s.qk/q)
		s.xd1 = pa.dla + pa.tha/p.gme
		q = (1 - 0.8*math.Exp(-pa.dlsa/50e3)) * p.dh
		q *= 0.78 * math.Exp(-math.Pow(q/16, 0.25))
		s.afo = minf(15, 2.171*math.Log(1+4.77e-4*p.hg[0]*p.hg[1]*p.wn*q))
		s.qk = 1 / cmplx.Abs(p.zgnd)
		s.aht = 20
		s.xht = 0
		for j := 0; j < 2; j++ {
			a := 0.5 * p.dl[j] * p.dl[j] / p.he[j]
			wa := math.Pow(a*p.wn, third)
			pk := s.qk / wa
			q = (1.607 - pk) * 151 * wa * p.dl[j] / a
			s.xht += q
			s.aht += fht(q, pk)
		}
		return 0
	}

	th := pa.tha + d*p.gme
	ds := d - pa.dla
	q := 0.0795775 * p.wn * ds * th * th
	v := aknfe(q*p.dl[0]/(ds+p.dl[0])) + aknfe(q*p.dl[1]/(ds+p.dl[1]))
	a := ds / th
	wa := math.Pow(a*p.wn, third)
	pk := s.qk / wa
	q = (1.607-pk)*151*wa*th + s.xht
	ar := 0.05751*q - 4.343*math.Log(q) - s.aht
	q = (s.wd1 + s.xd1/d) * minf((1-0.8*math.Exp(-d/50e3))*p.dh*p.wn, 6283.2)
	wd := 25.1 / (25.1 + math.Sqrt(q))
	return ar*wd + (1-wd)*v + s.afo
}

// ascat is the troposcatter attenuation at distance d. d == 0 primes the
// stage.
func (m *model) ascat(d float64) float64 {
	p, pa, s := &m.p, &m.pa, &m.scatter
	if d == 0 {
		s.ad = p.dl[0] - p.dl[1]
		s.rr = p.he[1] / p.he[0]
		if s.ad < 0 {
			s.ad = -s.ad
			s.rr = 1 / s.rr
		}
		s.etq = (5.67e-6*p.ens-2.32e-3)*p.ens + 0.031
		s.h0s = -15
		return 0
	}

	var h0 float64
	if s.h0s > 15 {
		h0 = s.h0s
	} else {
		th := p.the[0] + p.the[1] + d*p.gme
		r2 := 2 * p.wn * th
		r1 := r2 * p.he[0]
		r2 *= p.he[1]
		if r1 < 0.2 && r2 < 0.2 {
			return 1001
		}
		ss := (d - s.ad) / (d + s.ad)
		q := s.rr / ss
		ss = maxf(0.1, ss)
		q = minf(maxf(0.1, q), 10)
		z0 := (d - s.ad) * (d + s.ad) * th * 0.25 / d
		t := math.Pow(minf(1.7, z0/8e3), 6)
		et := (s.etq*math.Exp(-t) + 1) * z0 / 1.7556e3
		ett := maxf(et, 1)
		h0 = (h0f(r1, ett) + h0f(r2, ett)) * 0.5
		h0 += minf(h0, (1.38-math.Log(ett))*math.Log(ss)*math.Log(q)*0.49)
		h0 = dim(h0, 0)
		if et < 1 {
			h0 = et*h0 + (1-et)*4.343*math.Log(math.Pow((1+1.4142/r1)*(1+1.4142/r2), 2)*(r1+r2)/(r1+r2+2.8284))
		}
		if h0 > 15 && s.h0s >= 0 {
			h0 = s.h0s
		}
	}
	s.h0s = h0
	th := pa.tha + d*p.gme
	return ahd(th*d) + 4.343*math.Log(47.7*p.wn*math.Pow(th, 4)) - 0.1*(p.ens-301)*math.Exp(-th*d/40e3) + h0
}

func abq(r complex128) float64 { return real(r)*real(r) + imag(r)*imag(r) }

// alos is the line-of-sight attenuation at distance d. d == 0 primes the
// stage.
func (m *model) alos(d float64) float64 {
	p, pa, s := &m.p, &m.pa, &m.los
	if d == 0 {
		s.wls = 0.021 / (0.021 + p.wn*p.dh/maxf(10e3, pa.dlsa))
		return 0
	}

	q := (1 - 0.8*math.Exp(-d/50e3)) * p.dh
	sr := 0.78 * q * math.Exp(-math.Pow(q/16, 0.25))
	q = p.he[0] + p.he[1]
	sps := q / math.Sqrt(d*d+q*q)
	r := (complex(sps, 0) - p.zgnd) / (complex(sps, 0) + p.zgnd) * complex(math.Exp(-minf(10, p.wn*sr*sps)), 0)
	q = abq(r)
	if q < 0.25 || q < sps {
		r *= complex(math.Sqrt(sps/q), 0)
	}
	v := pa.emd*d + pa.aed
	q = p.wn * p.he[0] * p.he[1] * 2 / d
	if q > 1.57 {
		q = 3.14 - 2.4649/q
	}
	return (-4.343*math.Log(abq(complex(math.Cos(q), -math.Sin(q))+r))-v)*s.wls + v
}

// setFrequency derives wave number, surface refractivity, earth curvature
// and ground impedance.
func (m *model) setFrequency(fmhz, zsys, en0 float64, pol Polarization, eps, sgm float64) {
	p := &m.p
	const gma = 157e-9
	p.wn = fmhz / 47.7
	p.ens = en0
	if zsys != 0 {
		p.ens *= math.Exp(-zsys / 9460)
	}
	p.gme = gma * (1 - 0.04665*math.Exp(p.ens/179.3))
	zq := complex(eps, 376.62*sgm/p.wn)
	p.zgnd = cmplx.Sqrt(zq - 1)
	if pol != Horizontal {
		p.zgnd /= zq
	}
}

// setProfile derives the path geometry from the terrain profile and primes
// the reference attenuation.
func (m *model) setProfile(pfl []float64, klim Climate, mdvar int) {
	p := &m.p
	p.dist = pfl[0] * pfl[1]
	np := int(pfl[0])
	horizons(pfl, p)

	var xl [2]float64
	for j := 0; j < 2; j++ {
		xl[j] = minf(15*p.hg[j], 0.1*p.dl[j])
	}
	xl[1] = p.dist - xl[1]
	p.dh = terrainIrregularity(pfl, xl[0], xl[1])

	if p.dl[0]+p.dl[1] > 1.5*p.dist {
		za, zb := leastSquares(pfl, xl[0], xl[1])
		p.he[0] = p.hg[0] + dim(pfl[2], za)
		p.he[1] = p.hg[1] + dim(pfl[np+2], zb)
		for j := 0; j < 2; j++ {
			p.dl[j] = math.Sqrt(2*p.he[j]/p.gme) * math.Exp(-0.07*math.Sqrt(p.dh/maxf(p.he[j], 5)))
		}
		q := p.dl[0] + p.dl[1]
		if q <= p.dist {
			t := p.dist / q
			q = t * t
			for j := 0; j < 2; j++ {
				p.he[j] *= q
				p.dl[j] = math.Sqrt(2*p.he[j]/p.gme) * math.Exp(-0.07*math.Sqrt(p.dh/maxf(p.he[j], 5)))
			}
		}
		for j := 0; j < 2; j++ {
			q = math.Sqrt(2 * p.he[j] / p.gme)
			p.the[j] = (0.65*p.dh*(q/p.dl[j]-1) - 2*p.he[j]) / q
		}
	} else {
		za, _ := leastSquares(pfl, xl[0], 0.9*p.dl[0])
		_, zb := leastSquares(pfl, p.dist-0.9*p.dl[1], xl[1])
		p.he[0] = p.hg[0] + dim(pfl[2], za)
		p.he[1] = p.hg[1] + dim(pfl[np+2], zb)
	}

	p.mdp = -1
	m.pv.lvar = max(m.pv.lvar, 3)
	if mdvar >= 0 {
		m.pv.mdvar = mdvar
		m.pv.lvar = max(m.pv.lvar, 4)
	}
	if klim > 0 {
		m.pv.klim = klim
		m.pv.lvar = 5
	}
	m.lrprop(0)
}

// lrprop computes the reference attenuation at distance d, or at the
// profile distance when the model was primed from a profile.
func (m *model) lrprop(d float64) {
	p, pa, s := &m.p, &m.pa, &m.lr

	if p.mdp != 0 {
		for j := 0; j < 2; j++ {
			pa.dls[j] = math.Sqrt(2 * p.he[j] / p.gme)
		}
		pa.dlsa = pa.dls[0] + pa.dls[1]
		pa.dla = p.dl[0] + p.dl[1]
		pa.tha = maxf(p.the[0]+p.the[1], -pa.dla*p.gme)
		s.wlos = false
		s.wscat = false
		if p.wn < 0.838 || p.wn > 210 {
			p.kwx = max(p.kwx, 1)
		}
		for j := 0; j < 2; j++ {
			if p.hg[j] < 1 || p.hg[j] > 1000 {
				p.kwx = max(p.kwx, 1)
			}
		}
		for j := 0; j < 2; j++ {
			if math.Abs(p.the[j]) > 200e-3 || p.dl[j] < 0.1*pa.dls[j] || p.dl[j] > 3*pa.dls[j] {
				p.kwx = max(p.kwx, 3)
			}
		}
		if p.ens < 250 || p.ens > 400 || p.gme < 75e-9 || p.gme > 250e-9 ||
			real(p.zgnd) <= math.Abs(imag(p.zgnd)) || p.wn < 0.419 || p.wn > 420 {
			p.kwx = 4
		}
		for j := 0; j < 2; j++ {
			if p.hg[j] < 0.5 || p.hg[j] > 3000 {
				p.kwx = 4
			}
		}
		s.dmin = math.Abs(p.he[0]-p.he[1]) / 200e-3
		m.adiff(0)
		s.xae = math.Pow(p.wn*p.gme*p.gme, -third)
		d3 := maxf(pa.dlsa, 1.3787*s.xae+pa.dla)
		d4 := d3 + 2.7574*s.xae
		a3 := m.adiff(d3)
		a4 := m.adiff(d4)
		pa.emd = (a4 - a3) / (d4 - d3)
		pa.aed = a3 - pa.emd*d3
	}

	if p.mdp >= 0 {
		p.mdp = 0
		p.dist = d
	}

	if p.dist > 0 {
		if p.dist > 1000e3 {
			p.kwx = max(p.kwx, 1)
		}
		if p.dist < s.dmin {
			p.kwx = max(p.kwx, 3)
		}
		if p.dist < 1e3 || p.dist > 2000e3 {
			p.kwx = 4
		}
	}

	if p.dist < pa.dlsa {
		if !s.wlos {
			m.alos(0)
			d2 := pa.dlsa
			a2 := pa.aed + d2*pa.emd
			d0 := 1.908 * p.wn * p.he[0] * p.he[1]
			var d1 float64
			if pa.aed >= 0 {
				d0 = minf(d0, 0.5*pa.dla)
				d1 = d0 + 0.25*(pa.dla-d0)
			} else {
				d1 = maxf(-pa.aed/pa.emd, 0.25*pa.dla)
			}
			a1 := m.alos(d1)
			if d0 < d1 {
				a0 := m.alos(d0)
				q := math.Log(d2 / d0)
				pa.ak2 = maxf(0, ((d2-d0)*(a1-a0)-(d1-d0)*(a2-a0))/((d2-d0)*math.Log(d1/d0)-(d1-d0)*q))
				if pa.aed >= 0 || pa.ak2 > 0 {
					pa.ak1 = (a2 - a0 - pa.ak2*q) / (d2 - d0)
					if pa.ak1 < 0 {
						pa.ak1 = 0
						pa.ak2 = dim(a2, a0) / q
						if pa.ak2 == 0 {
							pa.ak1 = pa.emd
						}
					}
				} else {
					pa.ak2 = 0
					pa.ak1 = (a2 - a1) / (d2 - d1)
					if pa.ak1 <= 0 {
						pa.ak1 = pa.emd
					}
				}
			} else {
				pa.ak1 = (a2 - a1) / (d2 - d1)
				pa.ak2 = 0
				if pa.ak1 <= 0 {
					pa.ak1 = pa.emd
				}
			}
			pa.ael = a2 - pa.ak1*d2 - pa.ak2*math.Log(d2)
			s.wlos = true
		}
		if p.dist > 0 {
			p.aref = pa.ael + pa.ak1*p.dist + pa.ak2*math.Log(p.dist)
		}
	}

	if p.dist <= 0 || p.dist >= pa.dlsa {
		if !s.wscat {
			m.ascat(0)
			d5 := pa.dla + 200e3
			d6 := d5 + 200e3
			a6 := m.ascat(d6)
			a5 := m.ascat(d5)
			if a5 < 1000 {
				pa.ems = (a6 - a5) / 200e3
				pa.dx = maxf(pa.dlsa, maxf(pa.dla+0.3*s.xae*math.Log(47.7*p.wn), (a5-pa.aed-pa.ems*d5)/(pa.emd-pa.ems)))
				pa.aes = (pa.emd-pa.ems)*pa.dx + pa.aed
			} else {
				pa.ems = pa.emd
				pa.aes = pa.aed
				pa.dx = 10e6
			}
			s.wscat = true
		}
		if p.dist > pa.dx {
			p.aref = pa.aes + pa.ems*p.dist
		} else {
			p.aref = pa.aed + pa.emd*p.dist
		}
	}
	p.aref = maxf(p.aref, 0)
}
