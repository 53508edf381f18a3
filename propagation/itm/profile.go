package itm

import (
	"math"
	"sort"
)

// dim is max(x-y, 0).
func dim(x, y float64) float64 {
	if x > y {
		return x - y
	}
	return 0
}

// horizons finds the radio horizon distances and elevation angles of both
// terminals over the profile.
func horizons(pfl []float64, p *prop) {
	np := int(pfl[0])
	xi := pfl[1]
	za := pfl[2] + p.hg[0]
	zb := pfl[np+2] + p.hg[1]
	qc := 0.5 * p.gme
	q := qc * p.dist

	p.the[1] = (zb - za) / p.dist
	p.the[0] = p.the[1] - q
	p.the[1] = -p.the[1] - q
	p.dl[0] = p.dist
	p.dl[1] = p.dist

	if np < 2 {
		return
	}
	sa, sb := 0.0, p.dist
	los := true
	for i := 1; i < np; i++ {
		sa += xi
		sb -= xi
		q = pfl[i+2] - (qc*sa+p.the[0])*sa - za
		if q > 0 {
			p.the[0] += q / sa
			p.dl[0] = sa
			los = false
		}
		if !los {
			q = pfl[i+2] - (qc*sb+p.the[1])*sb - zb
			if q > 0 {
				p.the[1] += q / sb
				p.dl[1] = sb
			}
		}
	}
}

// leastSquares fits a line to the profile between x1 and x2 (metres from
// the first point) and returns its heights at both ends of the profile.
func leastSquares(z []float64, x1, x2 float64) (z0, zn float64) {
	xn := z[0]
	xa := float64(int(dim(x1/z[1], 0)))
	xb := xn - float64(int(dim(xn, x2/z[1])))
	if xb <= xa {
		xa = dim(xa, 1)
		xb = xn - dim(xn, xb+1)
	}
	ja := int(xa)
	jb := int(xb)
	n := jb - ja
	xa = xb - xa
	x := -0.5 * xa
	xb += x
	a := 0.5 * (z[ja+2] + z[jb+2])
	b := 0.5 * (z[ja+2] - z[jb+2]) * x
	for i := 2; i <= n; i++ {
		ja++
		x++
		a += z[ja+2]
		b += z[ja+2] * x
	}
	a /= xa
	b = b * 12 / ((xa*xa + 2) * xa)
	return a - b*xb, a + b*(xn-xb)
}

// quantileDesc returns the element at rank k of a sorted descending.
func quantileDesc(a []float64, k int) float64 {
	s := append([]float64(nil), a...)
	sort.Sort(sort.Reverse(sort.Float64Slice(s)))
	k = min(max(0, k), len(s)-1)
	return s[k]
}

// terrainIrregularity is the interdecile range of profile heights between
// x1 and x2 after removing a linear fit, scaled to an infinite path.
func terrainIrregularity(pfl []float64, x1, x2 float64) float64 {
	np := int(pfl[0])
	xa := x1 / pfl[1]
	xb := x2 / pfl[1]
	if xb-xa < 2 {
		return 0
	}
	ka := int(0.1 * (xb - xa + 8))
	ka = min(max(4, ka), 25)
	n := 10*ka - 5
	kb := n - ka + 1
	sn := float64(n - 1)

	s := make([]float64, n+2)
	s[0] = sn
	s[1] = 1
	xb = (xb - xa) / sn
	k := int(xa + 1)
	xa -= float64(k)
	for j := 0; j < n; j++ {
		for xa > 0 && k < np {
			xa--
			k++
		}
		s[j+2] = pfl[k+2] + (pfl[k+2]-pfl[k+1])*xa
		xa += xb
	}

	xa, xb = leastSquares(s, 0, sn)
	xb = (xb - xa) / sn
	for j := 0; j < n; j++ {
		s[j+2] -= xa
		xa += xb
	}
	dh := quantileDesc(s[2:], ka-1) - quantileDesc(s[2:], kb-1)
	return dh / (1 - 0.8*math.Exp(-(x2-x1)/50e3))
}
