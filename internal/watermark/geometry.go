package watermark

import "math"

// matrix is a PDF transformation [a b c d e f]; points are row vectors,
// so x' = a*x + c*y + e and y' = b*x + d*y + f.
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

func translate(tx, ty float64) matrix { return matrix{1, 0, 0, 1, tx, ty} }

// mul returns m followed by n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// angle is the rotation of the x axis under m, in degrees.
func (m matrix) angle() float64 {
	return math.Atan2(m[1], m[0]) * 180 / math.Pi
}

// Rect is an axis-aligned rectangle with X0<=X1 and Y0<=Y1.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Expand grows r by m on every side.
func (r Rect) Expand(m float64) Rect {
	return Rect{r.X0 - m, r.Y0 - m, r.X1 + m, r.Y1 + m}
}

func (r Rect) union(o Rect) Rect {
	return Rect{math.Min(r.X0, o.X0), math.Min(r.Y0, o.Y0), math.Max(r.X1, o.X1), math.Max(r.Y1, o.Y1)}
}

// contains reports whether o lies inside r, allowing a small tolerance.
func (r Rect) contains(o Rect) bool {
	const eps = 1e-6
	return o.X0 >= r.X0-eps && o.Y0 >= r.Y0-eps && o.X1 <= r.X1+eps && o.Y1 <= r.Y1+eps
}

// boxOf maps the rectangle (x0,y0)-(x1,y1) through m and returns the bounds.
func boxOf(m matrix, x0, y0, x1, y1 float64) Rect {
	ax, ay := m.apply(x0, y0)
	bx, by := m.apply(x1, y0)
	cx, cy := m.apply(x0, y1)
	dx, dy := m.apply(x1, y1)
	return Rect{
		X0: math.Min(math.Min(ax, bx), math.Min(cx, dx)),
		Y0: math.Min(math.Min(ay, by), math.Min(cy, dy)),
		X1: math.Max(math.Max(ax, bx), math.Max(cx, dx)),
		Y1: math.Max(math.Max(ay, by), math.Max(cy, dy)),
	}
}

// toTopLeft converts a user-space rect to page coordinates with the origin
// at the top-left of page and y growing downwards.
func toTopLeft(r, page Rect) Rect {
	return Rect{X0: r.X0 - page.X0, Y0: page.Y1 - r.Y1, X1: r.X1 - page.X0, Y1: page.Y1 - r.Y0}
}

// toUserSpace is the inverse of toTopLeft.
func toUserSpace(r, page Rect) Rect {
	return Rect{X0: r.X0 + page.X0, Y0: page.Y1 - r.Y1, X1: r.X1 + page.X0, Y1: page.Y1 - r.Y0}
}
