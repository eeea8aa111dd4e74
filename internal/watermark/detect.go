package watermark

import "math"

const (
	DefaultClusterDistance = 50.0
	DefaultMargin          = 5.0
)

// Instance is one occurrence of the target text, in top-left page
// coordinates (origin at the top-left corner, y down).
type Instance struct {
	OriginX, OriginY float64
	CornerX, CornerY float64
	Rotation         float64
	Text             string
}

func (i Instance) Box() Rect {
	return Rect{X0: i.OriginX, Y0: i.OriginY, X1: i.CornerX, Y1: i.CornerY}
}

// Cluster is a group of instances that lie close to each other.
type Cluster []Instance

// Candidates returns the words whose text equals target exactly and whose
// rotation rounds to a non-zero number of degrees. Axis-aligned matches are
// body text and are ignored.
func Candidates(words []Word, page Rect, target string) []Instance {
	var out []Instance
	for _, w := range words {
		if w.Text != target || math.Round(w.Rotation) == 0 {
			continue
		}
		r := toTopLeft(w.Box, page)
		out = append(out, Instance{
			OriginX: r.X0, OriginY: r.Y0,
			CornerX: r.X1, CornerY: r.Y1,
			Rotation: w.Rotation,
			Text:     w.Text,
		})
	}
	return out
}

// ClusterInstances groups instances in a single greedy pass: each instance
// joins the first existing cluster holding any member whose top-left corner
// is closer than threshold, or starts a new cluster. The result depends on
// input order.
func ClusterInstances(instances []Instance, threshold float64) []Cluster {
	var clusters []Cluster
	for _, inst := range instances {
		joined := false
		for ci := range clusters {
			for _, m := range clusters[ci] {
				if math.Hypot(inst.OriginX-m.OriginX, inst.OriginY-m.OriginY) < threshold {
					clusters[ci] = append(clusters[ci], inst)
					joined = true
					break
				}
			}
			if joined {
				break
			}
		}
		if !joined {
			clusters = append(clusters, Cluster{inst})
		}
	}
	return clusters
}

// Regions returns one rectangle per instance, grown by margin. Overlaps
// are kept as is.
func Regions(clusters []Cluster, margin float64) []Rect {
	var out []Rect
	for _, c := range clusters {
		for _, inst := range c {
			out = append(out, inst.Box().Expand(margin))
		}
	}
	return out
}

// IsWatermarkColor reports whether an RGB sample is exactly pure red or
// pure blue.
func IsWatermarkColor(rgb [3]uint8) bool {
	return rgb == [3]uint8{255, 0, 0} || rgb == [3]uint8{0, 0, 255}
}
