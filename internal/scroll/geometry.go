package scroll

// PageGeometry is the ordered list of rendered page heights.
// Non-positive entries contribute no height.
type PageGeometry []float64

// Total returns the rendered height of all pages.
func (g PageGeometry) Total() float64 {
	var total float64
	for _, h := range g {
		if h > 0 {
			total += h
		}
	}
	return total
}

// OffsetForRatio converts a scroll ratio to an absolute offset.
func (g PageGeometry) OffsetForRatio(ratio float64) float64 {
	return clamp01(ratio) * g.Total()
}

// RatioForOffset converts an absolute offset to a scroll ratio.
func (g PageGeometry) RatioForOffset(offset float64) float64 {
	total := g.Total()
	if total == 0 {
		return 0
	}
	return clamp01(offset / total)
}

// PageAt returns the page containing offset and the distance from that
// page's top. Offsets past the end land on the last page. It returns
// (-1, 0) for an empty geometry.
func (g PageGeometry) PageAt(offset float64) (int, float64) {
	last := -1
	var top float64
	for i, h := range g {
		if h <= 0 {
			continue
		}
		if offset < top+h {
			if offset < top {
				return i, 0
			}
			return i, offset - top
		}
		last = i
		top += h
	}
	if last < 0 {
		return -1, 0
	}
	return last, g[last]
}
