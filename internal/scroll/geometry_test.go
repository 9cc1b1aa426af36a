package scroll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageGeometry_Total(t *testing.T) {
	assert.Equal(t, 0.0, PageGeometry(nil).Total())
	assert.Equal(t, 1684.0, PageGeometry{842, 842}.Total())
	assert.Equal(t, 842.0, PageGeometry{842, 0, -10}.Total())
}

func TestPageGeometry_Ratios(t *testing.T) {
	g := PageGeometry{100, 300}

	assert.Equal(t, 200.0, g.OffsetForRatio(0.5))
	assert.Equal(t, 400.0, g.OffsetForRatio(3))
	assert.Equal(t, 0.0, g.OffsetForRatio(-1))

	assert.Equal(t, 0.25, g.RatioForOffset(100))
	assert.Equal(t, 1.0, g.RatioForOffset(1e6))
	assert.Equal(t, 0.0, PageGeometry{}.RatioForOffset(10))
}

func TestPageGeometry_PageAt(t *testing.T) {
	g := PageGeometry{100, 0, 300, 50}

	tests := []struct {
		offset     float64
		page       int
		pageOffset float64
	}{
		{-5, 0, 0},
		{0, 0, 0},
		{99.5, 0, 99.5},
		{100, 2, 0},
		{250, 2, 150},
		{420, 3, 20},
		{450, 3, 50},
		{9000, 3, 50},
	}
	for _, tt := range tests {
		page, within := g.PageAt(tt.offset)
		assert.Equal(t, tt.page, page, "offset %v", tt.offset)
		assert.Equal(t, tt.pageOffset, within, "offset %v", tt.offset)
	}

	page, within := PageGeometry{0, -1}.PageAt(10)
	assert.Equal(t, -1, page)
	assert.Zero(t, within)
}
