// Package scroll maps between editor viewport positions and preview
// scroll ratios.
//
// Line position is a poor proxy for rendered height, so the forward
// mapping adds a bias that is strongest at the top of the document and
// tapers to zero at the end, then applies a compressive gamma curve.
// The inverse is analytic and only used for reverse sync.
package scroll

import (
	"errors"
	"math"
)

// Default tuning values.
const (
	DefaultBaseBias    = 0.08
	DefaultGamma       = 0.92
	DefaultSnapEpsilon = 0.001
)

// Validation errors.
var (
	ErrInvalidBias    = errors.New("scroll base bias must be in [0, 1)")
	ErrInvalidGamma   = errors.New("scroll gamma must be positive")
	ErrInvalidEpsilon = errors.New("scroll snap epsilon must be in [0, 0.5)")
)

// Config tunes the mapping curve.
type Config struct {
	BaseBias    float64
	Gamma       float64
	SnapEpsilon float64
}

// DefaultConfig returns the default curve.
func DefaultConfig() Config {
	return Config{
		BaseBias:    DefaultBaseBias,
		Gamma:       DefaultGamma,
		SnapEpsilon: DefaultSnapEpsilon,
	}
}

// Validate checks the curve parameters.
func (c Config) Validate() error {
	if math.IsNaN(c.BaseBias) || c.BaseBias < 0 || c.BaseBias >= 1 {
		return ErrInvalidBias
	}
	if math.IsNaN(c.Gamma) || math.IsInf(c.Gamma, 0) || c.Gamma <= 0 {
		return ErrInvalidGamma
	}
	if math.IsNaN(c.SnapEpsilon) || c.SnapEpsilon < 0 || c.SnapEpsilon >= 0.5 {
		return ErrInvalidEpsilon
	}
	return nil
}

// Position is an editor viewport position.
type Position struct {
	// Line is the zero-based index of the top visible line.
	Line int
	// Fraction is the offset within Line, in [0, 1].
	Fraction float64
	// TotalLines is the document's line count.
	TotalLines int
}

// Raw returns the linear ratio (Line+Fraction)/TotalLines clamped to
// [0, 1]. An empty document yields 0.
func (p Position) Raw() float64 {
	if p.TotalLines <= 0 {
		return 0
	}
	frac := p.Fraction
	if math.IsNaN(frac) {
		frac = 0
	}
	return clamp01((float64(p.Line) + clamp01(frac)) / float64(p.TotalLines))
}

// State is the scroll state derived from a position and page geometry.
type State struct {
	Position Position
	// Ratio is the preview scroll ratio in [0, 1].
	Ratio float64
	// Offset is Ratio applied to the total rendered height.
	Offset float64
	// Page is the zero-based page containing Offset, or -1 without pages.
	Page int
	// PageOffset is the distance from the top of Page.
	PageOffset float64
}

// Mapper converts between positions and preview ratios. It holds no
// per-document state and is safe for concurrent use.
type Mapper struct {
	cfg Config
}

// NewMapper returns a mapper for cfg.
func NewMapper(cfg Config) (*Mapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{cfg: cfg}, nil
}

// Config returns the mapper's curve.
func (m *Mapper) Config() Config {
	return m.cfg
}

// PreviewRatio maps pos to a preview scroll ratio in [0, 1]. The curve is
// renderer independent; page geometry only matters to State.
func (m *Mapper) PreviewRatio(pos Position, _ PageGeometry) float64 {
	return m.forward(pos.Raw())
}

func (m *Mapper) forward(raw float64) float64 {
	bias := m.cfg.BaseBias * (1 - raw)
	mapped := clamp01(math.Pow(clamp01(raw+bias), m.cfg.Gamma))
	if 1-mapped <= m.cfg.SnapEpsilon {
		return 1
	}
	return mapped
}

// DocumentPosition inverts PreviewRatio. Ratios below the top of the
// curve resolve to the first line; a ratio of 1 resolves to the end of
// the last line.
func (m *Mapper) DocumentPosition(ratio float64, _ PageGeometry, totalLines int) Position {
	if totalLines <= 0 {
		return Position{}
	}
	raw := m.inverse(ratio)
	at := raw * float64(totalLines)
	line := int(math.Floor(at))
	frac := at - float64(line)
	if line >= totalLines {
		line, frac = totalLines-1, 1
	}
	return Position{Line: line, Fraction: frac, TotalLines: totalLines}
}

func (m *Mapper) inverse(ratio float64) float64 {
	if math.IsNaN(ratio) {
		return 0
	}
	x := math.Pow(clamp01(ratio), 1/m.cfg.Gamma)
	b := m.cfg.BaseBias
	return clamp01((x - b) / (1 - b))
}

// State computes the full scroll state for pos against pages.
func (m *Mapper) State(pos Position, pages PageGeometry) State {
	ratio := m.PreviewRatio(pos, pages)
	offset := pages.OffsetForRatio(ratio)
	page, within := pages.PageAt(offset)
	return State{
		Position:   pos,
		Ratio:      ratio,
		Offset:     offset,
		Page:       page,
		PageOffset: within,
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
