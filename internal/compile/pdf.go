package compile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNotPDF is returned when a file lacks the PDF header.
var ErrNotPDF = errors.New("not a PDF file")

func init() {
	// Page geometry needs only the built-in defaults; no per-user
	// config or font directory is created.
	api.DisableConfigDir()
}

// PageHeights reads the page heights of the PDF at path, in points.
func PageHeights(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return ParsePageHeights(data)
}

// ParsePageHeights returns the effective height of every page in document
// order. Media boxes inherited through the page tree and page objects kept
// in compressed object streams are both resolved.
func ParsePageHeights(data []byte) ([]float64, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read page geometry: %w", err)
	}

	heights := make([]float64, len(dims))
	for i, d := range dims {
		heights[i] = d.Height
	}
	return heights, nil
}
