package generation

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// FakeGenerator produces a flat placeholder image instead of calling an API.
// Used when no API key is configured, and in tests.
type FakeGenerator struct{}

func (FakeGenerator) Generate(_ context.Context, _ string, size string) ([]byte, string, error) {
	w, h := parseSize(size)
	img := imaging.New(w, h, color.NRGBA{R: 0x22, G: 0x22, B: 0x2a, A: 0xff})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, "", fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

func parseSize(size string) (int, int) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) == 2 {
		w, werr := strconv.Atoi(parts[0])
		h, herr := strconv.Atoi(parts[1])
		if werr == nil && herr == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return 1024, 1024
}

var _ Generator = FakeGenerator{}
