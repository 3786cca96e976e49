package history

import (
	"strings"
)

// FallbackColor is used for regions the palette does not map.
const FallbackColor = "rgb(128, 128, 128)"

// Palette maps region ids to their chart line colors, as CSS rgb() strings.
// The palette is injected configuration, not process-wide state, so two
// reducers can chart the same regions differently.
type Palette map[string]string

// Color returns the region's color, or the neutral fallback for unmapped
// ids and nil palettes.
func (p Palette) Color(regionID string) string {
	if c, ok := p[regionID]; ok && c != "" {
		return c
	}
	return FallbackColor
}

// Translucent derives the fill variant of a line color: an rgb() string
// becomes the matching rgba() with 0.1 alpha. Strings not in rgb() form are
// returned unchanged.
func Translucent(color string) string {
	if !strings.HasPrefix(color, "rgb(") || !strings.HasSuffix(color, ")") {
		return color
	}
	return "rgba(" + strings.TrimSuffix(strings.TrimPrefix(color, "rgb("), ")") + ", 0.1)"
}
