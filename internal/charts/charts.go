// Package charts implements the chart rendering collaborator. Rendered
// assets are self-contained SVG files written under the run's output
// directory and referenced from the compiled report by relative path.
package charts

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Asset is one rendered chart reference.
type Asset struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Path    string `json:"path"`
	Caption string `json:"caption"`
}

// Point is one labeled value in a chart dataset.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Render draws a horizontal bar chart for the dataset and writes it as an
// SVG file named after the chart id. The asset path is the bare file name:
// the SVG sits next to the compiled report, and a relative reference keeps
// the run directory relocatable.
func Render(dir, id, title string, points []Point) (Asset, error) {
	if len(points) == 0 {
		return Asset{}, fmt.Errorf("chart %s: empty dataset", id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Asset{}, fmt.Errorf("create chart dir: %w", err)
	}

	name := id + ".svg"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(renderSVG(title, points)), 0o644); err != nil {
		return Asset{}, fmt.Errorf("write chart %s: %w", id, err)
	}

	return Asset{
		ID:      id,
		Title:   title,
		Path:    name,
		Caption: fmt.Sprintf("%s (%d series)", title, len(points)),
	}, nil
}

const (
	svgWidth   = 640
	barHeight  = 22
	barGap     = 8
	labelWidth = 140
	topPad     = 40
)

// renderSVG produces a minimal bar chart. Negative values draw leftwards
// from the axis so return charts read naturally.
func renderSVG(title string, points []Point) string {
	maxAbs := 0.0
	for _, p := range points {
		if a := math.Abs(p.Value); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	height := topPad + len(points)*(barHeight+barGap)
	axis := float64(labelWidth + (svgWidth-labelWidth)/2)
	scale := float64(svgWidth-labelWidth) / 2 / maxAbs

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`, svgWidth, height)
	fmt.Fprintf(&sb, `<text x="8" y="24" font-size="16" font-family="sans-serif">%s</text>`, escape(title))
	fmt.Fprintf(&sb, `<line x1="%.0f" y1="%d" x2="%.0f" y2="%d" stroke="#999"/>`, axis, topPad-6, axis, height)

	for i, p := range points {
		y := topPad + i*(barHeight+barGap)
		w := p.Value * scale
		x := axis
		fill := "#2a7ae2"
		if w < 0 {
			x = axis + w
			w = -w
			fill = "#d95050"
		}
		fmt.Fprintf(&sb, `<rect x="%.1f" y="%d" width="%.1f" height="%d" fill="%s"/>`, x, y, w, barHeight, fill)
		fmt.Fprintf(&sb, `<text x="8" y="%d" font-size="12" font-family="sans-serif">%s</text>`, y+barHeight-6, escape(p.Label))
		fmt.Fprintf(&sb, `<text x="%.1f" y="%d" font-size="11" font-family="sans-serif">%.1f</text>`, axis+4, y-2, p.Value)
	}
	sb.WriteString(`</svg>`)
	return sb.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
