package charts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderWritesSVG(t *testing.T) {
	dir := t.TempDir()

	asset, err := Render(dir, "price_performance", "Period return by ticker", []Point{
		{Label: "TSLA", Value: 12.4},
		{Label: "BYDDF", Value: -3.1},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if asset.ID != "price_performance" {
		t.Errorf("ID = %q, want price_performance", asset.ID)
	}
	// The path must stay relative to the report so the run directory can
	// be moved or served as a whole.
	if asset.Path != "price_performance.svg" {
		t.Errorf("Path = %q, want the bare file name", asset.Path)
	}
	data, err := os.ReadFile(filepath.Join(dir, asset.Path))
	if err != nil {
		t.Fatalf("reading rendered asset: %v", err)
	}
	svg := string(data)
	if !strings.HasPrefix(svg, "<svg") || !strings.HasSuffix(svg, "</svg>") {
		t.Error("rendered file is not a well-formed SVG document")
	}
	for _, want := range []string{"TSLA", "BYDDF", "Period return by ticker"} {
		if !strings.Contains(svg, want) {
			t.Errorf("rendered SVG missing %q", want)
		}
	}
}

func TestRenderEmptyDataset(t *testing.T) {
	if _, err := Render(t.TempDir(), "empty", "Empty", nil); err == nil {
		t.Error("Render() accepted an empty dataset")
	}
}

func TestRenderEscapesMarkup(t *testing.T) {
	dir := t.TempDir()
	asset, err := Render(dir, "esc", "<Title> & more", []Point{{Label: "<b>", Value: 1}})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, asset.Path))
	if strings.Contains(string(data), "<Title>") || strings.Contains(string(data), "<b>") {
		t.Error("labels not escaped in SVG output")
	}
}
