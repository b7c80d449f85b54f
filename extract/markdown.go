package extract

import (
	"bytes"
	"math"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// glyph is one positioned piece of text on a page. Y grows upwards.
type glyph struct {
	X, Y, W float64
	Size    float64
	S       string
}

type textLine struct {
	y    float64
	size float64
	text string
}

// Font size ratios over the body size that promote a line to a heading.
const (
	h1Ratio = 1.6
	h2Ratio = 1.25

	// Headings are short; longer lines stay paragraphs whatever their size.
	maxHeadingLen = 120
)

// renderMarkdown lays glyphs out into lines and returns markdown text.
// Lines set well above the dominant font size become headings and large
// vertical gaps become paragraph breaks.
func renderMarkdown(glyphs []glyph) string {
	lines := layoutLines(glyphs)
	if len(lines) == 0 {
		return ""
	}
	body := bodySize(glyphs)

	var buf strings.Builder
	var prev *textLine
	for i := range lines {
		line := &lines[i]
		prefix := headingPrefix(line, body)

		if prev != nil {
			gap := prev.y - line.y
			switch {
			case prefix != "" || isHeading(prev, body):
				buf.WriteString("\n\n")
			case body > 0 && gap > 1.8*body:
				buf.WriteString("\n\n")
			default:
				buf.WriteString("\n")
			}
		}
		buf.WriteString(prefix)
		buf.WriteString(line.text)
		prev = line
	}
	return buf.String()
}

func isHeading(line *textLine, body float64) bool {
	return headingPrefix(line, body) != ""
}

func headingPrefix(line *textLine, body float64) string {
	if body <= 0 || len(line.text) > maxHeadingLen {
		return ""
	}
	switch {
	case line.size >= h1Ratio*body:
		return "# "
	case line.size >= h2Ratio*body:
		return "## "
	default:
		return ""
	}
}

// layoutLines groups glyphs sharing a baseline, top of page first.
func layoutLines(glyphs []glyph) []textLine {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]glyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y > sorted[j].Y
	})

	var (
		lines []textLine
		run   []glyph
	)
	emit := func() {
		if len(run) == 0 {
			return
		}
		if line, ok := joinRun(run); ok {
			lines = append(lines, line)
		}
		run = nil
	}
	for _, g := range sorted {
		if len(run) > 0 {
			tolerance := math.Max(g.Size, 1) * 0.4
			if run[0].Y-g.Y > tolerance {
				emit()
			}
		}
		run = append(run, g)
	}
	emit()
	return lines
}

// joinRun orders one line's glyphs left to right and inserts spaces where
// the horizontal gap between glyphs is wider than a fraction of the font size.
func joinRun(run []glyph) (textLine, bool) {
	sort.SliceStable(run, func(i, j int) bool {
		return run[i].X < run[j].X
	})

	var (
		buf  strings.Builder
		size float64
	)
	for i, g := range run {
		if i > 0 {
			prev := run[i-1]
			gap := g.X - (prev.X + prev.W)
			if gap > 0.2*math.Max(g.Size, 1) &&
				!strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(g.S, " ") {
				buf.WriteByte(' ')
			}
		}
		buf.WriteString(g.S)
		if strings.TrimSpace(g.S) != "" && g.Size > size {
			size = g.Size
		}
	}

	s := strings.Join(strings.Fields(buf.String()), " ")
	if s == "" {
		return textLine{}, false
	}
	return textLine{y: run[0].Y, size: size, text: s}, true
}

// bodySize returns the font size carrying the most visible characters.
func bodySize(glyphs []glyph) float64 {
	counts := make(map[float64]int)
	for _, g := range glyphs {
		n := len(strings.TrimSpace(g.S))
		if n == 0 {
			continue
		}
		counts[math.Round(g.Size*2)/2] += n
	}

	var (
		best  float64
		count int
	)
	for size, n := range counts {
		if n > count || (n == count && size < best) {
			best, count = size, n
		}
	}
	return best
}

var markdownParser = goldmark.New().Parser()

// firstHeading returns the text of the first heading in a markdown document.
func firstHeading(markdown string) string {
	if markdown == "" {
		return ""
	}
	source := []byte(markdown)
	doc := markdownParser.Parse(text.NewReader(source))

	var heading string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		lines := h.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
		heading = strings.TrimSpace(buf.String())
		if heading == "" {
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkStop, nil
	})
	return heading
}
