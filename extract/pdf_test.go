package extract

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal PDF with one content stream per page.
func buildPDF(streams ...string) []byte {
	var objects []string
	kids := ""
	for i := range streams {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(streams)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, stream := range streams {
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDF_Extract(t *testing.T) {
	doc := buildPDF(
		"BT /F1 24 Tf 72 720 Td (Quarterly Report) Tj ET\n"+
			"BT /F1 12 Tf 72 690 Td (Revenue grew in every region this quarter.) Tj ET",
		"BT /F1 12 Tf 72 720 Td (Second page body) Tj ET",
		"",
	)

	units, err := NewPDF(nil).Extract(context.Background(), doc, "report.pdf")
	require.NoError(t, err)
	require.Len(t, units, 3)

	first := units[0]
	assert.Equal(t, 1, first.Ordinal)
	assert.Contains(t, first.Content, "# Quarterly Report")
	assert.Contains(t, first.Content, "Revenue grew in every region this quarter.")
	assert.Equal(t, core.Metadata{
		FileName:   "report.pdf",
		FileType:   "pdf",
		PageNumber: 1,
		TotalPages: 3,
		Heading:    "Quarterly Report",
	}, first.Metadata)

	assert.Equal(t, "Second page body", units[1].Content)
	assert.Empty(t, units[1].Metadata.Heading)

	assert.Empty(t, units[2].Content, "blank pages keep their slot")
	assert.Equal(t, 3, units[2].Metadata.PageNumber)

	require.NoError(t, core.ValidateUnits(units))
}

func TestPDF_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"not a pdf":   []byte("plain text pretending to be a pdf"),
		"empty":       nil,
		"no trailer":  append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 200)...),
		"bad xref":    []byte("%PDF-1.4\n" + string(bytes.Repeat([]byte(" "), 120)) + "startxref\n99999\n%%EOF\n"),
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewPDF(nil).Extract(context.Background(), doc, "broken.pdf")
			assert.ErrorIs(t, err, core.ErrExtraction)
			assert.Equal(t, core.KindExtraction, core.KindOf(err))
		})
	}
}

func TestPDF_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPDF(nil).Extract(ctx, buildPDF("BT /F1 12 Tf 72 720 Td (x) Tj ET"), "a.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}
