package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/poiesic/prepdocs/core"
)

const (
	presentationPart = "ppt/presentation.xml"
	presentationRels = "ppt/_rels/presentation.xml.rels"
	relsNamespace    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	slideRelType     = relsNamespace + "/slide"
)

var errNotPresentation = errors.New("not an OOXML presentation")

// Presentation extracts one unit per slide from .pptx decks.
type Presentation struct{}

var _ Extractor = (*Presentation)(nil)

// NewPresentation creates a slide deck extractor.
func NewPresentation() *Presentation {
	return &Presentation{}
}

type pptxPresentation struct {
	SlideIDs []struct {
		RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type pptxRelationships struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type pptxSlide struct {
	Shapes []pptxShape `xml:"cSld>spTree>sp"`
}

type pptxShape struct {
	TxBody *struct {
		Paragraphs []pptxParagraph `xml:"p"`
	} `xml:"txBody"`
}

type pptxParagraph struct {
	Items []struct {
		XMLName xml.Name
		Text    string `xml:"t"`
	} `xml:",any"`
}

func (p pptxParagraph) text() string {
	var buf strings.Builder
	for _, item := range p.Items {
		if item.XMLName.Local == "br" {
			buf.WriteByte('\n')
			continue
		}
		buf.WriteString(item.Text)
	}
	return buf.String()
}

func (s pptxShape) text() string {
	if s.TxBody == nil {
		return ""
	}
	paragraphs := make([]string, len(s.TxBody.Paragraphs))
	for i, p := range s.TxBody.Paragraphs {
		paragraphs[i] = p.text()
	}
	return strings.Join(paragraphs, "\n")
}

// Extract reads slides in presentation order. Each slide's text is the text
// of its top-level shapes in document order, one shape per line.
func (x *Presentation) Extract(ctx context.Context, content []byte, name string) ([]core.Unit, error) {
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, extractionError(name, fmt.Errorf("%w: %w", errNotPresentation, err))
	}
	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		files[f.Name] = f
	}

	slidePaths, err := slideOrder(files)
	if err != nil {
		return nil, extractionError(name, err)
	}

	total := len(slidePaths)
	units := make([]core.Unit, 0, total)
	for i, slidePath := range slidePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var slide pptxSlide
		if err := decodePart(files, slidePath, &slide); err != nil {
			return nil, extractionError(name, err)
		}

		var texts []string
		for _, shape := range slide.Shapes {
			if t := strings.TrimSpace(shape.text()); t != "" {
				texts = append(texts, t)
			}
		}
		units = append(units, core.Unit{
			Ordinal: i + 1,
			Content: strings.Join(texts, "\n"),
			Metadata: core.Metadata{
				FileName:    name,
				FileType:    core.FormatPresentation.FileType(),
				SlideNumber: i + 1,
				TotalSlides: total,
			},
		})
	}
	return units, nil
}

// slideOrder resolves the slide id list to part names.
func slideOrder(files map[string]*zip.File) ([]string, error) {
	var pres pptxPresentation
	if err := decodePart(files, presentationPart, &pres); err != nil {
		return nil, err
	}
	var rels pptxRelationships
	if err := decodePart(files, presentationRels, &rels); err != nil {
		return nil, err
	}

	targets := make(map[string]string, len(rels.Relationships))
	for _, rel := range rels.Relationships {
		if rel.Type == slideRelType {
			targets[rel.ID] = rel.Target
		}
	}

	paths := make([]string, 0, len(pres.SlideIDs))
	for _, id := range pres.SlideIDs {
		target, ok := targets[id.RelID]
		if !ok {
			return nil, fmt.Errorf("slide relationship %q not found", id.RelID)
		}
		if strings.HasPrefix(target, "/") {
			paths = append(paths, strings.TrimPrefix(target, "/"))
		} else {
			paths = append(paths, path.Join("ppt", target))
		}
	}
	return paths, nil
}

func decodePart(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("%w: missing part %s", errNotPresentation, name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := xml.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
