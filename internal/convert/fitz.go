// Package convert renders stored documents into text and page images and
// drives the conversion stage of the pipeline.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/docpipe/docpipe/internal/pipeline"
)

// FitzConverter implements pipeline.Converter using MuPDF via go-fitz.
type FitzConverter struct {
	dpi float64
}

// NewFitzConverter builds a converter rendering pages at the given DPI.
func NewFitzConverter(dpi int) *FitzConverter {
	if dpi <= 0 {
		dpi = 150
	}
	return &FitzConverter{dpi: float64(dpi)}
}

// Convert opens the document at path and produces its full plain text plus
// one PNG per page.
func (c *FitzConverter) Convert(ctx context.Context, path string) (pipeline.ConversionOutput, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return pipeline.ConversionOutput{}, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return pipeline.ConversionOutput{}, fmt.Errorf("document has no pages")
	}

	var text strings.Builder
	images := make([][]byte, 0, pages)
	for page := 0; page < pages; page++ {
		select {
		case <-ctx.Done():
			return pipeline.ConversionOutput{}, ctx.Err()
		default:
		}

		pageText, err := doc.Text(page)
		if err != nil {
			return pipeline.ConversionOutput{}, fmt.Errorf("extract text from page %d: %w", page+1, err)
		}
		text.WriteString(pageText)
		if !strings.HasSuffix(pageText, "\n") {
			text.WriteString("\n")
		}

		img, err := doc.ImageDPI(page, c.dpi)
		if err != nil {
			return pipeline.ConversionOutput{}, fmt.Errorf("render page %d: %w", page+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return pipeline.ConversionOutput{}, fmt.Errorf("encode page %d: %w", page+1, err)
		}
		images = append(images, buf.Bytes())
	}

	return pipeline.ConversionOutput{Text: text.String(), Images: images}, nil
}

var _ pipeline.Converter = (*FitzConverter)(nil)
