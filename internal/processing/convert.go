package processing

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Page number tokens substituted by the server in header and footer lines.
const (
	PageNumberToken = "{{pageNumber}}"
	PageCountToken  = "{{pageCount}}"
)

// DefaultOCRLanguage is used when OcrToPdf is called without a language.
const DefaultOCRLanguage = "english"

// Source is one document of a conversion. Pages selects a subset such as "1-3,5"; empty means all.
type Source struct {
	Input Input
	Pages string
}

type HeaderFooterLine struct {
	Left   string `json:"left,omitempty"`
	Center string `json:"center,omitempty"`
	Right  string `json:"right,omitempty"`
}

// HeaderFooter lines may contain PageNumberToken and PageCountToken.
type HeaderFooter struct {
	Lines      []HeaderFooterLine `json:"lines"`
	FontFamily string             `json:"fontFamily,omitempty"`
	FontSize   string             `json:"fontSize,omitempty"`
	Color      string             `json:"color,omitempty"`
}

// Destination describes the output of a conversion. Format defaults to pdf.
type Destination struct {
	Format         string
	OCRLanguage    string
	Header         *HeaderFooter
	Footer         *HeaderFooter
	PageNumberType string
}

// ConversionResult is one output document of a conversion.
type ConversionResult struct {
	File      models.WorkFile
	PageCount int
	Sources   []SourcePages
}

type SourcePages struct {
	FileID string `json:"fileId"`
	Pages  string `json:"pages"`
}

type conversionInput struct {
	Sources []conversionSource `json:"sources"`
	Dest    conversionDest     `json:"dest"`
}

type conversionSource struct {
	FileID string `json:"fileId"`
	Pages  string `json:"pages,omitempty"`
}

type conversionDest struct {
	Format         string        `json:"format"`
	PdfOptions     *pdfOptions   `json:"pdfOptions,omitempty"`
	Header         *HeaderFooter `json:"header,omitempty"`
	Footer         *HeaderFooter `json:"footer,omitempty"`
	PageNumberType string        `json:"pageNumberType,omitempty"`
}

type pdfOptions struct {
	OCR *ocrOptions `json:"ocr,omitempty"`
}

type ocrOptions struct {
	Language string `json:"language"`
}

type conversionOutput struct {
	Results []struct {
		FileID    string        `json:"fileId"`
		PageCount int           `json:"pageCount"`
		Sources   []SourcePages `json:"sources"`
	} `json:"results"`
}

// Convert converts sources into dest.Format. Raster formats yield one result per page.
func (s *Service) Convert(ctx context.Context, dest Destination, sources ...Source) ([]ConversionResult, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("convert: at least one source is required")
	}
	inputs := make([]Input, len(sources))
	for i, src := range sources {
		inputs[i] = src.Input
	}
	files, err := s.resolve(ctx, inputs...)
	if err != nil {
		return nil, err
	}

	pages := make([]string, len(sources))
	for i, src := range sources {
		pages[i] = src.Pages
	}
	return s.convert(ctx, dest, files, pages)
}

func (s *Service) convert(ctx context.Context, dest Destination, files []models.WorkFile, pages []string) ([]ConversionResult, error) {
	format := models.NormalizeFormat(dest.Format)
	if format == "" {
		format = "pdf"
	}

	in := conversionInput{
		Dest: conversionDest{
			Format:         format,
			Header:         dest.Header,
			Footer:         dest.Footer,
			PageNumberType: dest.PageNumberType,
		},
	}
	if dest.OCRLanguage != "" {
		in.Dest.PdfOptions = &pdfOptions{OCR: &ocrOptions{Language: dest.OCRLanguage}}
	}

	refs := make([]remoteerr.FileRef, len(files))
	for i, wf := range files {
		in.Sources = append(in.Sources, conversionSource{FileID: wf.ID, Pages: pages[i]})
		refs[i] = remoteerr.FileRef{
			Path:   fmt.Sprintf("input.sources[%d].fileId", i),
			Role:   remoteerr.RoleSourceDocument,
			FileID: wf.ID,
		}
	}

	res, err := s.run(ctx, job.Request{
		Processor: job.ProcessorContentConverter,
		Input:     in,
		Inputs:    files,
		Files:     refs,
	})
	if err != nil {
		return nil, err
	}

	var out conversionOutput
	if err := res.Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		_, err := res.WorkFile("output.results", "", format)
		return nil, err
	}

	results := make([]ConversionResult, len(out.Results))
	for i, r := range out.Results {
		wf, err := res.WorkFile(fmt.Sprintf("output.results[%d].fileId", i), r.FileID, format)
		if err != nil {
			return nil, err
		}
		results[i] = ConversionResult{File: wf, PageCount: r.PageCount, Sources: r.Sources}
	}
	return results, nil
}

func (s *Service) convertOne(ctx context.Context, dest Destination, sources ...Source) (models.WorkFile, error) {
	results, err := s.Convert(ctx, dest, sources...)
	if err != nil {
		return models.WorkFile{}, err
	}
	return results[0].File, nil
}

// OcrToPdf recognizes the text of an image or scanned document into a searchable pdf.
func (s *Service) OcrToPdf(ctx context.Context, src Input, language string) (models.WorkFile, error) {
	if language == "" {
		language = DefaultOCRLanguage
	}
	return s.convertOne(ctx, Destination{Format: "pdf", OCRLanguage: language}, Source{Input: src})
}

// Combine concatenates sources, in order, into one pdf.
func (s *Service) Combine(ctx context.Context, sources ...Source) (models.WorkFile, error) {
	return s.convertOne(ctx, Destination{Format: "pdf"}, sources...)
}

// ApplyHeaderFooter returns a pdf of src with header and footer lines on every page.
func (s *Service) ApplyHeaderFooter(ctx context.Context, src Input, header, footer *HeaderFooter) (models.WorkFile, error) {
	if header == nil && footer == nil {
		return models.WorkFile{}, fmt.Errorf("apply header/footer: header or footer is required")
	}
	return s.convertOne(ctx, Destination{Format: "pdf", Header: header, Footer: footer}, Source{Input: src})
}

// Split uploads src once and converts each page range into its own pdf.
// Conversions run concurrently; results follow the order of ranges.
func (s *Service) Split(ctx context.Context, src Input, ranges ...string) ([]models.WorkFile, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("split: at least one page range is required")
	}
	files, err := s.resolve(ctx, src)
	if err != nil {
		return nil, err
	}

	out := make([]models.WorkFile, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.splitLimit)
	for i, r := range ranges {
		g.Go(func() error {
			results, err := s.convert(gctx, Destination{Format: "pdf"}, files, []string{r})
			if err != nil {
				return err
			}
			out[i] = results[0].File
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
