package processing

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/kiranshivaraju/docjobs/internal/remoteerr"
	"github.com/kiranshivaraju/docjobs/pkg/markup"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

// DefaultLineEndings is used when RedactToPlainText is called without line endings.
const DefaultLineEndings = "\n"

var (
	documentRef = remoteerr.FileRef{Path: "input.documentFileId", Role: remoteerr.RoleSourceDocument}
	markupRef   = remoteerr.FileRef{Path: "input.markupFileId", Role: remoteerr.RoleMarkup}
)

func withID(ref remoteerr.FileRef, id string) remoteerr.FileRef {
	ref.FileID = id
	return ref
}

// CreateRedactions finds the text matched by rules in src and returns a JSON
// markup WorkFile with one rectangle redaction per match. Rules with an empty
// matcher are skipped.
func (s *Service) CreateRedactions(ctx context.Context, src Input, rules []markup.Rule) (models.WorkFile, error) {
	compiled, err := s.compiler.Compile(rules)
	if err != nil {
		return models.WorkFile{}, fmt.Errorf("compiling rules: %w", err)
	}
	files, err := s.resolve(ctx, src)
	if err != nil {
		return models.WorkFile{}, err
	}
	return s.createRedactions(ctx, files[0], compiled)
}

func (s *Service) createRedactions(ctx context.Context, doc models.WorkFile, rules []markup.Object) (models.WorkFile, error) {
	in := markup.Object{
		{Key: "documentFileId", Value: doc.ID},
		{Key: "rules", Value: rules},
	}
	res, err := s.run(ctx, job.Request{
		Processor: job.ProcessorRedactionCreator,
		Input:     in,
		Inputs:    []models.WorkFile{doc},
		Files:     []remoteerr.FileRef{withID(documentRef, doc.ID)},
	})
	if err != nil {
		return models.WorkFile{}, err
	}

	var out struct {
		MarkupFileID string `json:"markupFileId"`
	}
	if err := res.Decode(&out); err != nil {
		return models.WorkFile{}, err
	}
	return res.WorkFile("output.markupFileId", out.MarkupFileID, "json")
}

// BurnMarkup applies the redactions in markupIn to doc and returns a pdf.
// Local markup is validated before it is uploaded.
func (s *Service) BurnMarkup(ctx context.Context, doc, markupIn Input) (models.WorkFile, error) {
	markupIn, err := s.checkMarkup(markupIn)
	if err != nil {
		return models.WorkFile{}, err
	}
	files, err := s.resolve(ctx, doc, markupIn)
	if err != nil {
		return models.WorkFile{}, err
	}
	return s.burn(ctx, files[0], files[1])
}

func (s *Service) burn(ctx context.Context, doc, mk models.WorkFile) (models.WorkFile, error) {
	res, err := s.run(ctx, job.Request{
		Processor: job.ProcessorMarkupBurner,
		Input: map[string]string{
			"documentFileId": doc.ID,
			"markupFileId":   mk.ID,
		},
		Inputs: []models.WorkFile{doc, mk},
		Files:  []remoteerr.FileRef{withID(documentRef, doc.ID), withID(markupRef, mk.ID)},
	})
	if err != nil {
		return models.WorkFile{}, err
	}

	var out struct {
		DocumentFileID string `json:"documentFileId"`
	}
	if err := res.Decode(&out); err != nil {
		return models.WorkFile{}, err
	}
	return res.WorkFile("output.documentFileId", out.DocumentFileID, "pdf")
}

// RedactToPdf uploads src once, creates redactions for rules and burns them in.
func (s *Service) RedactToPdf(ctx context.Context, src Input, rules []markup.Rule) (models.WorkFile, error) {
	compiled, err := s.compiler.Compile(rules)
	if err != nil {
		return models.WorkFile{}, fmt.Errorf("compiling rules: %w", err)
	}
	files, err := s.resolve(ctx, src)
	if err != nil {
		return models.WorkFile{}, err
	}
	mk, err := s.createRedactions(ctx, files[0], compiled)
	if err != nil {
		return models.WorkFile{}, err
	}
	s.logger.Debug("redactions created", "document", files[0].ID, "markup", mk.ID)
	return s.burn(ctx, files[0], mk)
}

// RedactToPlainText applies markupIn to doc and returns the text with each
// redaction replaced by its reason, or [REDACTED]. lineEndings must be "\n"
// or "\r\n"; empty means "\n".
func (s *Service) RedactToPlainText(ctx context.Context, doc, markupIn Input, lineEndings string) (models.WorkFile, error) {
	if lineEndings == "" {
		lineEndings = DefaultLineEndings
	}
	markupIn, err := s.checkMarkup(markupIn)
	if err != nil {
		return models.WorkFile{}, err
	}
	files, err := s.resolve(ctx, doc, markupIn)
	if err != nil {
		return models.WorkFile{}, err
	}
	d, mk := files[0], files[1]

	res, err := s.run(ctx, job.Request{
		Processor: job.ProcessorPlainTextRedactor,
		Input: map[string]any{
			"documentFileId": d.ID,
			"markupFileId":   mk.ID,
			"dest":           map[string]string{"lineEndings": lineEndings},
		},
		Inputs: []models.WorkFile{d, mk},
		Files:  []remoteerr.FileRef{withID(documentRef, d.ID), withID(markupRef, mk.ID)},
		Params: map[string]string{remoteerr.LineEndingsPath: lineEndings},
	})
	if err != nil {
		return models.WorkFile{}, err
	}

	var out struct {
		FileID string `json:"fileId"`
	}
	if err := res.Decode(&out); err != nil {
		return models.WorkFile{}, err
	}
	return res.WorkFile("output.fileId", out.FileID, "txt")
}

// checkMarkup validates local markup content. The returned Input replaces
// markupIn since reading a stream consumes it.
func (s *Service) checkMarkup(markupIn Input) (Input, error) {
	if _, ok := markupIn.WorkFile(); ok {
		return markupIn, nil
	}
	b, err := markupIn.bytes()
	if err != nil {
		return Input{}, err
	}
	if err := s.validator.Validate(b); err != nil {
		return Input{}, fmt.Errorf("%w: %w", remoteerr.ErrInvalidMarkup, err)
	}
	format := markupIn.Format()
	if format == "" {
		format = "json"
	}
	return FromBytes(b, format), nil
}
