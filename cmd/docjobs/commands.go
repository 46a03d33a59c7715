package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/docjobs/internal/processing"
	"github.com/kiranshivaraju/docjobs/pkg/markup"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

type command func(ctx context.Context, a *app, args []string, stdout io.Writer) error

var commands = map[string]command{
	"convert": convertCmd,
	"ocr":     ocrCmd,
	"split":   splitCmd,
	"redact":  redactCmd,
	"resume":  resumeCmd,
	"health":  healthCmd,
}

// output is printed as one JSON line per file written.
type output struct {
	models.WorkFile
	Path string `json:"path"`
}

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func convertCmd(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("convert")
	to := fs.String("to", "pdf", "destination format")
	pages := fs.String("pages", "", "page selection applied to every input, e.g. 1-3,5")
	outDir := fs.String("out", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("convert: at least one input file is required")
	}

	sources := make([]processing.Source, fs.NArg())
	for i, path := range fs.Args() {
		sources[i] = processing.Source{Input: processing.FromFile(path), Pages: *pages}
	}
	results, err := a.svc.Convert(ctx, processing.Destination{Format: *to}, sources...)
	if err != nil {
		return err
	}

	files := make([]models.WorkFile, len(results))
	for i, r := range results {
		files[i] = r.File
	}
	return a.save(ctx, stdout, *outDir, fs.Arg(0), "converted", files)
}

func ocrCmd(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("ocr")
	lang := fs.String("lang", processing.DefaultOCRLanguage, "recognition language")
	outDir := fs.String("out", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("ocr: exactly one input file is required")
	}

	wf, err := a.svc.OcrToPdf(ctx, processing.FromFile(fs.Arg(0)), *lang)
	if err != nil {
		return err
	}
	return a.save(ctx, stdout, *outDir, fs.Arg(0), "ocr", []models.WorkFile{wf})
}

func splitCmd(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("split")
	outDir := fs.String("out", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("split: an input file and at least one page range are required")
	}

	files, err := a.svc.Split(ctx, processing.FromFile(fs.Arg(0)), fs.Args()[1:]...)
	if err != nil {
		return err
	}
	return a.save(ctx, stdout, *outDir, fs.Arg(0), "part", files)
}

func redactCmd(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("redact")
	var patterns stringList
	fs.Var(&patterns, "pattern", "regular expression to redact (repeatable)")
	reason := fs.String("reason", "", "reason attached to every redaction")
	text := fs.Bool("text", false, "write plain text instead of pdf")
	crlf := fs.Bool("crlf", false, "use CRLF line endings for plain text")
	outDir := fs.String("out", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("redact: %w", err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("redact: exactly one input file is required")
	}
	if len(patterns) == 0 {
		return fmt.Errorf("redact: at least one -pattern is required")
	}

	rules := make([]markup.Rule, len(patterns))
	for i, p := range patterns {
		rules[i] = markup.RegexRule(p)
		if *reason != "" {
			rules[i].RedactWith.Reason = markup.String(*reason)
		}
	}

	src := processing.FromFile(fs.Arg(0))
	var wf models.WorkFile
	var err error
	if *text {
		wf, err = a.redactText(ctx, src, rules, *crlf)
	} else {
		wf, err = a.svc.RedactToPdf(ctx, src, rules)
	}
	if err != nil {
		return err
	}
	return a.save(ctx, stdout, *outDir, fs.Arg(0), "redacted", []models.WorkFile{wf})
}

func (a *app) redactText(ctx context.Context, src processing.Input, rules []markup.Rule, crlf bool) (models.WorkFile, error) {
	doc, err := a.svc.Upload(ctx, src)
	if err != nil {
		return models.WorkFile{}, err
	}
	mk, err := a.svc.CreateRedactions(ctx, processing.FromWorkFile(doc), rules)
	if err != nil {
		return models.WorkFile{}, err
	}
	lineEndings := "\n"
	if crlf {
		lineEndings = "\r\n"
	}
	return a.svc.RedactToPlainText(ctx, processing.FromWorkFile(doc), processing.FromWorkFile(mk), lineEndings)
}

func resumeCmd(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("resume")
	processor := fs.String("processor", "", "processor the process was created with")
	token := fs.String("token", "", "affinity token of the node running the process")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if fs.NArg() != 1 || *processor == "" || *token == "" {
		return fmt.Errorf("resume: -processor, -token and a process id are required")
	}

	res, err := a.svc.Resume(ctx, *processor, fs.Arg(0), *token)
	if err != nil {
		return err
	}
	return json.NewEncoder(stdout).Encode(res.Process)
}

// healthCmd reports the state of the optional backends.
func healthCmd(ctx context.Context, a *app, _ []string, stdout io.Writer) error {
	checks := map[string]string{
		"ledger": "ok",
		"cache":  "ok",
	}
	if err := a.ledger.Ping(ctx); err != nil {
		checks["ledger"] = "degraded"
	}
	if err := a.cache.Ping(ctx); err != nil {
		checks["cache"] = "degraded"
	}

	status := "ok"
	if checks["ledger"] != "ok" || checks["cache"] != "ok" {
		status = "degraded"
	}
	if err := json.NewEncoder(stdout).Encode(map[string]any{"status": status, "services": checks}); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("one or more services degraded")
	}
	return nil
}

// save downloads files into dir as <input base>.<tag>[-N].<format>.
func (a *app) save(ctx context.Context, stdout io.Writer, dir, input, tag string, files []models.WorkFile) error {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	enc := json.NewEncoder(stdout)
	for i, wf := range files {
		name := fmt.Sprintf("%s.%s.%s", base, tag, wf.Format)
		if len(files) > 1 {
			name = fmt.Sprintf("%s.%s-%d.%s", base, tag, i+1, wf.Format)
		}
		path := filepath.Join(dir, name)

		b, err := a.svc.Download(ctx, wf)
		if err != nil {
			return fmt.Errorf("download %s: %w", wf.ID, err)
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := enc.Encode(output{WorkFile: wf, Path: path}); err != nil {
			return err
		}
	}
	return nil
}
