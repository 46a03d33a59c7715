package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/docjobs/internal/workfile"
	"github.com/kiranshivaraju/docjobs/pkg/markup"
	"github.com/kiranshivaraju/docjobs/pkg/models"
)

// Input is a document argument to a Service operation: either a WorkFile
// already on the cluster or local content uploaded implicitly.
type Input struct {
	wf     *models.WorkFile
	data   []byte
	r      io.Reader
	path   string
	format string
}

// FromWorkFile reuses a WorkFile as is.
func FromWorkFile(wf models.WorkFile) Input {
	return Input{wf: &wf, format: wf.Format}
}

func FromBytes(b []byte, format string) Input {
	return Input{data: b, format: models.NormalizeFormat(format)}
}

// FromReader streams r when the input is uploaded. r is read once.
func FromReader(r io.Reader, format string) Input {
	return Input{r: r, format: models.NormalizeFormat(format)}
}

// FromFile uploads the file at path. The format is taken from its extension.
func FromFile(path string) Input {
	return Input{path: path, format: models.NormalizeFormat(filepath.Ext(path))}
}

// FromMarkup encodes doc as a JSON markup input.
func FromMarkup(doc markup.Document) (Input, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return Input{}, fmt.Errorf("encoding markup: %w", err)
	}
	return FromBytes(b, "json"), nil
}

// WorkFile returns the input's WorkFile when it already lives on the cluster.
func (in Input) WorkFile() (models.WorkFile, bool) {
	if in.wf == nil {
		return models.WorkFile{}, false
	}
	return *in.wf, true
}

func (in Input) Format() string {
	return in.format
}

// bytes loads local content into memory so it can be inspected before upload.
func (in Input) bytes() ([]byte, error) {
	switch {
	case in.data != nil:
		return in.data, nil
	case in.path != "":
		b, err := os.ReadFile(in.path)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		return b, nil
	case in.r != nil:
		b, err := io.ReadAll(in.r)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		return b, nil
	}
	return []byte{}, nil
}

func (in Input) upload(ctx context.Context, sess *workfile.Session) (models.WorkFile, error) {
	switch {
	case in.wf != nil:
		return *in.wf, nil
	case in.path != "":
		f, err := os.Open(in.path)
		if err != nil {
			return models.WorkFile{}, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		return sess.Upload(ctx, f, in.format)
	case in.r != nil:
		return sess.Upload(ctx, in.r, in.format)
	}
	return sess.UploadBytes(ctx, in.data, in.format)
}
