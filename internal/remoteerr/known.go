package remoteerr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Role names what a referenced work file is used for in a request.
type Role string

const (
	RoleSourceDocument Role = "source document"
	RoleMarkup         Role = "markup"
)

// FileRef ties a work file id to the request field that carried it.
type FileRef struct {
	Path   string // e.g. "input.documentFileId"
	Role   Role
	FileID string
}

// RequestContext describes the request whose response is being classified.
type RequestContext struct {
	Processor string
	Files     []FileRef
	// Params maps request field paths to the string values that were sent,
	// e.g. "input.dest.lineEndings".
	Params map[string]string
}

func (rc RequestContext) file(path string) (FileRef, bool) {
	for _, f := range rc.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileRef{}, false
}

// LineEndingValues are the line ending tokens the plain text redactor accepts.
var LineEndingValues = []string{"\n", "\r\n"}

const (
	LineEndingsPath = "input.dest.lineEndings"

	processorMarkupBurner      = "markupBurners"
	processorPlainTextRedactor = "plainTextRedactors"
	processorRedactionCreator  = "redactionCreators"
)

type errorDetails struct {
	In string `json:"in"`
	At string `json:"at"`
}

func parseDetails(raw json.RawMessage) errorDetails {
	var d errorDetails
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &d)
	}
	return d
}

type condition struct {
	processors []string // empty matches any
	codes      []string
	match      func(d errorDetails, rc RequestContext) bool
	kind       error
	message    func(d errorDetails, rc RequestContext) string
	// withDetails appends the raw error details to the message.
	withDetails bool
}

var knownConditions = []condition{
	{
		codes: []string{"ResourceNotFound"},
		match: func(d errorDetails, rc RequestContext) bool {
			f, ok := rc.file(d.At)
			return ok && f.Role == RoleSourceDocument
		},
		kind: ErrSourceDocumentNotFound,
		message: func(d errorDetails, rc RequestContext) string {
			f, _ := rc.file(d.At)
			return notFoundMessage("Source document", f.FileID)
		},
	},
	{
		processors: []string{processorMarkupBurner, processorPlainTextRedactor},
		codes:      []string{"ResourceNotFound"},
		match: func(d errorDetails, rc RequestContext) bool {
			f, ok := rc.file(d.At)
			return ok && f.Role == RoleMarkup
		},
		kind: ErrMarkupNotFound,
		message: func(d errorDetails, rc RequestContext) string {
			f, _ := rc.file(d.At)
			return notFoundMessage("Markup", f.FileID)
		},
	},
	{
		processors: []string{processorMarkupBurner, processorPlainTextRedactor},
		codes:      []string{"InvalidMarkup"},
		kind:       ErrInvalidMarkup,
		message: func(errorDetails, RequestContext) string {
			return "Markup content failed schema validation."
		},
		withDetails: true,
	},
	{
		codes: []string{"CouldNotProcessDocument", "UnsupportedFileFormat"},
		kind:  ErrUnprocessableDocument,
		message: func(errorDetails, RequestContext) string {
			return "The remote server could not process the source document. It may be corrupt or in an unsupported format."
		},
	},
	{
		processors: []string{processorPlainTextRedactor},
		codes:      []string{"InvalidInput"},
		match: func(d errorDetails, _ RequestContext) bool {
			return d.At == LineEndingsPath
		},
		kind: ErrUnsupportedLineEndings,
		message: func(_ errorDetails, rc RequestContext) string {
			return fmt.Sprintf("Unsupported line endings value %s. Accepted values are %s.",
				strconv.Quote(rc.Params[LineEndingsPath]), quotedList(LineEndingValues))
		},
	},
	{
		processors: []string{processorRedactionCreator},
		codes:      []string{"InvalidInput"},
		match: func(d errorDetails, _ RequestContext) bool {
			return strings.HasPrefix(d.At, "input.rules")
		},
		kind: ErrInvalidRule,
		message: func(d errorDetails, _ RequestContext) string {
			return fmt.Sprintf("Redaction rule rejected by the remote server (%s).", d.At)
		},
		withDetails: true,
	},
}

func matchKnown(code string, d errorDetails, rc RequestContext) (condition, bool) {
	for _, c := range knownConditions {
		if !contains(c.codes, code) {
			continue
		}
		if len(c.processors) > 0 && !contains(c.processors, rc.Processor) {
			continue
		}
		if c.match != nil && !c.match(d, rc) {
			continue
		}
		return c, true
	}
	return condition{}, false
}

func notFoundMessage(role, fileID string) string {
	return fmt.Sprintf("%s WorkFile %q not found. The WorkFile may have expired or never existed.", role, fileID)
}

func quotedList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	if len(quoted) < 2 {
		return strings.Join(quoted, "")
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " and " + quoted[len(quoted)-1]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
