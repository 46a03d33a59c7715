package remotetest

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docjobs/pkg/markup"
)

var (
	convertibleFormats = map[string]bool{
		"pdf": true, "tiff": true, "docx": true, "txt": true,
		"png": true, "jpeg": true, "svg": true,
	}
	// Raster formats produce one result per page.
	perPageFormats = map[string]bool{"png": true, "jpeg": true, "svg": true}
)

func (n *node) store(data []byte, format string) string {
	id := uuid.NewString()
	n.files[id] = &storedFile{data: data, format: format}
	return id
}

// --- contentConverters ---

type headerFooter struct {
	Lines []struct {
		Left   string `json:"left"`
		Center string `json:"center"`
		Right  string `json:"right"`
	} `json:"lines"`
	FontFamily string `json:"fontFamily"`
	FontSize   string `json:"fontSize"`
	Color      string `json:"color"`
}

type conversionInput struct {
	Sources []struct {
		FileID string `json:"fileId"`
		Pages  string `json:"pages"`
	} `json:"sources"`
	Dest struct {
		Format     string `json:"format"`
		PdfOptions *struct {
			Ocr *struct {
				Language string `json:"language"`
			} `json:"ocr"`
		} `json:"pdfOptions"`
		Header         *headerFooter `json:"header"`
		Footer         *headerFooter `json:"footer"`
		PageNumberType string        `json:"pageNumberType"`
	} `json:"dest"`
}

type sourcePages struct {
	FileID string `json:"fileId"`
	Pages  string `json:"pages"`
}

type conversionResult struct {
	FileID    string        `json:"fileId"`
	PageCount int           `json:"pageCount"`
	Sources   []sourcePages `json:"sources"`
}

func prepareConversion(c *Cluster, raw json.RawMessage) (work, *rejection) {
	var in conversionInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalidInput("input")
	}
	if len(in.Sources) == 0 {
		return nil, invalidInput("input.sources")
	}
	for i, s := range in.Sources {
		if f, _ := c.findFile(s.FileID); f == nil {
			return nil, notFound(indexed("input.sources[%d].fileId", i))
		}
	}

	dest := in.Dest
	if !convertibleFormats[dest.Format] {
		return nil, invalidInput("input.dest.format")
	}
	if dest.PdfOptions != nil && dest.Format != "pdf" {
		return nil, invalidInput("input.dest.pdfOptions")
	}
	if dest.Header != nil && dest.Format != "pdf" {
		return nil, invalidInput("input.dest.header")
	}
	if dest.Footer != nil && dest.Format != "pdf" {
		return nil, invalidInput("input.dest.footer")
	}
	if dest.PageNumberType != "" && dest.PageNumberType != "arabicNumerals" {
		return nil, invalidInput("input.dest.pageNumberType")
	}

	return func(n *node) (any, *outcome) {
		type page struct {
			text   string
			fileID string
			number int
		}
		var pages []page
		for i, s := range in.Sources {
			f, _ := c.findFile(s.FileID)
			texts, err := parseDocument(f.format, f.data)
			if err != nil {
				return nil, failed("CouldNotProcessDocument", indexed("input.sources[%d].fileId", i))
			}
			selected, err := parsePageRange(s.Pages, len(texts))
			if err != nil {
				return nil, failed("InvalidInput", indexed("input.sources[%d].pages", i))
			}
			for _, num := range selected {
				pages = append(pages, page{text: texts[num-1], fileID: s.FileID, number: num})
			}
		}

		texts := make([]string, len(pages))
		for i, p := range pages {
			texts[i] = decoratePage(p.text, i+1, len(pages), dest.Header, dest.Footer)
		}

		var results []conversionResult
		if perPageFormats[dest.Format] {
			for i, p := range pages {
				id := n.store(renderDocument(dest.Format, texts[i:i+1]), dest.Format)
				results = append(results, conversionResult{
					FileID:    id,
					PageCount: 1,
					Sources:   []sourcePages{{FileID: p.fileID, Pages: strconv.Itoa(p.number)}},
				})
			}
		} else {
			var sources []sourcePages
			var run []int
			for i, p := range pages {
				run = append(run, p.number)
				if i+1 == len(pages) || pages[i+1].fileID != p.fileID {
					sources = append(sources, sourcePages{FileID: p.fileID, Pages: formatPageRange(run)})
					run = nil
				}
			}
			id := n.store(renderDocument(dest.Format, texts), dest.Format)
			results = append(results, conversionResult{FileID: id, PageCount: len(pages), Sources: sources})
		}
		return map[string]any{"results": results}, nil
	}, nil
}

// decoratePage adds header lines above and footer lines below a page.
func decoratePage(text string, number, count int, header, footer *headerFooter) string {
	render := func(hf *headerFooter) []string {
		if hf == nil {
			return nil
		}
		var lines []string
		for _, l := range hf.Lines {
			var parts []string
			for _, s := range []string{l.Left, l.Center, l.Right} {
				if s != "" {
					parts = append(parts, s)
				}
			}
			line := strings.Join(parts, " | ")
			line = strings.ReplaceAll(line, "{{pageNumber}}", strconv.Itoa(number))
			line = strings.ReplaceAll(line, "{{pageCount}}", strconv.Itoa(count))
			lines = append(lines, line)
		}
		return lines
	}

	var out []string
	out = append(out, render(header)...)
	out = append(out, text)
	out = append(out, render(footer)...)
	return strings.Join(out, "\n")
}

// --- redactionCreators ---

type redactionRule struct {
	Find struct {
		Type    string `json:"type"`
		Pattern string `json:"pattern"`
	} `json:"find"`
	RedactWith struct {
		Type string `json:"type"`
		markup.Style
	} `json:"redactWith"`
}

func prepareRedactionCreation(c *Cluster, raw json.RawMessage) (work, *rejection) {
	var in struct {
		DocumentFileID string          `json:"documentFileId"`
		Rules          []redactionRule `json:"rules"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalidInput("input")
	}
	if f, _ := c.findFile(in.DocumentFileID); f == nil {
		return nil, notFound("input.documentFileId")
	}

	patterns := make([]*regexp.Regexp, len(in.Rules))
	for i, rule := range in.Rules {
		if rule.Find.Type != string(markup.MatcherRegex) {
			return nil, invalidInput(indexed("input.rules[%d].find.type", i))
		}
		re, err := regexp.Compile(rule.Find.Pattern)
		if err != nil || rule.Find.Pattern == "" {
			return nil, invalidInput(indexed("input.rules[%d].find.pattern", i))
		}
		if rule.RedactWith.Type != markup.RectangleRedaction {
			return nil, invalidInput(indexed("input.rules[%d].redactWith.type", i))
		}
		patterns[i] = re
	}

	return func(n *node) (any, *outcome) {
		f, _ := c.findFile(in.DocumentFileID)
		pages, err := parseDocument(f.format, f.data)
		if err != nil {
			return nil, failed("CouldNotProcessDocument", "input.documentFileId")
		}

		doc := markup.Document{Marks: []markup.Mark{}}
		for pi, page := range pages {
			for ri, re := range patterns {
				for li, line := range strings.Split(page, "\n") {
					for _, loc := range re.FindAllStringIndex(line, -1) {
						col := utf8.RuneCountInString(line[:loc[0]])
						width := utf8.RuneCountInString(line[loc[0]:loc[1]])
						doc.Marks = append(doc.Marks, markup.Mark{
							PageNumber: pi + 1,
							Rectangle: &markup.Rectangle{
								X:      float64(col * charWidth),
								Y:      float64(li * lineHeight),
								Width:  float64(width * charWidth),
								Height: lineHeight,
							},
							Style: in.Rules[ri].RedactWith.Style,
						})
					}
				}
			}
		}

		b, err := json.Marshal(doc)
		if err != nil {
			return nil, failed("InvalidInput", "input.rules")
		}
		return map[string]string{"markupFileId": n.store(b, "json")}, nil
	}, nil
}

// --- markupBurners and plainTextRedactors ---

type wireMark struct {
	PageNumber int               `json:"pageNumber"`
	Rectangle  *markup.Rectangle `json:"rectangle"`
	Reason     *string           `json:"reason"`
}

// loadMarks validates and decodes a markup work file. Callers hold c.mu.
func (c *Cluster) loadMarks(markupFileID string) ([]wireMark, *outcome) {
	f, _ := c.findFile(markupFileID)
	if err := c.validator.Validate(f.data); err != nil {
		return nil, &outcome{state: "error", code: "InvalidMarkup", details: map[string]string{"message": err.Error()}}
	}
	var doc struct {
		Marks []wireMark `json:"marks"`
	}
	if err := json.Unmarshal(f.data, &doc); err != nil {
		return nil, &outcome{state: "error", code: "InvalidMarkup"}
	}
	return doc.Marks, nil
}

func prepareBurn(c *Cluster, raw json.RawMessage) (work, *rejection) {
	var in struct {
		DocumentFileID string `json:"documentFileId"`
		MarkupFileID   string `json:"markupFileId"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalidInput("input")
	}
	if f, _ := c.findFile(in.DocumentFileID); f == nil {
		return nil, notFound("input.documentFileId")
	}
	if f, _ := c.findFile(in.MarkupFileID); f == nil {
		return nil, notFound("input.markupFileId")
	}

	return func(n *node) (any, *outcome) {
		marks, fail := c.loadMarks(in.MarkupFileID)
		if fail != nil {
			return nil, fail
		}
		f, _ := c.findFile(in.DocumentFileID)
		pages, err := parseDocument(f.format, f.data)
		if err != nil {
			return nil, failed("CouldNotProcessDocument", "input.documentFileId")
		}
		burned := applyMarks(pages, marks, func(_ wireMark, width int) string {
			return strings.Repeat("█", width)
		})
		return map[string]string{"documentFileId": n.store(renderDocument("pdf", burned), "pdf")}, nil
	}, nil
}

func preparePlainTextRedaction(c *Cluster, raw json.RawMessage) (work, *rejection) {
	var in struct {
		DocumentFileID string `json:"documentFileId"`
		MarkupFileID   string `json:"markupFileId"`
		Dest           struct {
			LineEndings string `json:"lineEndings"`
		} `json:"dest"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, invalidInput("input")
	}
	if f, _ := c.findFile(in.DocumentFileID); f == nil {
		return nil, notFound("input.documentFileId")
	}
	if f, _ := c.findFile(in.MarkupFileID); f == nil {
		return nil, notFound("input.markupFileId")
	}
	if in.Dest.LineEndings != "\n" && in.Dest.LineEndings != "\r\n" {
		return nil, invalidInput("input.dest.lineEndings")
	}

	return func(n *node) (any, *outcome) {
		marks, fail := c.loadMarks(in.MarkupFileID)
		if fail != nil {
			return nil, fail
		}
		f, _ := c.findFile(in.DocumentFileID)
		pages, err := parseDocument(f.format, f.data)
		if err != nil {
			return nil, failed("CouldNotProcessDocument", "input.documentFileId")
		}
		redacted := applyMarks(pages, marks, func(m wireMark, _ int) string {
			if m.Reason != nil {
				return "[" + *m.Reason + "]"
			}
			return "[REDACTED]"
		})
		for i, p := range redacted {
			redacted[i] = strings.ReplaceAll(p, "\n", in.Dest.LineEndings)
		}
		return map[string]string{"fileId": n.store(renderDocument("txt", redacted), "txt")}, nil
	}, nil
}

// applyMarks replaces the text under each mark with fill. A mark without a
// rectangle covers its whole page.
func applyMarks(pages []string, marks []wireMark, fill func(m wireMark, width int) string) []string {
	out := make([]string, len(pages))
	for pi, page := range pages {
		lines := strings.Split(page, "\n")

		var rects []wireMark
		for _, m := range marks {
			if m.PageNumber != pi+1 {
				continue
			}
			if m.Rectangle == nil {
				for li, line := range lines {
					if line != "" {
						lines[li] = fill(m, utf8.RuneCountInString(line))
					}
				}
				continue
			}
			rects = append(rects, m)
		}

		// Right to left within a line so earlier columns stay valid.
		sort.SliceStable(rects, func(i, j int) bool {
			a, b := rects[i].Rectangle, rects[j].Rectangle
			if a.Y != b.Y {
				return a.Y < b.Y
			}
			return a.X > b.X
		})
		for _, m := range rects {
			li := int(m.Rectangle.Y) / lineHeight
			if li < 0 || li >= len(lines) {
				continue
			}
			runes := []rune(lines[li])
			col := int(m.Rectangle.X) / charWidth
			width := int(m.Rectangle.Width) / charWidth
			if col < 0 || col >= len(runes) {
				continue
			}
			end := col + width
			if end > len(runes) {
				end = len(runes)
			}
			lines[li] = string(runes[:col]) + fill(m, end-col) + string(runes[end:])
		}
		out[pi] = strings.Join(lines, "\n")
	}
	return out
}
