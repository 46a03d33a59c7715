package remotetest

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Documents in the fake cluster are plain text. Pages are separated by a form
// feed; a pdf additionally starts with a "%PDF-" header line.
const (
	pageSeparator = "\f"
	pdfHeader     = "%PDF-1.7 docjobs\n"

	charWidth  = 10
	lineHeight = 20
)

var errNotPDF = errors.New("missing %PDF- header")

func parseDocument(format string, data []byte) ([]string, error) {
	text := string(data)
	if format == "pdf" {
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return nil, errNotPDF
		}
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		} else {
			text = ""
		}
	}
	return strings.Split(text, pageSeparator), nil
}

func renderDocument(format string, pages []string) []byte {
	body := strings.Join(pages, pageSeparator)
	if format == "pdf" {
		return []byte(pdfHeader + body)
	}
	return []byte(body)
}

// Document renders pages in format, for seeding tests.
func Document(format string, pages ...string) []byte {
	return renderDocument(format, pages)
}

// Pages splits a document produced by the fake cluster back into its pages.
func Pages(format string, data []byte) ([]string, error) {
	return parseDocument(format, data)
}

// parsePageRange expands a page selection such as "1-3,5,7-" over a
// document of n pages into 1-based page numbers. An empty selection is every page.
func parsePageRange(selection string, n int) ([]int, error) {
	selection = strings.TrimSpace(selection)
	if selection == "" {
		pages := make([]int, n)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages, nil
	}

	var pages []int
	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		from, to, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(from)
		if err != nil || first < 1 {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		last := first
		if isRange {
			if to == "" {
				last = n
			} else if last, err = strconv.Atoi(to); err != nil {
				return nil, fmt.Errorf("invalid page %q", part)
			}
		}
		if last < first || last > n {
			return nil, fmt.Errorf("page %q out of range 1-%d", part, n)
		}
		for p := first; p <= last; p++ {
			pages = append(pages, p)
		}
	}
	return pages, nil
}

// formatPageRange renders consecutive page numbers compactly, e.g. [1 2 3 5] -> "1-3,5".
func formatPageRange(pages []int) string {
	var parts []string
	for i := 0; i < len(pages); {
		j := i
		for j+1 < len(pages) && pages[j+1] == pages[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(pages[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", pages[i], pages[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
