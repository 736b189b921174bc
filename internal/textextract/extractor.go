// Package textextract turns a document locator into page-ordered plain text.
package textextract

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/dvloznov/statement-sync/internal/fetch"
	"github.com/dvloznov/statement-sync/internal/logger"
)

// ParseError reports bytes that are not a readable PDF.
type ParseError struct {
	Page int // 0 when the whole document is unreadable
	Err  error
}

func (e *ParseError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("parse page %d: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("parse document: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Document is the extracted text of one source document. Pages are produced on
// iteration, in page order, and iterating again yields the same sequence.
type Document struct {
	pageCount int
	page      func(n int) (string, error)
}

// NewDocument builds a Document from a page count and a page loader (1-based).
func NewDocument(pageCount int, page func(n int) (string, error)) *Document {
	return &Document{pageCount: pageCount, page: page}
}

// NewDocumentFromPages builds a Document over already extracted pages.
func NewDocumentFromPages(pages []string) *Document {
	cp := append([]string(nil), pages...)
	return NewDocument(len(cp), func(n int) (string, error) {
		return cp[n-1], nil
	})
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pageCount
}

// Pages yields (text, nil) for each page, or a single ("", err) and stops when
// a page cannot be decoded.
func (d *Document) Pages() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for n := 1; n <= d.pageCount; n++ {
			text, err := d.page(n)
			if err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Text concatenates all pages in order, separated by a blank line.
func (d *Document) Text() (string, error) {
	var b strings.Builder
	for text, err := range d.Pages() {
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimRight(text, "\n"))
	}
	return b.String(), nil
}

// Engine opens raw document bytes.
type Engine interface {
	Open(ctx context.Context, data []byte) (*Document, error)
}

// Extractor fetches a document and hands its bytes to an Engine.
type Extractor struct {
	fetcher fetch.Fetcher
	engine  Engine
}

// NewExtractor creates an Extractor.
func NewExtractor(fetcher fetch.Fetcher, engine Engine) *Extractor {
	return &Extractor{fetcher: fetcher, engine: engine}
}

// Extract retrieves the document at locator and opens it. Retrieval failures are
// *fetch.Error; unreadable bytes are *ParseError.
func (e *Extractor) Extract(ctx context.Context, locator string) (*Document, error) {
	log := logger.FromContext(ctx)

	data, err := e.fetcher.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("bytes", len(data)).Str("file_name", fetch.FileName(locator)).Msg("Fetched document")

	doc, err := e.engine.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("pages", doc.PageCount()).Msg("Opened document")
	return doc, nil
}
