package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// PDFToTextEngine shells out to poppler's pdftotext, which handles font
// encodings the in-process engine cannot.
type PDFToTextEngine struct {
	runner Runner
	binary string
}

// NewPDFToTextEngine creates the engine. An empty binary means "pdftotext" on PATH.
func NewPDFToTextEngine(runner Runner, binary string) *PDFToTextEngine {
	if runner == nil {
		runner = ExecRunner{}
	}
	if binary == "" {
		binary = "pdftotext"
	}
	return &PDFToTextEngine{runner: runner, binary: binary}
}

// Open writes the bytes to a temp file, converts it and splits pages on form feeds.
func (e *PDFToTextEngine) Open(ctx context.Context, data []byte) (*Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\x00"), pdfHeader) {
		return nil, &ParseError{Err: errors.New("missing %PDF header")}
	}

	f, err := os.CreateTemp("", "statementsync-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("pdftotext: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("pdftotext: close temp file: %w", err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.binary, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: pdftotext binary %q not found", domain.ErrFatalConfiguration, e.binary)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ParseError{Err: fmt.Errorf("pdftotext interrupted: %w", ctxErr)}
		}
		return nil, &ParseError{Err: fmt.Errorf("pdftotext: %w: %s", err, strings.TrimSpace(string(errb)))}
	}

	return NewDocumentFromPages(SplitPages(string(out))), nil
}

// SplitPages splits pdftotext output on the form feed it emits after every page.
func SplitPages(text string) []string {
	pages := strings.Split(text, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}
