package textextract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var pdfHeader = []byte("%PDF-")

// PDFCPUEngine reads PDFs in process. Text is recovered from the text-showing
// operators of each page's content stream, so documents whose fonts use custom
// encodings may come out garbled; use the pdftotext engine for those.
type PDFCPUEngine struct{}

// Open validates the PDF and returns a Document that decodes pages lazily.
func (PDFCPUEngine) Open(ctx context.Context, data []byte) (*Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\x00"), pdfHeader) {
		return nil, &ParseError{Err: errors.New("missing %PDF header")}
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("read: %w", err)}
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("validate: %w", err)}
	}
	if pdfCtx.PageCount == 0 {
		return nil, &ParseError{Err: errors.New("document has no pages")}
	}

	return NewDocument(pdfCtx.PageCount, func(n int) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r, err := pdfcpu.ExtractPageContent(pdfCtx, n)
		if err != nil {
			return "", &ParseError{Page: n, Err: err}
		}
		if r == nil {
			return "", nil
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return "", &ParseError{Page: n, Err: err}
		}
		return ContentText(content), nil
	}), nil
}
