package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
)

// ExtractPDF returns the text layer of a PDF document. A document that
// parses but has no text (a scanned image, for instance) is ingest-pdf-empty.
func ExtractPDF(data []byte) (text string, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.KindIngestPDFEmpty, "unreadable PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(errors.KindIngestPDFEmpty, err, "unreadable PDF")
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", errors.Wrap(errors.KindIngestPDFEmpty, err, "failed to extract PDF text")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", errors.Wrap(errors.KindIngestPDFEmpty, err, "failed to extract PDF text")
	}
	text = buf.String()
	if strings.TrimSpace(text) == "" {
		return "", errors.Newf(errors.KindIngestPDFEmpty, "PDF with %s has no text layer", pages(reader.NumPage()))
	}
	return text, nil
}

func pages(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}
