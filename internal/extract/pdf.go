package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads plain text from PDF documents. Page.HTML carries the raw
// bytes for this extractor.
type PDFExtractor struct{}

// NewPDFExtractor returns the PDF text extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

func (PDFExtractor) Name() string { return "pdf_text" }

func (PDFExtractor) Extract(page Page) Result {
	if !LooksLikePDF(page.URL, []byte(page.HTML)) {
		return Result{Err: ErrNoContent}
	}
	data := []byte(page.HTML)
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{Err: fmt.Errorf("open pdf: %w", err)}
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	text := cleanPDFText(b.String())
	return textResult(pdfTitle(text), text, "")
}

// LooksLikePDF reports whether url or content indicate a PDF document.
func LooksLikePDF(url string, content []byte) bool {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(url)), ".pdf") {
		return true
	}
	head := bytes.TrimLeft(content, " \t\r\n")
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.HasPrefix(head, []byte("%PDF"))
}

// cleanPDFText drops blank and very short lines, which are mostly page furniture.
func cleanPDFText(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if trimmed := strings.TrimSpace(line); len(trimmed) > 2 {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

func pdfTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if len(line) > 10 && len(line) < 200 && !strings.Contains(line, "http") {
			return line
		}
	}
	return ""
}
