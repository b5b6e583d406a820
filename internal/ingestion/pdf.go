package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/graphchat-go/internal/logging"
)

const pageSeparator = "\n\n"

// extractPDF returns the plain text of every page, pages joined by a blank
// line, and the page count. A page that fails to decode is logged and
// skipped.
func extractPDF(ctx context.Context, data []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("ingestion: open pdf: %w", err)
	}

	n := r.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			logging.FromContext(ctx).Warn("ingestion: page text extraction failed",
				slog.Int("page", i),
				slog.Any("error", err),
			)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, pageSeparator), n, nil
}
