package mistral

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// documentText recovers plain text from the document bytes. An empty result
// is a permanent failure: retrying the same bytes cannot produce text.
func documentText(file *domain.RawFile) (string, error) {
	var (
		text string
		err  error
	)
	switch domain.NormalizeMIMEType(file.MIMEType) {
	case "application/pdf":
		text, err = pdfText(file.Bytes)
	case mimeXLSX:
		text, err = xlsxText(file.Bytes)
	case "text/plain", "text/csv":
		text = string(file.Bytes)
	default:
		return "", domain.WrapError(domain.ErrUnsupportedFile, "extract",
			fmt.Errorf("no text recovery for %s", file.MIMEType))
	}
	if err != nil {
		return "", fmt.Errorf("recover text from %s: %w", file.Name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no text recovered from %s, document may be image-based", file.Name)
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func xlsxText(data []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	var builder strings.Builder
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			builder.WriteString(line)
			builder.WriteString("\n")
		}
	}
	return builder.String(), nil
}
