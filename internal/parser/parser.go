package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"ticket-triage/internal/models"
)

// KnowledgeBaseSection marks documents ingested from local files rather than
// the documentation crawl.
const KnowledgeBaseSection = "knowledge-base"

// ParseFile reads a local knowledge-base file and returns it in the same
// shape the crawler produces, so parsed files flow through the chunking and
// embedding pipeline unchanged.
func ParseFile(filePath string) (models.ScrapedDocument, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		abs = filePath
	}

	doc := models.ScrapedDocument{
		URL:     "file://" + abs,
		Title:   strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Section: KnowledgeBaseSection,
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		doc.Content, err = parsePDF(filePath)
	case ".docx":
		doc.Content, err = parseDOCX(filePath)
	case ".pptx":
		doc.Content, doc.Headings, err = parsePPTX(filePath)
	case ".xlsx":
		doc.Content, doc.Headings, err = parseXLSX(filePath)
	case ".ods":
		doc.Content, doc.Headings, err = parseODS(filePath)
	case ".md", ".markdown":
		doc.Content, doc.Headings, err = parseMarkdown(filePath)
	case ".txt":
		doc.Content, err = parseText(filePath)
	default:
		return doc, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return doc, err
	}

	doc.Content = strings.TrimSpace(doc.Content)
	if doc.Content == "" {
		return doc, fmt.Errorf("no text content in %s", filePath)
	}
	return doc, nil
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		pageText, err := reader.Page(i).GetPlainText(nil)
		if err != nil {
			return "", err
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var text strings.Builder
	for _, p := range strings.Split(r.Editable().GetContent(), "\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		text.WriteString(p)
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parsePPTX(filePath string) (string, []string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	var text strings.Builder
	var headings []string
	slideNum := 0
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slideText := extractTextFromXML(string(data))
		if strings.TrimSpace(slideText) == "" {
			continue
		}
		slideNum++
		heading := fmt.Sprintf("Slide %d", slideNum)
		headings = append(headings, heading)
		text.WriteString(heading + "\n" + slideText + "\n")
	}
	return text.String(), headings, nil
}

func parseXLSX(filePath string) (string, []string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var headings []string
	for _, sheet := range f.Sheets {
		heading := "Sheet: " + sheet.Name
		headings = append(headings, heading)
		text.WriteString(heading + "\n")
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), headings, nil
}

func parseODS(filePath string) (string, []string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	var text strings.Builder
	var headings []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		heading := "Sheet: " + sheetName
		headings = append(headings, heading)
		text.WriteString(heading + "\n")
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
	}
	return text.String(), headings, nil
}

// parseMarkdown renders the file to HTML and extracts plain text plus the
// heading outline, mirroring what the crawler extracts from a live page.
func parseMarkdown(filePath string) (string, []string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(data, &buf); err != nil {
		return "", nil, err
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return "", nil, err
	}

	var headings []string
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			headings = append(headings, text)
		}
	})
	return doc.Text(), headings, nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if endIdx := strings.Index(part, "</a:t>"); endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}
