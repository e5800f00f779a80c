package impl

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

// ParseError wraps any parser failure. Parse failures are fatal for the
// document; the worker does not retry them.
type ParseError struct {
	DocType models.DocumentType
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.DocType, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	markdownTitlePattern = regexp.MustCompile(`^#\s+(.+)$`)
	whitespaceRun        = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLineRun         = regexp.MustCompile(`\n{3,}`)
)

type parserImpl struct{}

func NewParser() services.Parser {
	return &parserImpl{}
}

func (p *parserImpl) Parse(docType models.DocumentType, data []byte) (*services.ParseResult, error) {
	switch docType {
	case models.DocumentTypePDF:
		return p.parsePDF(data)
	case models.DocumentTypeHTML:
		return p.parseHTML(data)
	case models.DocumentTypeTXT:
		return p.parseText(data, false)
	case models.DocumentTypeMD:
		return p.parseText(data, true)
	default:
		return nil, &ParseError{DocType: docType, Err: fmt.Errorf("unsupported document type")}
	}
}

func (p *parserImpl) parsePDF(data []byte) (*services.ParseResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{DocType: models.DocumentTypePDF, Err: err}
	}

	pageCount := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, &ParseError{DocType: models.DocumentTypePDF, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, &ParseError{DocType: models.DocumentTypePDF, Err: fmt.Errorf("no extractable text")}
	}

	result := &services.ParseResult{
		Content:        content,
		CharacterCount: utf8.RuneCountInString(content),
		WordCount:      len(strings.Fields(content)),
		PageCount:      &pageCount,
	}

	// Document info metadata when present.
	trailer := reader.Trailer()
	if info := trailer.Key("Info"); !info.IsNull() {
		if title := info.Key("Title").Text(); title != "" {
			result.Title = &title
		}
		if author := info.Key("Author").Text(); author != "" {
			result.Author = &author
		}
	}

	return result, nil
}

func (p *parserImpl) parseHTML(data []byte) (*services.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{DocType: models.DocumentTypeHTML, Err: err}
	}

	doc.Find("script, style, noscript").Remove()

	// Prefer the main content container, fall back to the whole body.
	var text string
	for _, sel := range []string{"main", "article", "body"} {
		node := doc.Find(sel).First()
		if node.Length() > 0 {
			text = node.Text()
			break
		}
	}
	if text == "" {
		text = doc.Text()
	}

	content := normalizeWhitespace(text)
	if content == "" {
		return nil, &ParseError{DocType: models.DocumentTypeHTML, Err: fmt.Errorf("no extractable text")}
	}

	result := &services.ParseResult{
		Content:        content,
		CharacterCount: utf8.RuneCountInString(content),
		WordCount:      len(strings.Fields(content)),
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		result.Title = &title
	}

	return result, nil
}

func (p *parserImpl) parseText(data []byte, markdown bool) (*services.ParseResult, error) {
	if !utf8.Valid(data) {
		docType := models.DocumentTypeTXT
		if markdown {
			docType = models.DocumentTypeMD
		}
		return nil, &ParseError{DocType: docType, Err: fmt.Errorf("invalid UTF-8")}
	}

	content := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	result := &services.ParseResult{
		Content:        content,
		CharacterCount: utf8.RuneCountInString(content),
		WordCount:      len(strings.Fields(content)),
	}

	if markdown {
		for _, line := range strings.Split(content, "\n") {
			if m := markdownTitlePattern.FindStringSubmatch(line); m != nil {
				title := strings.TrimSpace(m[1])
				result.Title = &title
				break
			}
		}
	}

	return result, nil
}

// normalizeWhitespace collapses horizontal whitespace runs and trims each
// line, keeping paragraph breaks intact.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
