package impl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusvault/corpusvault/models"
)

func TestParser_TXT(t *testing.T) {
	p := NewParser()

	result, err := p.Parse(models.DocumentTypeTXT, []byte("hello world\r\nsecond line"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\nsecond line", result.Content)
	assert.Equal(t, 4, result.WordCount)
	assert.Nil(t, result.Title)
	assert.Nil(t, result.PageCount)
}

func TestParser_TXT_InvalidUTF8(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(models.DocumentTypeTXT, []byte{0xff, 0xfe, 0x01})
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParser_Markdown_Title(t *testing.T) {
	p := NewParser()

	content := "# My Document\n\nSome body text here."
	result, err := p.Parse(models.DocumentTypeMD, []byte(content))
	require.NoError(t, err)

	require.NotNil(t, result.Title)
	assert.Equal(t, "My Document", *result.Title)
}

func TestParser_Markdown_NoTitle(t *testing.T) {
	p := NewParser()

	result, err := p.Parse(models.DocumentTypeMD, []byte("just text\n## not a top heading match? yes it is not h1 pattern"))
	require.NoError(t, err)
	assert.Nil(t, result.Title)
}

func TestParser_HTML(t *testing.T) {
	p := NewParser()

	html := `<html><head><title>Page Title</title><style>body{color:red}</style></head>
<body><script>alert(1)</script><main><p>Main   content here.</p></main><p>outside</p></body></html>`

	result, err := p.Parse(models.DocumentTypeHTML, []byte(html))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "Main content here.")
	assert.NotContains(t, result.Content, "alert(1)")
	assert.NotContains(t, result.Content, "color:red")
	assert.NotContains(t, result.Content, "outside")
	require.NotNil(t, result.Title)
	assert.Equal(t, "Page Title", *result.Title)
}

func TestParser_HTML_BodyFallback(t *testing.T) {
	p := NewParser()

	html := `<html><body><p>Only body text.</p></body></html>`
	result, err := p.Parse(models.DocumentTypeHTML, []byte(html))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "Only body text.")
	assert.Nil(t, result.Title)
}

func TestParser_HTML_Empty(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(models.DocumentTypeHTML, []byte(`<html><body><script>x()</script></body></html>`))
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParser_UnsupportedType(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(models.DocumentType("docx"), []byte("data"))
	require.Error(t, err)
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "  line  one \n\n\n\n line\ttwo  "
	assert.Equal(t, "line one\n\nline two", normalizeWhitespace(in))
}
