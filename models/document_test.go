package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectDocumentType(t *testing.T) {
	cases := []struct {
		filename string
		docType  DocumentType
		ok       bool
	}{
		{"report.pdf", DocumentTypePDF, true},
		{"REPORT.PDF", DocumentTypePDF, true},
		{"page.html", DocumentTypeHTML, true},
		{"page.htm", DocumentTypeHTML, true},
		{"notes.txt", DocumentTypeTXT, true},
		{"readme.md", DocumentTypeMD, true},
		{"readme.markdown", DocumentTypeMD, true},
		{"archive.tar.gz", "", false},
		{"noextension", "", false},
		{"dir.with.dots/file", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		docType, ok := DetectDocumentType(tc.filename)
		assert.Equal(t, tc.ok, ok, tc.filename)
		assert.Equal(t, tc.docType, docType, tc.filename)
	}
}
