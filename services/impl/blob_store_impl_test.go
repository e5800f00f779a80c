package impl

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report-2024_final.pdf", SanitizeFilename("report-2024_final.pdf"))
	assert.Equal(t, "my_file.txt", SanitizeFilename("my file.txt"))
	assert.Equal(t, ".._.._etc_passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "r_sum_.pdf", SanitizeFilename("résumé.pdf"))
	assert.Equal(t, "", SanitizeFilename(""))
}

func TestBlobKey(t *testing.T) {
	customerID := uuid.New()
	documentID := uuid.New()

	key := BlobKey(customerID, documentID, "my report.pdf")
	assert.Equal(t, fmt.Sprintf("%s/documents/%s/my_report.pdf", customerID, documentID), key)
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	h3 := ContentHash([]byte("world"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
