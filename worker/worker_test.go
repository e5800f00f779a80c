package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services/impl"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"plain error", errors.New("redis timeout"), true},
		{"fatal wrapper", &fatalError{err: errors.New("unsupported content type")}, false},
		{"transient wrapper", &transientError{err: errors.New("blob fetch failed")}, true},
		{"parse error", &impl.ParseError{DocType: models.DocumentTypePDF, Err: errors.New("no text")}, false},
		{"embedder bad request", &impl.EmbedderBadRequestError{Err: errors.New("input too long")}, false},
		{"embedder auth", &impl.EmbedderAuthError{Err: errors.New("bad key")}, false},
		{"embedder unavailable", &impl.EmbedderUnavailableError{Err: errors.New("upstream down")}, true},
		{"wrapped parse error", fmt.Errorf("stage parsing: %w", &impl.ParseError{DocType: models.DocumentTypeHTML, Err: errors.New("empty")}), false},
		{"not found", models.NewNotFoundError("document gone"), false},
		{"validation", models.NewValidationError("empty content"), false},
		{"internal", models.NewInternalError(errors.New("db down")), true},
		{"service unavailable", models.NewServiceUnavailableError("embedder busy", nil), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, isRetryable(tc.err))
		})
	}
}
