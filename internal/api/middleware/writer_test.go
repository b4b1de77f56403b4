package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	w := newStatusWriter(httptest.NewRecorder())
	w.WriteHeader(http.StatusConflict)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("abc"))

	assert.Equal(t, http.StatusConflict, w.statusCode)
	assert.Equal(t, int64(3), w.written)
}

func TestStatusWriter_ReusesWrapper(t *testing.T) {
	w := newStatusWriter(httptest.NewRecorder())
	assert.Same(t, w, newStatusWriter(w))
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	w := newStatusWriter(httptest.NewRecorder())
	_, _, err := w.Hijack()
	assert.Error(t, err)
}
