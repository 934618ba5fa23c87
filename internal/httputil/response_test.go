package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad target")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad target"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Title string `json:"title"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"hello"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "hello", dst.Title)
}

func TestDecodeJSON_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"title":"x","extra":1}`,
		"trailing data": `{"title":"x"}{"title":"y"}`,
		"not json":      `title=x`,
		"empty":         ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var dst struct {
				Title string `json:"title"`
			}
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			assert.Error(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
		})
	}
}
