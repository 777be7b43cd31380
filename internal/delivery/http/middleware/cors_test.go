package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{" https://app.geoattend.io/ ", "http://localhost:5173"}, next)

	do := func(method, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/events", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rr := do(http.MethodOptions, "https://app.geoattend.io")
		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "https://app.geoattend.io", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, allowedMethods, rr.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, allowedHeaders, rr.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("preflight from unknown origin carries no allow headers", func(t *testing.T) {
		rr := do(http.MethodOptions, "https://evil.example")
		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed origin is stamped on normal responses", func(t *testing.T) {
		rr := do(http.MethodGet, "http://localhost:5173")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rr.Header().Get("Vary"))
	})

	t.Run("no origin header passes through untouched", func(t *testing.T) {
		rr := do(http.MethodGet, "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})
}
