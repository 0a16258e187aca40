package testinfra

import (
	"io"
	"net/http"
	"net/http/httptest"
)

// ExecuteRequest serves req on handler and returns status, body and headers.
func ExecuteRequest(req *http.Request, handler http.Handler) (int, string, http.Header) {
	if req.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	body, _ := io.ReadAll(w.Result().Body)
	return w.Code, string(body), w.Header()
}
