package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
)

// ExampleNewServer shows the liveness probe served without any collaborators.
func ExampleNewServer() {
	srv := NewServer(Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	fmt.Println(rec.Code)
	fmt.Print(rec.Body.String())
	// Output:
	// 200
	// {"status":"ok"}
}
