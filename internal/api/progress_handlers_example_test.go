package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/progress"
)

type exampleSource struct{}

func (exampleSource) Snapshot() progress.Snapshot {
	return progress.Snapshot{RunID: "run-1", Total: 10, Processed: 4, Profiled: 3, Unreachable: 1}
}

// ExampleProgressHandler_Progress demonstrates reading the live snapshot.
func ExampleProgressHandler_Progress() {
	handler := NewProgressHandler(exampleSource{}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Progress(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))

	fmt.Println(rec.Code)
	// Output: 200
}
