// Package analysis implements the post-acquisition analyzer chain invoked
// by the image manager after every AddImage, adapted from the teacher's
// internal/engines package (Engine/Manager/PlateStub) and giving
// original_source/src/analysis's segmentation/TensorFlow-Serving pipeline
// (explicitly out of scope per spec.md §1) a stub home to plug into.
package analysis

import (
	"context"

	"github.com/sua-org/scope-bus/internal/image"
)

// Result is whatever an Analyzer derives from a cell. Non-nil Tags/Score
// fields are merged by callers that care to; the reference implementation
// only logs them.
type Result struct {
	Tags  map[string]string
	Score float64
}

// Analyzer is a post-processor run against a freshly captured cell. It
// never publishes anywhere itself — the caller (the image manager, via
// Manager) decides what to do with the returned Result, keeping the
// publish-topic consistency the teacher's Engine doc comment calls out.
type Analyzer interface {
	Name() string
	Enabled() bool
	Analyze(ctx context.Context, img *image.NDImage, iCh, iZ, iT int, cell image.Cell) (*Result, error)
}
