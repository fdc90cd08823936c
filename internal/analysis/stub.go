package analysis

import (
	"context"

	"github.com/sua-org/scope-bus/internal/image"
)

// StubQuantificationAnalyzer is a placeholder for the quantification
// pipeline original_source's src/analysis/segmentation.*/analysismanager.*
// and its TensorFlow-Serving client implement — both explicitly out of
// scope per spec.md §1. It exists so the analyzer chain is wired and
// exercised end to end, the same role the teacher's PlateStub plays for an
// unbuilt license-plate engine.
type StubQuantificationAnalyzer struct{}

func NewStubQuantificationAnalyzer() Analyzer { return &StubQuantificationAnalyzer{} }

func (s *StubQuantificationAnalyzer) Name() string { return "quantification" }

func (s *StubQuantificationAnalyzer) Enabled() bool { return true }

func (s *StubQuantificationAnalyzer) Analyze(ctx context.Context, img *image.NDImage, iCh, iZ, iT int, cell image.Cell) (*Result, error) {
	// Segmentation/quantification is not implemented; a real analyzer
	// replaces this with a TensorFlow-Serving call per spec.md §1's Non-goals.
	return nil, nil
}
