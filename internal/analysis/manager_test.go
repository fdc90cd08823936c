package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/image"
)

type fakeAnalyzer struct {
	name    string
	enabled bool
	result  *Result
	err     error
	sleep   time.Duration
	panics  bool
	calls   *int
}

func (f *fakeAnalyzer) Name() string  { return f.name }
func (f *fakeAnalyzer) Enabled() bool { return f.enabled }
func (f *fakeAnalyzer) Analyze(ctx context.Context, img *image.NDImage, iCh, iZ, iT int, cell image.Cell) (*Result, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.panics {
		panic("boom")
	}
	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestManagerFiltersDisabledAnalyzers(t *testing.T) {
	calls := 0
	m := NewManager([]Analyzer{
		&fakeAnalyzer{name: "a", enabled: false, calls: &calls},
		&fakeAnalyzer{name: "b", enabled: true, calls: &calls, result: &Result{Score: 1}},
	}, 0)

	if !m.Enabled() {
		t.Fatalf("expected manager enabled")
	}
	if m.Has("a") {
		t.Fatalf("disabled analyzer should not be Has()")
	}
	if !m.Has("b") {
		t.Fatalf("expected enabled analyzer to be Has()")
	}

	img := image.NewNDImage("exp1", []string{"BF"})
	results := m.ProcessAll(context.Background(), img, 0, 0, 0, image.Cell{})
	if calls != 1 {
		t.Fatalf("expected only the enabled analyzer to run, got %d calls", calls)
	}
	if results["b"] == nil || results["b"].Score != 1 {
		t.Fatalf("expected result from analyzer b, got %+v", results)
	}
}

func TestManagerRecoversFromPanic(t *testing.T) {
	m := NewManager([]Analyzer{
		&fakeAnalyzer{name: "boom", enabled: true, panics: true},
		&fakeAnalyzer{name: "ok", enabled: true, result: &Result{Score: 2}},
	}, 0)

	img := image.NewNDImage("exp1", []string{"BF"})
	results := m.ProcessAll(context.Background(), img, 0, 0, 0, image.Cell{})
	if results["boom"] != nil {
		t.Fatalf("expected no result from panicking analyzer")
	}
	if results["ok"] == nil || results["ok"].Score != 2 {
		t.Fatalf("expected result from ok analyzer, got %+v", results)
	}
}

func TestManagerPerAnalyzerTimeout(t *testing.T) {
	m := NewManager([]Analyzer{
		&fakeAnalyzer{name: "slow", enabled: true, sleep: 50 * time.Millisecond, result: &Result{Score: 9}},
	}, 5*time.Millisecond)

	img := image.NewNDImage("exp1", []string{"BF"})
	results := m.ProcessAll(context.Background(), img, 0, 0, 0, image.Cell{})
	if results["slow"] != nil {
		t.Fatalf("expected timed-out analyzer to produce no result, got %+v", results["slow"])
	}
}

func TestManagerHookWiresIntoImageManager(t *testing.T) {
	m := NewManager([]Analyzer{NewStubQuantificationAnalyzer()}, 0)
	images := image.NewManager()
	images.AddAnalysisHook(m.Hook())

	img := images.NewNDImage("exp1", []string{"BF"})
	images.AddImage(img, 0, 0, 0, []byte{1}, 1, 1, nil)
}
