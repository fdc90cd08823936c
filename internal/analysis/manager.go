package analysis

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sua-org/scope-bus/internal/image"
)

const defaultPerAnalyzerTimeout = 10 * time.Second

// Manager runs every enabled Analyzer against a cell in sequence, bounding
// each with its own timeout and recovering from panics so a broken analyzer
// can never take down acquisition, mirroring the teacher's
// engines.Manager.ProcessAll.
type Manager struct {
	analyzers          []Analyzer
	perAnalyzerTimeout time.Duration
}

func NewManager(analyzers []Analyzer, perAnalyzerTimeout time.Duration) *Manager {
	if perAnalyzerTimeout <= 0 {
		perAnalyzerTimeout = defaultPerAnalyzerTimeout
	}
	filtered := make([]Analyzer, 0, len(analyzers))
	for _, a := range analyzers {
		if a == nil || !a.Enabled() {
			continue
		}
		filtered = append(filtered, a)
	}
	return &Manager{analyzers: filtered, perAnalyzerTimeout: perAnalyzerTimeout}
}

func (m *Manager) Enabled() bool {
	return m != nil && len(m.analyzers) > 0
}

func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.analyzers))
	for _, a := range m.analyzers {
		out = append(out, a.Name())
	}
	return out
}

func (m *Manager) Has(name string) bool {
	if m == nil {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for _, a := range m.analyzers {
		if strings.ToLower(a.Name()) == name {
			return true
		}
	}
	return false
}

// Hook adapts ProcessAll into an image.AnalysisHook, the shape
// image.Manager.AddAnalysisHook expects.
func (m *Manager) Hook() image.AnalysisHook {
	return func(img *image.NDImage, iCh, iZ, iT int, cell image.Cell) {
		m.ProcessAll(context.Background(), img, iCh, iZ, iT, cell)
	}
}

// ProcessAll runs every analyzer against the cell, logging and continuing
// past individual failures or panics, and returns every non-nil result
// keyed by analyzer name.
func (m *Manager) ProcessAll(ctx context.Context, img *image.NDImage, iCh, iZ, iT int, cell image.Cell) map[string]*Result {
	if m == nil || len(m.analyzers) == 0 {
		return nil
	}

	out := make(map[string]*Result)
	for _, a := range m.analyzers {
		ctxA, cancel := context.WithTimeout(ctx, m.perAnalyzerTimeout)
		result, err := runAnalyzerSafely(ctxA, a, img, iCh, iZ, iT, cell)
		cancel()

		if err != nil {
			log.Printf("[analysis] analyzer %s error: %v", a.Name(), err)
			continue
		}
		if result != nil {
			out[a.Name()] = result
		}
	}
	return out
}

func runAnalyzerSafely(ctx context.Context, a Analyzer, img *image.NDImage, iCh, iZ, iT int, cell image.Cell) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[analysis] panic in analyzer %s: %v\n%s", a.Name(), r, string(debug.Stack()))
			err = fmt.Errorf("panic in analyzer %s", a.Name())
		}
	}()
	return a.Analyze(ctx, img, iCh, iZ, iT, cell)
}
