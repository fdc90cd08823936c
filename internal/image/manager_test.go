package image

import (
	"testing"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

func TestNDImageGrowsMonotonically(t *testing.T) {
	img := NewNDImage("exp1", []string{"BF", "GFP"})
	img.AddImage(1, 0, 0, []byte{1, 2, 3}, 4, 4, nil)
	nCh, nZ, nT := img.Dimensions()
	if nCh != 2 || nZ != 1 || nT != 1 {
		t.Fatalf("expected dims (2,1,1), got (%d,%d,%d)", nCh, nZ, nT)
	}
	if !img.HasData(1, 0, 0) {
		t.Fatalf("expected cell (1,0,0) present")
	}
	if img.HasData(0, 0, 0) {
		t.Fatalf("cell (0,0,0) should not exist yet")
	}

	img.AddImage(0, 2, 0, []byte{9}, 1, 1, nil)
	nCh, nZ, nT = img.Dimensions()
	if nCh != 2 || nZ != 3 || nT != 1 {
		t.Fatalf("expected dims (2,3,1) after growth, got (%d,%d,%d)", nCh, nZ, nT)
	}
}

func TestNDImageGetDataNotFound(t *testing.T) {
	img := NewNDImage("exp1", []string{"BF"})
	if _, err := img.GetData(0, 0, 0); err == nil {
		t.Fatalf("expected NotFound error")
	} else if core.KindOf(err) != core.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestManagerAddImageEmitsAndRunsHooks(t *testing.T) {
	m := NewManager()
	stream := events.NewStream(8)
	m.Subscribe(stream, nil)

	var hookCalled bool
	m.AddAnalysisHook(func(img *NDImage, iCh, iZ, iT int, cell Cell) {
		hookCalled = true
	})

	img := m.NewNDImage("exp1", []string{"BF"})
	m.AddImage(img, 0, 0, 0, []byte{1}, 1, 1, map[string]interface{}{"timestamp": "now"})

	if !hookCalled {
		t.Fatalf("expected analysis hook to run")
	}

	created, ok := stream.Recv()
	if !ok || created.Type != core.EventNDImageCreated {
		t.Fatalf("expected NDImageCreated, got %+v ok=%v", created, ok)
	}
	changed, ok := stream.Recv()
	if !ok || changed.Type != core.EventNDImageChanged {
		t.Fatalf("expected NDImageChanged, got %+v ok=%v", changed, ok)
	}
}

func TestManagerAddImagePanickingHookDoesNotPropagate(t *testing.T) {
	m := NewManager()
	m.AddAnalysisHook(func(img *NDImage, iCh, iZ, iT int, cell Cell) {
		panic("boom")
	})
	img := m.NewNDImage("exp1", []string{"BF"})
	m.AddImage(img, 0, 0, 0, []byte{1}, 1, 1, nil)
}

func TestManagerLiveViewFrame(t *testing.T) {
	m := NewManager()
	if _, ok := m.GetLiveViewFrame(); ok {
		t.Fatalf("expected no live frame initially")
	}
	m.SetLiveViewFrame([]byte{1, 2}, 1, 2)
	cell, ok := m.GetLiveViewFrame()
	if !ok || cell.Width != 1 || cell.Height != 2 {
		t.Fatalf("unexpected live frame: %+v ok=%v", cell, ok)
	}
	m.ClearLiveViewFrame()
	if _, ok := m.GetLiveViewFrame(); ok {
		t.Fatalf("expected live frame cleared")
	}
}
