package drivers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/graph"
)

func init() {
	Register("stage", func(name string) (graph.Driver, error) {
		return newStageDriver(name), nil
	})
}

const (
	stageResolutionUm = 0.1 // microns per raw unit, grounded on Proscan's getXYResolution
	stageMotionTime    = 30 * time.Millisecond
	statusPollInterval = 5 * time.Millisecond
)

// motionBit indexes a physical axis inside the composite MotionStatus byte,
// grounded on original_source/src/device/prior/prior_proscan.h's
// handleMotionStatusUpdate (one status byte, several independent axes).
type motionBit int

const (
	motionBitXY motionBit = iota
	motionBitFilterBlock
	motionBitDiaShutter
	motionBitCount
)

// stageDriver simulates the XY stage / filter wheel / illuminator unit: one
// physical link hosting several independently-moving axes that report
// completion through a shared MotionStatus node (spec.md §4.1.2).
type stageDriver struct {
	name string

	mu        sync.Mutex
	connected bool
	moving    [motionBitCount]bool

	rawX, rawY int
	filter     string
	shutter    string // "Open" / "Closed"
	illum      int    // 0..100, in-memory only; not sent to hardware until shutter opens

	statusHandler func(core.ConnectionState, string)
	stop          chan struct{}

	nodes map[string]*graph.Node
}

func newStageDriver(name string) *stageDriver {
	d := &stageDriver{
		name:    name,
		filter:  "1",
		shutter: "Closed",
		illum:   0,
	}
	d.nodes = map[string]*graph.Node{
		"RawXYPosition": graph.NewNode("RawXYPosition", "raw stage encoder counts", true, true, nil, d.getRawXY, d.setRawXY),
		"XYPosition":    graph.NewNode("XYPosition", "stage position in microns", true, true, nil, d.getXYUm, d.setXYUm),
		"XYResolution":  graph.NewNode("XYResolution", "microns per encoder count", true, false, nil, d.getResolution, nil),
		"FilterBlock":   graph.NewNode("FilterBlock", "filter cube turret position", true, true, []string{"1", "2", "3", "4", "5", "6"}, d.getFilter, d.setFilter),
		"DiaShutter":    graph.NewNode("DiaShutter", "transmitted-light shutter", true, true, []string{"Open", "Closed"}, d.getShutter, d.setShutter),
		"IlluminationIntensity": graph.NewNode("IlluminationIntensity", "lamp intensity, percent", true, true, nil, d.getIllum, d.setIllum),
		"MotionStatus": graph.NewNode("MotionStatus", "composite motion-done byte", true, false, nil, d.getMotionStatus, nil),
	}
	return d
}

func (d *stageDriver) SetStatusHandler(h func(state core.ConnectionState, reason string)) {
	d.statusHandler = h
}

func (d *stageDriver) DetectDevice(ctx context.Context) bool { return true }

func (d *stageDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()
	go pollLoop(statusPollInterval, stop, d.pollMotionStatus)
	return nil
}

func (d *stageDriver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.connected = false
	return nil
}

func (d *stageDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *stageDriver) NodeMap() map[string]*graph.Node { return d.nodes }

// pollMotionStatus reads the composite status and forwards completion to
// every axis whose motion bit just cleared, the single fan-out point all
// axis Setters rely on instead of confirming completion themselves.
func (d *stageDriver) pollMotionStatus() {
	var done []motionBit
	d.mu.Lock()
	for b := motionBit(0); b < motionBitCount; b++ {
		if !d.moving[b] {
			done = append(done, b)
		}
	}
	d.mu.Unlock()

	for _, b := range done {
		switch b {
		case motionBitXY:
			d.forwardXY()
		case motionBitFilterBlock:
			d.nodes["FilterBlock"].ObserveExternal(d.snapshotFilter())
		case motionBitDiaShutter:
			d.nodes["DiaShutter"].ObserveExternal(d.snapshotShutter())
		}
	}
}

func (d *stageDriver) forwardXY() {
	raw := d.snapshotRawXY()
	d.nodes["RawXYPosition"].ObserveExternal(raw)
	d.nodes["XYPosition"].ObserveExternal(rawToUm(raw))
}

func (d *stageDriver) snapshotRawXY() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("%d,%d", d.rawX, d.rawY)
}

func (d *stageDriver) snapshotFilter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter
}

func (d *stageDriver) snapshotShutter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutter
}

func rawToUm(raw string) string {
	x, y := parseXY(raw)
	return fmt.Sprintf("%.4f,%.4f", float64(x)*stageResolutionUm, float64(y)*stageResolutionUm)
}

func umToRaw(um string) (int, int, error) {
	x, y := 0.0, 0.0
	n, err := fmt.Sscanf(um, "%f,%f", &x, &y)
	if err != nil || n != 2 {
		return 0, 0, core.Errorf(core.InvalidArgument, "stageDriver", "invalid XYPosition %q", um)
	}
	return int(x / stageResolutionUm), int(y / stageResolutionUm), nil
}

func parseXY(raw string) (int, int) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	x, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	y, _ := strconv.Atoi(strings.TrimSpace(parts[1]))
	return x, y
}

func (d *stageDriver) getRawXY(ctx context.Context) (graph.Value, error) {
	return d.snapshotRawXY(), nil
}

func (d *stageDriver) setRawXY(ctx context.Context, v graph.Value) error {
	x, y := parseXY(v)
	d.mu.Lock()
	d.moving[motionBitXY] = true
	d.mu.Unlock()
	go func() {
		time.Sleep(stageMotionTime)
		d.mu.Lock()
		d.rawX, d.rawY = x, y
		d.moving[motionBitXY] = false
		d.mu.Unlock()
	}()
	return nil
}

func (d *stageDriver) getXYUm(ctx context.Context) (graph.Value, error) {
	return rawToUm(d.snapshotRawXY()), nil
}

func (d *stageDriver) setXYUm(ctx context.Context, v graph.Value) error {
	x, y, err := umToRaw(v)
	if err != nil {
		return err
	}
	return d.setRawXY(ctx, fmt.Sprintf("%d,%d", x, y))
}

func (d *stageDriver) getResolution(ctx context.Context) (graph.Value, error) {
	return fmt.Sprintf("%.4f", stageResolutionUm), nil
}

func (d *stageDriver) getFilter(ctx context.Context) (graph.Value, error) {
	return d.snapshotFilter(), nil
}

func (d *stageDriver) setFilter(ctx context.Context, v graph.Value) error {
	d.mu.Lock()
	d.moving[motionBitFilterBlock] = true
	d.mu.Unlock()
	go func() {
		time.Sleep(stageMotionTime)
		d.mu.Lock()
		d.filter = v
		d.moving[motionBitFilterBlock] = false
		d.mu.Unlock()
	}()
	return nil
}

func (d *stageDriver) getShutter(ctx context.Context) (graph.Value, error) {
	return d.snapshotShutter(), nil
}

func (d *stageDriver) setShutter(ctx context.Context, v graph.Value) error {
	d.mu.Lock()
	d.moving[motionBitDiaShutter] = true
	d.mu.Unlock()
	go func() {
		time.Sleep(stageMotionTime / 2)
		d.mu.Lock()
		d.shutter = v
		d.moving[motionBitDiaShutter] = false
		opening := v == "Open"
		illum := d.illum
		d.mu.Unlock()
		if opening {
			// Illumination is a pseudo-property: only now does it reach the
			// simulated lamp, matching spec.md §4.1.3.
			d.nodes["IlluminationIntensity"].ObserveExternal(strconv.Itoa(illum))
		}
	}()
	return nil
}

func (d *stageDriver) getIllum(ctx context.Context) (graph.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strconv.Itoa(d.illum), nil
}

func (d *stageDriver) setIllum(ctx context.Context, v graph.Value) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return core.Errorf(core.InvalidArgument, "stageDriver.setIllum", "invalid intensity %q", v)
	}
	d.mu.Lock()
	d.illum = n
	d.mu.Unlock()
	// Storing the value in memory is instant regardless of shutter state;
	// only the simulated lamp write (setShutter's forwarding) waits for the
	// shutter to open. Deferred so node.Set's own pending-set bookkeeping
	// (which runs right after this function returns) is in place before the
	// observation arrives to clear it.
	go func() {
		time.Sleep(time.Millisecond)
		d.nodes["IlluminationIntensity"].ObserveExternal(v)
	}()
	return nil
}

func (d *stageDriver) getMotionStatus(ctx context.Context) (graph.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := make([]byte, motionBitCount)
	for i, moving := range d.moving {
		if moving {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b), nil
}
