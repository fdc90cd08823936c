package core

import "time"

// EventKind enumerates the event types of spec.md §4.4.
type EventKind string

const (
	EventDeviceConnectionStateChanged EventKind = "DeviceConnectionStateChanged"
	EventDevicePropertyValueUpdate    EventKind = "DevicePropertyValueUpdate"
	EventDeviceOperationComplete      EventKind = "DeviceOperationComplete"

	EventTaskStateChanged   EventKind = "TaskStateChanged"
	EventTaskChannelChanged EventKind = "TaskChannelChanged"
	EventTaskMessage        EventKind = "TaskMessage"

	EventNDImageCreated EventKind = "NDImageCreated"
	EventNDImageChanged EventKind = "NDImageChanged"
)

// ConnectionState enumerates the device connection state machine of
// spec.md §3.
type ConnectionState string

const (
	NotConnected   ConnectionState = "not_connected"
	Connecting     ConnectionState = "connecting"
	Connected      ConnectionState = "connected"
	Disconnecting  ConnectionState = "disconnecting"
	ConnectionLost ConnectionState = "connection_lost"
)

// TaskState enumerates the values published on TaskStateChanged.
type TaskState string

const (
	TaskReady   TaskState = "Ready"
	TaskLive    TaskState = "Live"
	TaskRunning TaskState = "Running"
	TaskError   TaskState = "Error"
)

// Event is the unified notification carried by the event stream.
type Event struct {
	Type   EventKind
	Device string
	Path   PropertyPath
	Value  string
	Time   time.Time
}
