package export

import "time"

// Status reports one export subprocess's lifecycle, mirroring the teacher's
// uplink.Status.
type Status struct {
	ImageName string    `json:"imageName"`
	Command   string    `json:"command"`
	State     string    `json:"state"`
	ExitCode  int       `json:"exitCode"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type StatusHook func(Status)
