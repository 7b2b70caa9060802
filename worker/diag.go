package worker

import (
	"encoding/json"
	"io"
)

// diagSnapshot is the JSON shape written by WriteDiagnostics.
type diagSnapshot struct {
	PID   int    `json:"pid"`
	State string `json:"state"`
}

// WriteDiagnostics writes a small JSON snapshot of the worker's process id
// and lifecycle state to w, for host debug endpoints and crash reports.
func (w *Worker) WriteDiagnostics(out io.Writer, pretty bool) error {
	pid := 0
	if w.cmd.Process != nil {
		pid = w.cmd.Process.Pid
	}
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(diagSnapshot{PID: pid, State: w.State().String()})
}
