package worker

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteDiagnosticsEchoWorker(t *testing.T) {
	w, err := Spawn("/bin/sh", WithArgv("-c", "cat <&3 >&4"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer w.Close()

	var buf bytes.Buffer
	if err := w.WriteDiagnostics(&buf, false); err != nil {
		t.Fatalf("WriteDiagnostics: %v", err)
	}

	var snap diagSnapshot
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.PID == 0 {
		t.Fatal("expected a nonzero pid")
	}
	if snap.State != "running" {
		t.Fatalf("state = %q, want running", snap.State)
	}
}
