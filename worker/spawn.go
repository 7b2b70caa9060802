package worker

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/sfuctl/workerchannel/channel"
)

// pipes bundles the four anonymous pipes and exposes which ends the host
// keeps versus hands to the child, mirroring the fixed FD contract: 3
// host->worker control, 4 worker->host control, 5 host->worker payload, 6
// worker->host payload.
type pipes struct {
	controlIn  *os.File // host writes (kept)
	controlOut *os.File // host reads (kept)
	payloadIn  *os.File // host writes (kept)
	payloadOut *os.File // host reads (kept)

	childControlIn  *os.File // child reads, FD 3
	childControlOut *os.File // child writes, FD 4
	childPayloadIn  *os.File // child reads, FD 5
	childPayloadOut *os.File // child writes, FD 6
}

// newPipes creates the four anonymous pipes. On any failure it closes
// whatever was already created and returns channel.ErrSpawnFailed.
func newPipes() (*pipes, error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	makePipe := func() (r, w *os.File, err error) {
		r, w, err = os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		opened = append(opened, r, w)
		return r, w, nil
	}

	cIn, cOut, err := makePipe() // host->worker control
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: %v", channel.ErrSpawnFailed, err)
	}
	wIn, wOut, err := makePipe() // worker->host control
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: %v", channel.ErrSpawnFailed, err)
	}
	pIn, pOut, err := makePipe() // host->worker payload
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: %v", channel.ErrSpawnFailed, err)
	}
	qIn, qOut, err := makePipe() // worker->host payload
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: %v", channel.ErrSpawnFailed, err)
	}

	return &pipes{
		controlIn:  cOut, // host writes the write end of the host->worker control pipe
		controlOut: wIn,  // host reads the read end of the worker->host control pipe
		payloadIn:  pOut,
		payloadOut: qIn,

		childControlIn:  cIn,  // FD 3
		childControlOut: wOut, // FD 4
		childPayloadIn:  pIn,  // FD 5
		childPayloadOut: qOut, // FD 6
	}, nil
}

// extraFiles returns the four files in the fixed order exec.Cmd.ExtraFiles
// requires to land on child FDs 3, 4, 5, 6 (ExtraFiles[i] becomes FD 3+i).
func (p *pipes) extraFiles() []*os.File {
	return []*os.File{p.childControlIn, p.childControlOut, p.childPayloadIn, p.childPayloadOut}
}

// closeChildEnds closes the host's copies of the child-side FDs once the
// worker has been exec'd, so the host doesn't hold the child's read/write
// ends open and mask EOF/broken-pipe detection on its own pipes.
func (p *pipes) closeChildEnds() {
	p.childControlIn.Close()
	p.childControlOut.Close()
	p.childPayloadIn.Close()
	p.childPayloadOut.Close()
}

// closeHostEnds closes the host's own kept ends; used on spawn failure
// after cmd.Start fails.
func (p *pipes) closeHostEnds() {
	p.controlIn.Close()
	p.controlOut.Close()
	p.payloadIn.Close()
	p.payloadOut.Close()
}

// spawn starts the worker binary with argv, inheriting the four pipe FDs at
// their fixed numbers and no others. On success it returns the running
// *exec.Cmd and the host-side pipe ends; on failure it returns
// channel.ErrSpawnFailed and has cleaned up every FD it opened.
func spawn(binPath string, argv []string, extraEnv []string) (*exec.Cmd, *pipes, error) {
	p, err := newPipes()
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(binPath, argv...)
	cmd.ExtraFiles = p.extraFiles()
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		p.closeChildEnds()
		p.closeHostEnds()
		return nil, nil, fmt.Errorf("%w: %v", channel.ErrSpawnFailed, err)
	}

	p.closeChildEnds()
	return cmd, p, nil
}
