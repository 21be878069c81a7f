// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package exechelper

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// streamBufferLines bounds the line channel; producers block when consumers
// fall behind, which in turn throttles the pipe reads.
const streamBufferLines = 256

// Handle tracks a streaming invocation. The child is reaped on every exit
// path: success, error, cancellation, and Close.
type Handle struct {
	cmd    *exec.Cmd
	lines  chan LineRecord
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

// Lines returns the bounded channel of output line records. It is closed
// once the child exits and both pipes are drained.
func (h *Handle) Lines() <-chan LineRecord {
	return h.lines
}

// PID returns the child process id, or 0 before start.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Wait blocks until the child exits and returns its terminal error, if any.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// ExitCode returns the child's exit code after Wait has returned.
func (h *Handle) ExitCode() int {
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Close cancels the invocation and waits for the child to be reaped. It is
// idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	<-h.done

	return nil
}

func scanToChannel(reader io.Reader, stream Stream, lines chan<- LineRecord, ctx context.Context) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		record := LineRecord{Stream: stream, Line: scanner.Text(), T: time.Now().UTC()}
		select {
		case lines <- record:
		case <-ctx.Done():
			// Keep draining the pipe so the child never blocks on write,
			// but stop forwarding.
		}
	}
}

// RunStream starts the command and yields output line records on a bounded
// channel. The returned handle owns the child process.
func RunStream(ctx context.Context, cmd *exec.Cmd, opts *Options, logger log.FieldLogger) (*Handle, error) {
	if err := applyOptions(cmd, opts); err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts != nil && opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, model.WrapError(model.ErrInternal, err, "failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, model.WrapError(model.ErrInternal, err, "failed to open stderr pipe")
	}

	if err = cmd.Start(); err != nil {
		cancel()
		return nil, model.WrapError(classifyStartError(err), err, "failed to start %s", cmd.Path)
	}

	logger.WithFields(log.Fields{
		"cmd": cmd.Path,
		"pid": cmd.Process.Pid,
	}).Debug("Streaming command output")

	handle := &Handle{
		cmd:    cmd,
		lines:  make(chan LineRecord, streamBufferLines),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	var scanners sync.WaitGroup
	scanners.Add(2)
	go func() {
		defer scanners.Done()
		scanToChannel(stdout, Stdout, handle.lines, runCtx)
	}()
	go func() {
		defer scanners.Done()
		scanToChannel(stderr, Stderr, handle.lines, runCtx)
	}()

	go func() {
		defer close(handle.done)
		defer cancel()

		waitErr := make(chan error, 1)
		go func() {
			scanners.Wait()
			waitErr <- cmd.Wait()
		}()

		var err error
		select {
		case err = <-waitErr:
		case <-runCtx.Done():
			forceAfter := 5 * time.Second
			if opts != nil && opts.KillTree {
				forceAfter = time.Second
			}
			killGroup(cmd, forceAfter)
			err = <-waitErr
			if err == nil {
				err = runCtx.Err()
			}
		}

		close(handle.lines)

		if err != nil {
			kind := model.ErrExternalFailure
			if ctxErr := runCtx.Err(); ctxErr != nil {
				if ctxErr == context.DeadlineExceeded {
					kind = model.ErrTimeout
				} else {
					kind = model.ErrCancelled
				}
			}
			handle.mu.Lock()
			handle.err = model.WrapError(kind, err, "command %s terminated", cmd.Path)
			handle.mu.Unlock()
		}
	}()

	return handle, nil
}
