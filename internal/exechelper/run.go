// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package exechelper streamlines the running of external commands while both
// capturing and logging their output.
package exechelper

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// Stream identifies which output stream a line came from.
type Stream string

const (
	// Stdout is the standard output stream.
	Stdout Stream = "stdout"
	// Stderr is the standard error stream.
	Stderr Stream = "stderr"
)

// LineRecord is one line of child process output.
type LineRecord struct {
	Stream Stream    `json:"stream"`
	Line   string    `json:"line"`
	T      time.Time `json:"t"`
}

// Options configures a command invocation.
type Options struct {
	Dir       string
	Env       map[string]string
	Timeout   time.Duration
	Input     string
	CreateDir bool
	KillTree  bool
}

// OutputLogger allows custom logging of the run command output.
type OutputLogger func(line string, logger log.FieldLogger)

// Result holds the outcome of a synchronous invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

func applyOptions(cmd *exec.Cmd, opts *Options) error {
	if opts == nil {
		return nil
	}
	if opts.Dir != "" {
		if opts.CreateDir {
			if err := os.MkdirAll(opts.Dir, 0755); err != nil {
				return model.WrapError(model.ErrPermission, err, "failed to create working directory %s", opts.Dir)
			}
		}
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		env := os.Environ()
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if opts.Input != "" {
		cmd.Stdin = strings.NewReader(opts.Input)
	}

	// A dedicated process group lets cancellation reap the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return nil
}

// killGroup terminates the process group of the given command: SIGTERM
// first, SIGKILL once the escalation delay elapses.
func killGroup(cmd *exec.Cmd, forceAfter time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	if forceAfter <= 0 {
		forceAfter = 5 * time.Second
	}
	timer := time.AfterFunc(forceAfter, func() {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	})
	_ = timer
}

func bufferAndLog(reader io.Reader, buffer *bytes.Buffer, logger log.FieldLogger, outputLogger OutputLogger) error {
	scanner := bufio.NewScanner(io.TeeReader(reader, buffer))
	for scanner.Scan() {
		text := scanner.Text()
		if outputLogger == nil {
			logger.Info(text)
		} else {
			outputLogger(text, logger)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return nil
}

// Run invokes the command synchronously, both logging and returning STDOUT
// and STDERR. The context cancels the whole process group.
func Run(ctx context.Context, cmd *exec.Cmd, opts *Options, logger log.FieldLogger, outputLogger OutputLogger) (*Result, error) {
	runID := model.NewID()
	logger = logger.WithField("run", runID)

	if err := applyOptions(cmd, opts); err != nil {
		return nil, err
	}

	if opts != nil && opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logger.WithFields(log.Fields{
		"cmd":  cmd.Path,
		"args": cmd.Args,
	}).Debug("Invoking command")

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rStdout, wStdout := io.Pipe()
	rStderr, wStderr := io.Pipe()

	cmd.Stdout = wStdout
	cmd.Stderr = wStderr

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bufferAndLog(rStdout, stdout, logger, outputLogger); err != nil {
			logger.WithError(err).Error("failed to scan stdout")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bufferAndLog(rStderr, stderr, logger, outputLogger); err != nil {
			logger.WithError(err).Error("failed to scan stderr")
		}
	}()

	if err := cmd.Start(); err != nil {
		wStdout.Close()
		wStderr.Close()
		return nil, model.WrapError(classifyStartError(err), err, "failed to start %s", cmd.Path)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		wStdout.Close()
		wStderr.Close()
	}()

	var err error
	cancelled := false
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		cancelled = true
		killGroup(cmd, 5*time.Second)
		err = <-waitErr
	}

	wg.Wait()

	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: cmd.ProcessState.ExitCode()}

	if cancelled {
		kind := model.ErrCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = model.ErrTimeout
		}
		return result, model.WrapError(kind, ctx.Err(), "command %s interrupted", cmd.Path)
	}
	if err != nil {
		return result, model.WrapError(model.ErrExternalFailure, err, "command %s failed", cmd.Path)
	}

	return result, nil
}

func classifyStartError(err error) model.ErrKind {
	if os.IsNotExist(errors.Cause(err)) {
		return model.ErrNotFound
	}
	if os.IsPermission(errors.Cause(err)) {
		return model.ErrPermission
	}
	return model.ErrExternalFailure
}
