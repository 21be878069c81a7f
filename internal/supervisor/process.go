// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package supervisor owns the lifecycle of every tracked child process:
// launching, stopping, restarting, port allocation, and reaping.
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

const (
	// defaultReapInterval is how often the reaper scans for zombies.
	defaultReapInterval = 5 * time.Second
	// defaultZombieThreshold is how long a zombie may linger before it is
	// escalated to lost.
	defaultZombieThreshold = 30 * time.Second
	// defaultRestartWindow bounds the restart budget accounting.
	defaultRestartWindow = 10 * time.Minute
)

type eventProducer interface {
	ProduceProcessStateChangeEvent(processID, oldState, newState string, extraDataFields ...events.DataField) error
}

// tracked is the writer goroutine's private view of one process.
type tracked struct {
	record        *model.ProcessRecord
	handle        *exechelper.Handle
	opts          model.StartOptions
	stopRequested bool
	zombieSince   time.Time
	backoff       *backoff.ExponentialBackOff
	restartTimes  []time.Time
}

type command struct {
	apply func()
	done  chan struct{}
}

// ProcessSupervisor owns all tracked processes. Mutation is serialized via a
// single writer goroutine fed by a command channel; readers access a
// copy-on-write snapshot.
type ProcessSupervisor struct {
	logger       log.FieldLogger
	broker       *events.Broker
	producer     eventProducer
	ports        *PortPool
	snapshotPath string

	reapInterval    time.Duration
	zombieThreshold time.Duration

	commands chan command
	stop     chan struct{}
	done     chan struct{}

	// procs is owned exclusively by the writer goroutine.
	procs map[string]*tracked

	// snapshot is replaced wholesale by the writer after every mutation.
	snapshot chan map[string]*model.ProcessRecord
}

// NewProcessSupervisor creates and starts a process supervisor. The snapshot
// path, when non-empty, receives a best-effort processes.json on every
// mutation.
func NewProcessSupervisor(ports *PortPool, broker *events.Broker, producer eventProducer, snapshotPath string, logger log.FieldLogger) *ProcessSupervisor {
	s := &ProcessSupervisor{
		logger:          logger.WithField("component", "supervisor"),
		broker:          broker,
		producer:        producer,
		ports:           ports,
		snapshotPath:    snapshotPath,
		reapInterval:    defaultReapInterval,
		zombieThreshold: defaultZombieThreshold,
		commands:        make(chan command),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
		procs:           map[string]*tracked{},
		snapshot:        make(chan map[string]*model.ProcessRecord, 1),
	}
	s.snapshot <- map[string]*model.ProcessRecord{}

	go s.run()

	return s
}

// run is the single writer goroutine; all mutations of procs happen here.
func (s *ProcessSupervisor) run() {
	defer close(s.done)

	reap := time.NewTicker(s.reapInterval)
	defer reap.Stop()

	for {
		select {
		case cmd := <-s.commands:
			cmd.apply()
			if cmd.done != nil {
				close(cmd.done)
			}
		case <-reap.C:
			s.reap()
		case <-s.stop:
			return
		}
	}
}

// do runs fn on the writer goroutine and waits for it to finish.
func (s *ProcessSupervisor) do(fn func()) {
	done := make(chan struct{})
	select {
	case s.commands <- command{apply: fn, done: done}:
		<-done
	case <-s.stop:
	}
}

// publishSnapshot replaces the read-only snapshot and persists it.
func (s *ProcessSupervisor) publishSnapshot() {
	snapshot := make(map[string]*model.ProcessRecord, len(s.procs))
	for id, proc := range s.procs {
		snapshot[id] = proc.record.Clone()
	}

	<-s.snapshot
	s.snapshot <- snapshot

	if s.snapshotPath != "" {
		records := make([]*model.ProcessRecord, 0, len(snapshot))
		for _, record := range snapshot {
			records = append(records, record)
		}
		if err := fsutil.WriteJSONAtomic(s.snapshotPath, records); err != nil {
			s.logger.WithError(err).Warn("Failed to persist process snapshot")
		}
	}
}

func (s *ProcessSupervisor) readSnapshot() map[string]*model.ProcessRecord {
	snapshot := <-s.snapshot
	s.snapshot <- snapshot
	return snapshot
}

// Start launches a command under supervision and returns the process id.
func (s *ProcessSupervisor) Start(ctx context.Context, appID string, cmdline []string, opts model.StartOptions) (string, error) {
	if len(cmdline) == 0 {
		return "", model.NewError(model.ErrInvalidInput, "empty command")
	}

	var processID string
	var startErr error
	s.do(func() {
		processID, startErr = s.startLocked(ctx, appID, cmdline, opts, 0)
	})

	return processID, startErr
}

// startLocked runs on the writer goroutine.
func (s *ProcessSupervisor) startLocked(ctx context.Context, appID string, cmdline []string, opts model.StartOptions, restartCount int) (string, error) {
	processID := model.NewID()
	logger := s.logger.WithFields(log.Fields{"app": appID, "process": processID})

	var ports []int
	env := map[string]string{}
	for k, v := range opts.Env {
		env[k] = v
	}
	if opts.NeedsPort {
		port, err := s.ports.Allocate(processID)
		if err != nil {
			return "", err
		}
		ports = append(ports, port)
		env["PORT"] = strconv.Itoa(port)
	}

	execCmd := exec.Command(cmdline[0], cmdline[1:]...)
	execOpts := &exechelper.Options{
		Dir:       opts.WorkDir,
		Env:       env,
		CreateDir: true,
		KillTree:  true,
	}

	handle, err := exechelper.RunStream(ctx, execCmd, execOpts, logger)
	if err != nil {
		for _, port := range ports {
			s.ports.Release(port)
		}
		return "", err
	}

	restartBudget := 0
	if opts.Daemon != nil {
		restartBudget = opts.Daemon.MaxRestarts
	}

	record := &model.ProcessRecord{
		ID:            processID,
		PID:           handle.PID(),
		AppID:         appID,
		GroupID:       handle.PID(),
		Command:       append([]string(nil), cmdline...),
		WorkDir:       opts.WorkDir,
		Env:           env,
		StartedAt:     model.GetMillis(),
		Status:        model.ProcessRunning,
		PortsOwned:    ports,
		RestartCount:  restartCount,
		RestartBudget: restartBudget,
	}

	proc := &tracked{
		record: record,
		handle: handle,
		opts:   opts,
	}
	if opts.Daemon != nil {
		proc.backoff = newRestartBackoff(opts.Daemon.Backoff)
	}
	s.procs[processID] = proc
	s.publishSnapshot()

	s.emit(model.ProcessEventStarted, record, nil)
	logger.WithField("pid", record.PID).Info("Started process")

	// Fan the child's output out to the log topic, then report the exit
	// back to the writer goroutine.
	go func() {
		for line := range handle.Lines() {
			s.broker.Publish(events.TopicLogLines, &events.LogLine{
				AppID:     appID,
				ProcessID: processID,
				Stream:    string(line.Stream),
				Line:      line.Line,
				T:         line.T,
			})
		}
		_ = handle.Wait()
		exitCode := handle.ExitCode()
		s.do(func() {
			s.handleExit(processID, exitCode)
		})
	}()

	return processID, nil
}

// handleExit runs on the writer goroutine when a child has been reaped.
func (s *ProcessSupervisor) handleExit(processID string, exitCode int) {
	proc, ok := s.procs[processID]
	if !ok {
		return
	}
	logger := s.logger.WithFields(log.Fields{"app": proc.record.AppID, "process": processID})

	oldStatus := proc.record.Status
	proc.record.Status = model.ProcessExited
	proc.record.LastExitCode = &exitCode
	for _, port := range proc.record.PortsOwned {
		s.ports.Release(port)
	}
	proc.record.PortsOwned = nil
	s.publishSnapshot()

	eventType := model.ProcessEventExited
	if proc.stopRequested || oldStatus == model.ProcessStopping {
		eventType = model.ProcessEventStopped
	}
	s.emit(eventType, proc.record, &exitCode)
	logger.WithField("exitCode", exitCode).Info("Process exited")

	if eventType == model.ProcessEventStopped {
		return
	}
	s.maybeRestartDaemon(proc, exitCode)
}

// maybeRestartDaemon applies the daemon restart policy with backoff.
func (s *ProcessSupervisor) maybeRestartDaemon(proc *tracked, exitCode int) {
	daemon := proc.opts.Daemon
	if daemon == nil {
		return
	}

	switch daemon.RestartPolicy {
	case model.RestartAlways:
	case model.RestartOnFailure:
		if exitCode == 0 {
			return
		}
	default:
		return
	}

	// Expire restart history outside the window, then check the budget.
	cutoff := time.Now().Add(-defaultRestartWindow)
	kept := proc.restartTimes[:0]
	for _, t := range proc.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	proc.restartTimes = kept

	if daemon.MaxRestarts > 0 && len(proc.restartTimes) >= daemon.MaxRestarts {
		s.emit(model.ProcessEventRestartCapReach, proc.record, nil)
		s.logger.WithField("process", proc.record.ID).Warn("Restart cap reached; not restarting")
		return
	}

	delay := proc.backoff.NextBackOff()
	proc.restartTimes = append(proc.restartTimes, time.Now())

	appID := proc.record.AppID
	cmdline := proc.record.Command
	opts := proc.opts
	restartCount := proc.record.RestartCount + 1
	oldID := proc.record.ID

	time.AfterFunc(delay, func() {
		s.do(func() {
			delete(s.procs, oldID)
			newID, err := s.startLocked(context.Background(), appID, cmdline, opts, restartCount)
			if err != nil {
				s.logger.WithError(err).WithField("app", appID).Error("Failed to restart daemon")
				return
			}
			if restarted, ok := s.procs[newID]; ok {
				restarted.restartTimes = append([]time.Time(nil), proc.restartTimes...)
				restarted.backoff = proc.backoff
				s.emit(model.ProcessEventRestarted, restarted.record, nil)
			}
		})
	})
}

// Stop gracefully stops a process: soft signal, wait up to grace, then kill
// the whole group. Port release is guaranteed by the exit path.
func (s *ProcessSupervisor) Stop(id string, opts model.StopOptions) error {
	var proc *tracked
	s.do(func() {
		p, ok := s.procs[id]
		if !ok || p.record.Status.IsTerminal() {
			return
		}
		p.stopRequested = true
		p.record.Status = model.ProcessStopping
		proc = p
		s.publishSnapshot()
	})
	if proc == nil {
		snapshot := s.readSnapshot()
		if record, ok := snapshot[id]; ok && record.Status.IsTerminal() {
			return nil
		}
		return model.NewError(model.ErrNotFound, "process %s not found", id)
	}

	grace := opts.Grace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	forceAfter := opts.ForceAfter
	if forceAfter <= 0 {
		forceAfter = 5 * time.Second
	}

	// Termination sequence: SIGTERM, wait up to grace for a voluntary exit,
	// then SIGKILL the group once force_after more elapses.
	pgid := -proc.record.GroupID
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	exited := waitClosed(proc.handle)
	select {
	case <-exited:
	case <-time.After(grace):
		select {
		case <-exited:
		case <-time.After(forceAfter):
			_ = syscall.Kill(pgid, syscall.SIGKILL)
			<-exited
		}
	}

	return nil
}

func waitClosed(handle *exechelper.Handle) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_ = handle.Wait()
		close(done)
	}()
	return done
}

// Restart stops the process and starts it again with its original command,
// incrementing the restart count.
func (s *ProcessSupervisor) Restart(id string) (string, error) {
	snapshot := s.readSnapshot()
	record, ok := snapshot[id]
	if !ok {
		return "", model.NewError(model.ErrNotFound, "process %s not found", id)
	}

	var opts model.StartOptions
	s.do(func() {
		if proc, tracked := s.procs[id]; tracked {
			opts = proc.opts
		}
	})

	if !record.Status.IsTerminal() {
		if err := s.Stop(id, model.StopOptions{Grace: 10 * time.Second}); err != nil {
			return "", err
		}
	}

	var newID string
	var err error
	s.do(func() {
		delete(s.procs, id)
		newID, err = s.startLocked(context.Background(), record.AppID, record.Command, opts, record.RestartCount+1)
		if err == nil {
			if proc, ok := s.procs[newID]; ok {
				s.emit(model.ProcessEventRestarted, proc.record, nil)
			}
		}
	})

	return newID, err
}

// List returns read-only snapshots of every tracked process.
func (s *ProcessSupervisor) List() []*model.ProcessRecord {
	snapshot := s.readSnapshot()
	records := make([]*model.ProcessRecord, 0, len(snapshot))
	for _, record := range snapshot {
		records = append(records, record.Clone())
	}
	return records
}

// Get returns a read-only snapshot of one process.
func (s *ProcessSupervisor) Get(id string) (*model.ProcessRecord, error) {
	snapshot := s.readSnapshot()
	record, ok := snapshot[id]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "process %s not found", id)
	}
	return record, nil
}

// GetByApp returns the live process for an app, if any.
func (s *ProcessSupervisor) GetByApp(appID string) *model.ProcessRecord {
	snapshot := s.readSnapshot()
	for _, record := range snapshot {
		if record.AppID == appID && !record.Status.IsTerminal() {
			return record
		}
	}
	return nil
}

// Watch subscribes to the process event stream with back-pressure.
func (s *ProcessSupervisor) Watch() *events.Subscription {
	return s.broker.Subscribe(events.TopicProcessEvents, 64, events.Backpressure)
}

// TrimIdle drops exited-but-tracked records from tracking; invoked
// by the performance monitor's optimization hooks.
func (s *ProcessSupervisor) TrimIdle() int {
	trimmed := 0
	s.do(func() {
		for id, proc := range s.procs {
			if proc.record.Status.IsTerminal() {
				delete(s.procs, id)
				trimmed++
			}
		}
		if trimmed > 0 {
			s.publishSnapshot()
		}
	})
	return trimmed
}

// reap runs on the writer goroutine, scanning for zombies and escalating
// ones that outlive the threshold to lost.
func (s *ProcessSupervisor) reap() {
	now := time.Now()
	changed := false

	for _, proc := range s.procs {
		if proc.record.Status.IsTerminal() || proc.record.Status == model.ProcessStopping {
			continue
		}

		if isZombie(proc.record.PID) {
			if proc.zombieSince.IsZero() {
				proc.zombieSince = now
				proc.record.Status = model.ProcessZombie
				changed = true
				continue
			}
			if now.Sub(proc.zombieSince) > s.zombieThreshold {
				proc.record.Status = model.ProcessLost
				for _, port := range proc.record.PortsOwned {
					s.ports.Release(port)
				}
				proc.record.PortsOwned = nil
				s.emit(model.ProcessEventLost, proc.record, nil)
				changed = true
			}
			continue
		}

		if !proc.zombieSince.IsZero() {
			proc.zombieSince = time.Time{}
			if proc.record.Status == model.ProcessZombie {
				proc.record.Status = model.ProcessRunning
				changed = true
			}
		}
	}

	if changed {
		s.publishSnapshot()
	}
}

// isZombie reads the process state from /proc.
func isZombie(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	// The state letter follows the parenthesized command name.
	fields := string(data)
	idx := strings.LastIndexByte(fields, ')')
	if idx < 0 || idx+2 >= len(fields) {
		return false
	}
	return fields[idx+2] == 'Z'
}

func (s *ProcessSupervisor) emit(eventType model.ProcessEventType, record *model.ProcessRecord, exitCode *int) {
	event := &model.ProcessEvent{
		Type:      eventType,
		ProcessID: record.ID,
		AppID:     record.AppID,
		Timestamp: model.GetMillis(),
		ExitCode:  exitCode,
	}
	s.broker.Publish(events.TopicProcessEvents, event)

	if s.producer != nil {
		err := s.producer.ProduceProcessStateChangeEvent(record.ID, string(eventType), string(record.Status),
			events.DataField{Key: "AppID", Value: record.AppID})
		if err != nil {
			s.logger.WithError(err).Warn("Failed to produce process state change event")
		}
	}
}

// Shutdown stops every tracked process and terminates the writer goroutine.
func (s *ProcessSupervisor) Shutdown() {
	var ids []string
	snapshot := s.readSnapshot()
	for id, record := range snapshot {
		if !record.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		_ = s.Stop(id, model.StopOptions{Grace: 5 * time.Second})
	}

	close(s.stop)
	<-s.done
}

func newRestartBackoff(spec model.BackoffSpec) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if spec.Initial > 0 {
		b.InitialInterval = spec.Initial
	}
	if spec.Max > 0 {
		b.MaxInterval = spec.Max
	}
	if spec.Multiplier > 0 {
		b.Multiplier = spec.Multiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
