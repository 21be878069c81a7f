// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package health runs periodic checks against monitored apps and asks the
// supervisor to restart the ones that go critical.
package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// processSnapshot is the read-only process view a check may consult.
type processSnapshot interface {
	GetByApp(appID string) *model.ProcessRecord
}

// runCheck executes one check spec and returns its result.
func runCheck(ctx context.Context, spec model.CheckSpec, appID string, procs processSnapshot, logger log.FieldLogger) model.CheckResult {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, message, details := executeCheck(ctx, spec, appID, procs, logger)

	result := model.CheckResult{
		Status:    status,
		Message:   message,
		LatencyMS: time.Since(start).Milliseconds(),
		Details:   details,
	}
	now := model.GetMillis()
	if status == model.HealthHealthy {
		result.LastOKAt = now
	} else {
		result.LastFailAt = now
	}

	return result
}

func executeCheck(ctx context.Context, spec model.CheckSpec, appID string, procs processSnapshot, logger log.FieldLogger) (model.HealthStatus, string, map[string]string) {
	switch spec.Kind {
	case model.CheckProcess:
		return checkProcess(appID, procs)
	case model.CheckTCP:
		return checkTCP(ctx, spec)
	case model.CheckHTTP:
		return checkHTTP(ctx, spec)
	case model.CheckLog:
		return checkLog(spec)
	case model.CheckResource:
		return checkResource(appID, spec, procs)
	case model.CheckCustom:
		return checkCustom(ctx, spec, appID, procs, logger)
	default:
		return model.HealthUnknown, fmt.Sprintf("unknown check kind %s", spec.Kind), nil
	}
}

func checkProcess(appID string, procs processSnapshot) (model.HealthStatus, string, map[string]string) {
	record := procs.GetByApp(appID)
	if record == nil {
		return model.HealthCritical, "no live process", nil
	}

	details := map[string]string{"pid": strconv.Itoa(record.PID)}
	switch record.Status {
	case model.ProcessRunning, model.ProcessStarting:
		if err := syscall.Kill(record.PID, 0); err != nil {
			return model.HealthCritical, "pid not alive", details
		}
		return model.HealthHealthy, "", details
	case model.ProcessZombie:
		return model.HealthUnhealthy, "process is a zombie", details
	default:
		return model.HealthCritical, fmt.Sprintf("process is %s", record.Status), details
	}
}

func checkTCP(ctx context.Context, spec model.CheckSpec) (model.HealthStatus, string, map[string]string) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", spec.Address)
	if err != nil {
		return model.HealthUnhealthy, fmt.Sprintf("connect %s: %s", spec.Address, err), nil
	}
	_ = conn.Close()
	return model.HealthHealthy, "", nil
}

func checkHTTP(ctx context.Context, spec model.CheckSpec) (model.HealthStatus, string, map[string]string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return model.HealthUnknown, err.Error(), nil
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return model.HealthUnhealthy, fmt.Sprintf("GET %s: %s", spec.URL, err), nil
	}
	defer resp.Body.Close()

	expected := spec.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	details := map[string]string{"status": strconv.Itoa(resp.StatusCode)}
	if resp.StatusCode != expected {
		return model.HealthUnhealthy, fmt.Sprintf("GET %s returned %d, want %d", spec.URL, resp.StatusCode, expected), details
	}

	return model.HealthHealthy, "", details
}

// checkLog tails the last window of the log file and counts pattern matches.
func checkLog(spec model.CheckSpec) (model.HealthStatus, string, map[string]string) {
	pattern, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return model.HealthUnknown, fmt.Sprintf("bad pattern: %s", err), nil
	}

	window := spec.WindowLines
	if window <= 0 {
		window = 100
	}
	lines, err := tailFile(spec.LogPath, window)
	if err != nil {
		return model.HealthUnknown, err.Error(), nil
	}

	matches := 0
	for _, line := range lines {
		if pattern.MatchString(line) {
			matches++
		}
	}

	details := map[string]string{"matches": strconv.Itoa(matches)}
	if spec.MaxMatches > 0 && matches >= spec.MaxMatches {
		return model.HealthUnhealthy, fmt.Sprintf("%d log matches for %q", matches, spec.Pattern), details
	}

	return model.HealthHealthy, "", details
}

// tailFile reads the last n lines of a file with a bounded backward read.
func tailFile(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	// Read at most 1KiB per window line as a coarse bound.
	maxBytes := int64(n) * 1024
	offset := info.Size() - maxBytes
	if offset < 0 {
		offset = 0
	}
	if _, err = file.Seek(offset, 0); err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	return lines, scanner.Err()
}

func checkResource(appID string, spec model.CheckSpec, procs processSnapshot) (model.HealthStatus, string, map[string]string) {
	record := procs.GetByApp(appID)
	if record == nil {
		return model.HealthUnknown, "no live process", nil
	}

	cpuPct, memPct, err := processUsage(record.PID)
	if err != nil {
		return model.HealthUnknown, err.Error(), nil
	}

	details := map[string]string{
		"cpu_pct": fmt.Sprintf("%.1f", cpuPct),
		"mem_pct": fmt.Sprintf("%.1f", memPct),
	}
	if spec.CPUThreshold > 0 && cpuPct > spec.CPUThreshold {
		return model.HealthDegraded, fmt.Sprintf("cpu %.1f%% above %.1f%%", cpuPct, spec.CPUThreshold), details
	}
	if spec.MemThreshold > 0 && memPct > spec.MemThreshold {
		return model.HealthDegraded, fmt.Sprintf("mem %.1f%% above %.1f%%", memPct, spec.MemThreshold), details
	}

	return model.HealthHealthy, "", details
}

func checkCustom(ctx context.Context, spec model.CheckSpec, appID string, procs processSnapshot, logger log.FieldLogger) (model.HealthStatus, string, map[string]string) {
	command := spec.Command
	if record := procs.GetByApp(appID); record != nil {
		command = strings.ReplaceAll(command, "{{PID}}", strconv.Itoa(record.PID))
	}

	cmd := exec.Command("sh", "-c", command)
	result, err := exechelper.Run(ctx, cmd, &exechelper.Options{}, logger, func(string, log.FieldLogger) {})
	if err != nil {
		return model.HealthUnhealthy, err.Error(), nil
	}
	if result.ExitCode != 0 {
		return model.HealthUnhealthy, fmt.Sprintf("exit code %d", result.ExitCode), nil
	}

	return model.HealthHealthy, "", nil
}
