// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package health

import (
	"github.com/shirou/gopsutil/v3/process"
)

// processUsage reports the cpu and memory percentages of one pid.
func processUsage(pid int) (cpuPct float64, memPct float64, err error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, 0, err
	}

	cpuPct, err = proc.CPUPercent()
	if err != nil {
		return 0, 0, err
	}

	mem, err := proc.MemoryPercent()
	if err != nil {
		return 0, 0, err
	}

	return cpuPct, float64(mem), nil
}
