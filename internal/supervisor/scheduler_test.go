// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package supervisor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDoer struct {
	runs      int32
	shutdowns int32
}

func (d *countingDoer) Do() error {
	atomic.AddInt32(&d.runs, 1)
	return nil
}

func (d *countingDoer) Shutdown() {
	atomic.AddInt32(&d.shutdowns, 1)
}

func TestSchedulerRunsPeriodically(t *testing.T) {
	doer := &countingDoer{}
	s := NewScheduler(doer, 10*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&doer.runs) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&doer.runs), int32(3))

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&doer.shutdowns))
}

func TestSchedulerTrigger(t *testing.T) {
	doer := &countingDoer{}
	s := NewScheduler(doer, time.Hour)
	defer s.Close()

	s.Trigger()

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&doer.runs) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&doer.runs))
}

func TestSchedulerZeroPeriodNeverRuns(t *testing.T) {
	doer := &countingDoer{}
	s := NewScheduler(doer, 0)

	s.Trigger()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&doer.runs))

	require.NoError(t, s.Close())
}
