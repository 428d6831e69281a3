package pipeline_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runninginfo"
)

func parseCount(line string) (runninginfo.Snapshot, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return runninginfo.Snapshot{}, false
	}
	return runninginfo.Snapshot{BytesDone: n}, true
}

func TestCommandWorkerStreamsProgressLines(t *testing.T) {
	w := &pipeline.CommandWorker{
		BinaryPath: "/bin/sh",
		BuildArgs: func(spec pipeline.Spec) []string {
			return []string{"-c", "echo 10; echo 20; echo 30"}
		},
		Parse: parseCount,
	}

	var got []uint64
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Run(ctx, pipeline.Spec{JobUUID: "j1"}, func(s runninginfo.Snapshot) error {
		got = append(got, s.BytesDone)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20, 30}, got)
}

func TestCommandWorkerFailsOnNonZeroExit(t *testing.T) {
	w := &pipeline.CommandWorker{
		BinaryPath: "/bin/sh",
		BuildArgs: func(spec pipeline.Spec) []string {
			return []string{"-c", "echo boom >&2; exit 7"}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Run(ctx, pipeline.Spec{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommandWorkerProgressCallbackCanAbort(t *testing.T) {
	w := &pipeline.CommandWorker{
		BinaryPath: "/bin/sh",
		BuildArgs: func(spec pipeline.Spec) []string {
			return []string{"-c", "echo 1; sleep 5; echo 2"}
		},
		Parse: parseCount,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	calls := 0
	err := w.Run(ctx, pipeline.Spec{}, func(s runninginfo.Snapshot) error {
		calls++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
