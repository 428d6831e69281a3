package main

import (
	"strconv"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"

	"github.com/coldroot-labs/barc/internal/wire"
)

// collectTelemetry reports this slave's host capacity as a set of
// protocol key/value pairs, merged into PING and JOB_INFO replies so
// the master can log slave health without a side channel. Any
// collector that fails is simply omitted; a partial report beats a
// failed handshake.
func collectTelemetry(diskPath string) func() *wire.Args {
	return func() *wire.Args {
		args := wire.NewArgs()

		if n, err := cpu.Counts(true); err == nil {
			args.Set("cpuCount", strconv.Itoa(n))
		}
		if avg, err := load.Avg(); err == nil {
			args.Set("load1", strconv.FormatFloat(avg.Load1, 'f', 2, 64))
			args.Set("load5", strconv.FormatFloat(avg.Load5, 'f', 2, 64))
		}
		if usage, err := disk.Usage(diskPath); err == nil {
			args.Set("diskFreeBytes", strconv.FormatUint(usage.Free, 10))
			args.Set("diskTotalBytes", strconv.FormatUint(usage.Total, 10))
		}

		return args
	}
}
