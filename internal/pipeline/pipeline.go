// Package pipeline defines the backup/restore execution contract (an
// out-of-scope "backup pipeline" treated as an external collaborator)
// and a process-based reference adapter that exercises it.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/runninginfo"
)

// Spec describes one pipeline invocation: the archive type being
// produced, the resolved source paths, and the destination it writes to.
// Credentials and storage parameters are already resolved by
// internal/storage before reaching the Worker.
type Spec struct {
	JobUUID     string
	ArchiveType job.ArchiveType
	Sources     []string
	Excludes    []string
	Destination string
	DryRun      bool
}

// ProgressFunc receives one progress snapshot at a time. Returning an
// error aborts the pipeline — mirrors the reference restic.ProgressFunc
// cancellation-by-error contract.
type ProgressFunc func(runninginfo.Snapshot) error

// Worker runs one archive or restore operation to completion, streaming
// progress through onProgress. onProgress may be nil.
type Worker interface {
	Run(ctx context.Context, spec Spec, onProgress ProgressFunc) error
}

// LineParser decodes one line of a pipeline command's stdout into a
// progress snapshot. ok is false for lines that carry no progress
// information (banners, warnings) and should be skipped.
type LineParser func(line string) (snap runninginfo.Snapshot, ok bool)

// CommandWorker is the reference Worker: it shells out to an external
// archiver binary and parses its stdout line by line, the same
// exec.Cmd + bufio.Scanner + callback shape as the reference
// restic.Wrapper.runWithProgress.
type CommandWorker struct {
	// BinaryPath is the archiver executable to invoke.
	BinaryPath string
	// BuildArgs turns a Spec into the binary's command-line arguments.
	BuildArgs func(spec Spec) []string
	// Parse decodes one stdout line into a progress snapshot.
	Parse LineParser
}

// Run executes the configured binary for spec, forwarding parsed
// progress to onProgress. A non-zero exit status is returned as an error
// with the captured stderr attached.
func (w *CommandWorker) Run(ctx context.Context, spec Spec, onProgress ProgressFunc) error {
	args := w.BuildArgs(spec)
	cmd := exec.CommandContext(ctx, w.BinaryPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipeline: opening stdout pipe: %w", err)
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pipeline: starting %s: %w", w.BinaryPath, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || w.Parse == nil {
			continue
		}
		snap, ok := w.Parse(line)
		if !ok {
			continue
		}
		if onProgress != nil {
			if err := onProgress(snap); err != nil {
				_ = cmd.Process.Kill()
				return fmt.Errorf("pipeline: progress callback aborted run: %w", err)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pipeline: %s failed: %w\n%s", w.BinaryPath, err, strings.TrimSpace(stderrBuf.String()))
	}
	return nil
}
