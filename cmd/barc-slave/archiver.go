package main

import (
	"strconv"
	"strings"

	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runninginfo"
)

// buildArchiverArgs and parseArchiverLine mirror cmd/barcd's adapter:
// both daemons shell out to the same out-of-scope archiver binary, just
// triggered from different sides of the session protocol.
func buildArchiverArgs(spec pipeline.Spec) []string {
	args := []string{
		"create",
		"--job", spec.JobUUID,
		"--archive-type", spec.ArchiveType.String(),
		"--destination", spec.Destination,
	}
	for _, src := range spec.Sources {
		args = append(args, "--include", src)
	}
	for _, exc := range spec.Excludes {
		args = append(args, "--exclude", exc)
	}
	if spec.DryRun {
		args = append(args, "--dry-run")
	}
	return args
}

func parseArchiverLine(line string) (runninginfo.Snapshot, bool) {
	if !strings.Contains(line, "filesDone=") {
		return runninginfo.Snapshot{}, false
	}

	fields := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = kv[1]
	}

	return runninginfo.Snapshot{
		FilesDone:   parseUintField(fields["filesDone"]),
		FilesTotal:  parseUintField(fields["filesTotal"]),
		BytesDone:   parseUintField(fields["bytesDone"]),
		BytesTotal:  parseUintField(fields["bytesTotal"]),
		CurrentFile: fields["currentFile"],
	}, true
}

func parseUintField(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
