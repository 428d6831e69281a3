package job

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coldroot-labs/barc/internal/barcerr"
)

// sideFileName returns the side-file path for a job file: the basename
// prefixed with a dot in the same directory.
func sideFileName(jobPath string) string {
	dir := filepath.Dir(jobPath)
	base := filepath.Base(jobPath)
	return filepath.Join(dir, "."+base)
}

// ReadSideFile parses the side-file for jobPath, if present. The header
// line is `<unix-timestamp> <archive-type-name> <state-name> <error-code>
// <error-text>`; subsequent lines are `<unix-timestamp> <archive-type-name>`,
// one per archive type's most recent completion.
func ReadSideFile(jobPath string) (header ExecutionRecord, perType map[ArchiveType]ExecutionRecord, err error) {
	perType = make(map[ArchiveType]ExecutionRecord)

	f, err := os.Open(sideFileName(jobPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ExecutionRecord{}, perType, nil
		}
		return ExecutionRecord{}, nil, barcerr.Wrap(barcerr.CodeParse, err, "opening side-file for %s", jobPath)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if lineNo == 1 {
			header, err = parseHeaderLine(line)
			if err != nil {
				return ExecutionRecord{}, nil, err
			}
			continue
		}
		rec, err := parseTypeLine(line)
		if err != nil {
			return ExecutionRecord{}, nil, err
		}
		perType[rec.ArchiveType] = rec
	}
	if err := scanner.Err(); err != nil {
		return ExecutionRecord{}, nil, barcerr.Wrap(barcerr.CodeParse, err, "reading side-file for %s", jobPath)
	}

	return header, perType, nil
}

func parseHeaderLine(line string) (ExecutionRecord, error) {
	fields := strings.SplitN(line, " ", 5)
	if len(fields) < 4 {
		return ExecutionRecord{}, barcerr.New(barcerr.CodeParse, "side-file header: too few fields %q", line)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return ExecutionRecord{}, barcerr.Wrap(barcerr.CodeParse, err, "side-file header: bad timestamp")
	}
	at, ok := ParseArchiveType(fields[1])
	if !ok {
		return ExecutionRecord{}, barcerr.New(barcerr.CodeParse, "side-file header: unknown archive type %q", fields[1])
	}
	st := parseStateName(fields[2])
	code, err := strconv.Atoi(fields[3])
	if err != nil {
		return ExecutionRecord{}, barcerr.Wrap(barcerr.CodeParse, err, "side-file header: bad error code")
	}
	errText := ""
	if len(fields) == 5 {
		errText = fields[4]
	}
	return ExecutionRecord{
		Timestamp:   time.Unix(ts, 0).UTC(),
		ArchiveType: at,
		State:       st,
		ErrorCode:   code,
		ErrorText:   errText,
	}, nil
}

func parseTypeLine(line string) (ExecutionRecord, error) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		return ExecutionRecord{}, barcerr.New(barcerr.CodeParse, "side-file entry: bad line %q", line)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return ExecutionRecord{}, barcerr.Wrap(barcerr.CodeParse, err, "side-file entry: bad timestamp")
	}
	at, ok := ParseArchiveType(fields[1])
	if !ok {
		return ExecutionRecord{}, barcerr.New(barcerr.CodeParse, "side-file entry: unknown archive type %q", fields[1])
	}
	return ExecutionRecord{Timestamp: time.Unix(ts, 0).UTC(), ArchiveType: at}, nil
}

func parseStateName(s string) State {
	for st, name := range stateNames {
		if name == s {
			return st
		}
	}
	return StateNone
}

// WriteSideFile writes the side-file for jobPath atomically (write to a
// temp file, then rename), recording header and one line per archive
// type present in perType.
func WriteSideFile(jobPath string, header ExecutionRecord, perType map[ArchiveType]ExecutionRecord) error {
	target := sideFileName(jobPath)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return barcerr.Wrap(barcerr.CodeParse, err, "creating side-file temp for %s", jobPath)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d %s %s %d %s\n",
		header.Timestamp.Unix(), header.ArchiveType, header.State, header.ErrorCode, header.ErrorText)

	for at := ArchiveNormal; at <= ArchiveContinuous; at++ {
		rec, ok := perType[at]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%d %s\n", rec.Timestamp.Unix(), rec.ArchiveType)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "writing side-file for %s", jobPath)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "closing side-file for %s", jobPath)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "renaming side-file for %s", jobPath)
	}
	return nil
}

// ScheduleCatchupAnchor returns the header timestamp as the scheduler's
// catch-up anchor, or now-30 days if the side-file is absent.
func ScheduleCatchupAnchor(header ExecutionRecord, now time.Time) time.Time {
	if header.Timestamp.IsZero() {
		return now.Add(-maxCatchUpWindow)
	}
	return header.Timestamp
}
