package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coldroot-labs/barc/internal/barcerr"
)

// Entry is one `key = value` line, with any `# ...` comment block that
// immediately preceded it in the source file. A run of `# ...` lines
// immediately preceding a key is attached to that key and re-emitted
// on save.
type Entry struct {
	Key     string
	Value   string
	Comment []string // comment lines, without the leading "# "
}

// Section is a named block (`[schedule <id>]` or `[persistence <id>]`)
// grouping a sub-record's entries.
type Section struct {
	Kind    string // "schedule" or "persistence"
	ID      string
	Entries []Entry
}

// Document is a parsed config file: top-level entries plus zero or more
// sections, in source order.
type Document struct {
	Entries  []Entry
	Sections []Section
}

// Get returns the first top-level entry's value for key.
func (d *Document) Get(key string) (string, bool) {
	for _, e := range d.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// GetAll returns every top-level value for key, in file order — used for
// append-only list fields.
func (d *Document) GetAll(key string) []string {
	var out []string
	for _, e := range d.Entries {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	return out
}

// Set adds a top-level entry, carrying comment as its preceding comment
// block.
func (d *Document) Set(key, value string, comment ...string) {
	d.Entries = append(d.Entries, Entry{Key: key, Value: value, Comment: comment})
}

// Parse reads a config document from r, attaching immediately-preceding
// `#` comment runs to the following key and grouping `[kind id]` blocks
// into Sections.
func Parse(r io.Reader) (*Document, error) {
	doc := &Document{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pendingComment []string
	var currentSection *Section

	flushSection := func() {
		if currentSection != nil {
			doc.Sections = append(doc.Sections, *currentSection)
			currentSection = nil
		}
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			pendingComment = append(pendingComment, strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			header := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			if header == "end" {
				flushSection()
				pendingComment = nil
				continue
			}
			flushSection()
			fields := strings.SplitN(header, " ", 2)
			kind := fields[0]
			id := ""
			if len(fields) == 2 {
				id = strings.TrimSpace(fields[1])
			}
			currentSection = &Section{Kind: kind, ID: id}
			pendingComment = nil
			continue
		}

		key, value, err := splitKeyValue(line)
		if err != nil {
			return nil, barcerr.New(barcerr.CodeParse, "line %d: %v", lineNo, err).WithSubcode(lineNo)
		}

		entry := Entry{Key: key, Value: value, Comment: pendingComment}
		pendingComment = nil

		if currentSection != nil {
			currentSection.Entries = append(currentSection.Entries, entry)
		} else {
			doc.Entries = append(doc.Entries, entry)
		}
	}
	flushSection()
	if err := scanner.Err(); err != nil {
		return nil, barcerr.Wrap(barcerr.CodeParse, err, "reading config")
	}
	return doc, nil
}

func splitKeyValue(line string) (key, value string, err error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", fmt.Errorf("missing '=' in %q", line)
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", fmt.Errorf("empty key in %q", line)
	}
	return key, value, nil
}

// Write serializes the document, one key per line with its comment block
// re-emitted, sections re-opened, in source order.
func (d *Document) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range d.Entries {
		writeEntry(bw, e)
	}
	for _, sec := range d.Sections {
		header := sec.Kind
		if sec.ID != "" {
			header += " " + sec.ID
		}
		fmt.Fprintf(bw, "[%s]\n", header)
		for _, e := range sec.Entries {
			writeEntry(bw, e)
		}
	}
	return bw.Flush()
}

func writeEntry(w *bufio.Writer, e Entry) {
	for _, c := range e.Comment {
		fmt.Fprintf(w, "# %s\n", c)
	}
	fmt.Fprintf(w, "%s = %s\n", e.Key, e.Value)
}

// WriteAtomic serializes the document to a temp file in the same
// directory as path, then renames it into place with mode 0600: the
// write is atomic at the file level and permissions never go through a
// wider-than-owner window.
func (d *Document) WriteAtomic(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return barcerr.Wrap(barcerr.CodeParse, err, "creating temp config file for %s", path)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "writing config to %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "closing %s", tmp)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "chmod %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return barcerr.Wrap(barcerr.CodeParse, err, "renaming %s to %s", tmp, path)
	}
	return nil
}
