// Package testhook implements the deterministic-testing hooks the
// daemon supports when driven by an external test harness: fixed UUID
// generation, and named/counted test code points gated by
// environment-configured name-list, skip-list, and done-list files.
// None of this is reachable in normal operation unless the controlling
// environment variables are set.
package testhook

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	envFixedIDs = "BARC_TESTHOOK_FIXED_IDS"
	envNameList = "BARC_TESTHOOK_NAMES"
	envSkipList = "BARC_TESTHOOK_SKIP"
	envDoneList = "BARC_TESTHOOK_DONE"
)

var (
	mu         sync.Mutex
	fixedIDs   bool
	nextFixed  uint64
	names      map[string]bool // nil means "all points enabled"
	skip       map[string]bool
	doneFile   string
	doneHits   map[string]int
	configured bool
)

// Configure loads the hook configuration from the environment. It is
// idempotent and safe to call multiple times (e.g. once per test); a
// second call reloads the name/skip lists but does not reset hit counts
// or the fixed-id counter, so a long-running test binary can tighten
// its active set mid-run without losing state.
func Configure() {
	mu.Lock()
	defer mu.Unlock()

	fixedIDs = os.Getenv(envFixedIDs) == "true"
	names = readListFile(os.Getenv(envNameList))
	skip = readListFile(os.Getenv(envSkipList))
	doneFile = os.Getenv(envDoneList)
	if doneHits == nil {
		doneHits = make(map[string]int)
	}
	configured = true
}

func ensureConfigured() {
	if !configured {
		Configure()
	}
}

func readListFile(path string) map[string]bool {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	set := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = true
	}
	return set
}

// FixedIDsEnabled reports whether fixed, deterministic identifiers
// should be used in place of random UUIDs.
func FixedIDsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	ensureConfigured()
	return fixedIDs
}

// NewUUID returns a fresh UUID, or the next value in a deterministic
// all-zero-but-counter sequence when fixed IDs are enabled, so that
// golden-file tests can assert on exact identifiers.
func NewUUID() string {
	mu.Lock()
	defer mu.Unlock()
	ensureConfigured()
	if !fixedIDs {
		return uuid.NewString()
	}
	nextFixed++
	return fmt.Sprintf("00000000-0000-0000-0000-%012d", nextFixed)
}

// Hit reports whether the named test code point should fire: it is
// disabled by default (no name-list configured means no points are
// considered active, keeping production builds inert), enabled by
// listing its name in BARC_TESTHOOK_NAMES, and overridden off by
// listing it in BARC_TESTHOOK_SKIP. Every call that returns true is
// recorded in the done-list file, one name per line, so a harness can
// confirm exactly which points fired during a run.
func Hit(name string) bool {
	mu.Lock()
	defer mu.Unlock()
	ensureConfigured()

	if names == nil || !names[name] {
		return false
	}
	if skip[name] {
		return false
	}

	doneHits[name]++
	appendDoneLine(name)
	return true
}

// HitCount returns how many times name has fired since the process
// started or the last Reset call, regardless of whether the
// done-list file write succeeded.
func HitCount(name string) int {
	mu.Lock()
	defer mu.Unlock()
	ensureConfigured()
	return doneHits[name]
}

func appendDoneLine(name string) {
	if doneFile == "" {
		return
	}
	f, err := os.OpenFile(doneFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, name)
}

// Reset clears all hook state, used between subtests that each want a
// clean fixed-id counter and hit-count map.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	fixedIDs = false
	nextFixed = 0
	names = nil
	skip = nil
	doneFile = ""
	doneHits = make(map[string]int)
	configured = false
}
