// Package wire implements the line-oriented framing used by the session
// protocol: UTF-8 lines terminated by LF, quoted strings with backslash
// escaping, and explicit prefix-based classification of a line into a
// greeting, a command, or a result.
//
// Classification is deliberately done with plain prefix/field parsing,
// not regular expressions.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// escapeTable maps the control characters the protocol can carry inside a
// quoted string to their single-letter escape forms:
// {0,BEL,BS,TAB,LF,VT,FF,CR,ESC}.
var escapeTable = map[byte]byte{
	0x00: '0',
	0x07: 'a',
	0x08: 'b',
	0x09: 't',
	0x0A: 'n',
	0x0B: 'v',
	0x0C: 'f',
	0x0D: 'r',
	0x1B: 'e',
}

var unescapeTable = func() map[byte]byte {
	m := make(map[byte]byte, len(escapeTable))
	for raw, esc := range escapeTable {
		m[esc] = raw
	}
	return m
}()

// QuoteString renders s as a double-quoted argument value, escaping the
// quote character, the backslash escape character itself, and every
// control character in escapeTable.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			if esc, ok := escapeTable[c]; ok {
				b.WriteByte('\\')
				b.WriteByte(esc)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// NeedsQuoting reports whether a raw value must be wrapped with
// QuoteString to round-trip safely (contains whitespace, '=', or a quote).
func NeedsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t\"=")
}

// unquote parses a double-quoted string starting at s[0] == '"' and
// returns the decoded value plus the number of bytes consumed from s
// (including both quote characters).
func unquote(s string) (string, int, error) {
	if len(s) == 0 || s[0] != '"' {
		return "", 0, fmt.Errorf("wire: unquote: missing opening quote")
	}
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == '"':
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(s):
			next := s[i+1]
			if next == '"' || next == '\\' {
				b.WriteByte(next)
			} else if raw, ok := unescapeTable[next]; ok {
				b.WriteByte(raw)
			} else {
				// Unknown escape: keep both characters verbatim, matching
				// the original server_io.c behaviour of tolerating unknown
				// sequences rather than failing the whole line.
				b.WriteByte(c)
				b.WriteByte(next)
			}
			i += 2
			continue
		default:
			b.WriteByte(c)
		}
		i++
	}
	return "", 0, fmt.Errorf("wire: unquote: missing closing quote")
}

// Args is an ordered key/value argument list, as carried by commands and
// the data portion of results. Order is preserved because some commands
// (e.g. config dumps) are order-sensitive for display.
type Args struct {
	keys   []string
	values map[string]string
}

// NewArgs returns an empty Args ready for Set calls.
func NewArgs() *Args {
	return &Args{values: make(map[string]string)}
}

// Set adds or overwrites a key, preserving first-insertion order.
func (a *Args) Set(key, value string) *Args {
	if _, exists := a.values[key]; !exists {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
	return a
}

// Get returns the value for key and whether it was present.
func (a *Args) Get(key string) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

// GetString returns the value for key, or def if absent.
func (a *Args) GetString(key, def string) string {
	if v, ok := a.values[key]; ok {
		return v
	}
	return def
}

// GetInt parses the value for key as a decimal integer, or returns def
// if absent or unparsable.
func (a *Args) GetInt(key string, def int64) int64 {
	v, ok := a.values[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// GetBool parses the value for key per boolean sets.
func (a *Args) GetBool(key string, def bool) bool {
	v, ok := a.values[key]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// Keys returns the keys in insertion order.
func (a *Args) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Encode renders the args as "key1=value1 key2=\"value 2\" ...", quoting
// any value that needs it.
func (a *Args) Encode() string {
	parts := make([]string, 0, len(a.keys))
	for _, k := range a.keys {
		v := a.values[k]
		if NeedsQuoting(v) {
			parts = append(parts, k+"="+QuoteString(v))
		} else {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// ParseArgs parses a "key1=value1 key2=\"value 2\"" fragment into Args.
func ParseArgs(s string) (*Args, error) {
	a := NewArgs()
	i := 0
	n := len(s)
	for i < n {
		for i < n && s[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("wire: parse args: missing '=' near %q", s[i:])
		}
		key := s[i : i+eq]
		i += eq + 1
		if i < n && s[i] == '"' {
			val, consumed, err := unquote(s[i:])
			if err != nil {
				return nil, fmt.Errorf("wire: parse args: key %q: %w", key, err)
			}
			a.Set(key, val)
			i += consumed
		} else {
			start := i
			for i < n && s[i] != ' ' {
				i++
			}
			a.Set(key, s[start:i])
		}
	}
	return a, nil
}

// LineKind classifies a parsed protocol line.
type LineKind int

const (
	LineUnknown LineKind = iota
	LineGreeting
	LineCommand
	LineResult
)

// Classify inspects the first token of a line and returns its kind. A
// greeting line always begins with the literal token "SESSION". A command
// or result line begins with a decimal id; Classify tells the two apart by
// the second token: "0" or "1" (a completed flag) means a result, anything
// else a command name. Callers that already know which they expect can use
// ParseCommand or ParseResult directly.
func Classify(line string) LineKind {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "SESSION ") || line == "SESSION" {
		return LineGreeting
	}
	fields := strings.SplitN(line, " ", 2)
	if len(fields) == 0 {
		return LineUnknown
	}
	if _, err := strconv.ParseUint(fields[0], 10, 64); err != nil {
		return LineUnknown
	}
	if len(fields) < 2 {
		return LineUnknown
	}
	rest := strings.TrimLeft(fields[1], " ")
	// A result's second field is a completed flag: exactly "0" or "1"
	// followed by a space and a decimal error code. A command's second
	// field is a bare name token (letters/digits/underscore).
	second := strings.SplitN(rest, " ", 2)[0]
	if second == "0" || second == "1" {
		return LineResult
	}
	return LineCommand
}

// Command is a parsed command line: "<id> <NAME> key=value ...".
type Command struct {
	ID   uint64
	Name string
	Args *Args
}

// ParseCommand parses a full command line.
func ParseCommand(line string) (*Command, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return nil, fmt.Errorf("wire: parse command: too few fields in %q", line)
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: parse command: bad id: %w", err)
	}
	name := fields[1]
	var rest string
	if len(fields) == 3 {
		rest = fields[2]
	}
	args, err := ParseArgs(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: parse command %s: %w", name, err)
	}
	return &Command{ID: id, Name: name, Args: args}, nil
}

// Encode renders the command back to wire form.
func (c *Command) Encode() string {
	if c.Args == nil || len(c.Args.Keys()) == 0 {
		return fmt.Sprintf("%d %s", c.ID, c.Name)
	}
	return fmt.Sprintf("%d %s %s", c.ID, c.Name, c.Args.Encode())
}

// Result is a parsed result line: "<id> <completed> <errorCode> key=value ...".
type Result struct {
	ID        uint64
	Completed bool
	ErrorCode uint64
	Args      *Args
}

// ParseResult parses a full result line.
func ParseResult(line string) (*Result, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.SplitN(line, " ", 4)
	if len(fields) < 3 {
		return nil, fmt.Errorf("wire: parse result: too few fields in %q", line)
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: parse result: bad id: %w", err)
	}
	completedFlag, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil || completedFlag > 1 {
		return nil, fmt.Errorf("wire: parse result: bad completed flag %q", fields[1])
	}
	errCode, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: parse result: bad error code: %w", err)
	}
	var rest string
	if len(fields) == 4 {
		rest = fields[3]
	}
	args, err := ParseArgs(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: parse result: %w", err)
	}
	return &Result{ID: id, Completed: completedFlag == 1, ErrorCode: errCode, Args: args}, nil
}

// Encode renders the result back to wire form.
func (r *Result) Encode() string {
	completed := 0
	if r.Completed {
		completed = 1
	}
	if r.Args == nil || len(r.Args.Keys()) == 0 {
		return fmt.Sprintf("%d %d %d", r.ID, completed, r.ErrorCode)
	}
	return fmt.Sprintf("%d %d %d %s", r.ID, completed, r.ErrorCode, r.Args.Encode())
}

// Greeting is the parsed server->client SESSION line.
type Greeting struct {
	SessionID    string
	EncryptTypes []string
	N            string // RSA modulus, decimal, empty if RSA unavailable
	E            string // RSA exponent, decimal, empty if RSA unavailable
}

// ParseGreeting parses "SESSION id=<hex> encryptTypes=<csv> [n=..] [e=..]".
func ParseGreeting(line string) (*Greeting, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "SESSION") {
		return nil, fmt.Errorf("wire: parse greeting: missing SESSION prefix")
	}
	rest := strings.TrimPrefix(line, "SESSION")
	rest = strings.TrimLeft(rest, " ")
	args, err := ParseArgs(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: parse greeting: %w", err)
	}
	id, ok := args.Get("id")
	if !ok {
		return nil, fmt.Errorf("wire: parse greeting: missing id")
	}
	typesCSV, ok := args.Get("encryptTypes")
	if !ok {
		return nil, fmt.Errorf("wire: parse greeting: missing encryptTypes")
	}
	n, _ := args.Get("n")
	e, _ := args.Get("e")
	return &Greeting{
		SessionID:    id,
		EncryptTypes: strings.Split(typesCSV, ","),
		N:            n,
		E:            e,
	}, nil
}

// Encode renders the greeting back to wire form.
func (g *Greeting) Encode() string {
	a := NewArgs().Set("id", g.SessionID).Set("encryptTypes", strings.Join(g.EncryptTypes, ","))
	if g.N != "" {
		a.Set("n", g.N)
	}
	if g.E != "" {
		a.Set("e", g.E)
	}
	return "SESSION " + a.Encode()
}
