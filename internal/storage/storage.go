// Package storage defines the destination transport contract (an
// out-of-scope storage backend treated as an external collaborator
// reachable through its URI only) plus typed URI parsing and a
// local-filesystem reference adapter.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Scheme identifies a destination's storage backend, 
// "typed storage URI: file://, ftp://, sftp://, webdav(s)://, smb://,
// device://".
type Scheme string

const (
	SchemeFile    Scheme = "file"
	SchemeFTP     Scheme = "ftp"
	SchemeSFTP    Scheme = "sftp"
	SchemeWebDAV  Scheme = "webdav"
	SchemeWebDAVS Scheme = "webdavs"
	SchemeSMB     Scheme = "smb"
	SchemeDevice  Scheme = "device"
)

// Destination is a parsed destination URI: scheme plus the fields every
// non-local backend needs (host/port/path/credentials), built the same
// way the reference buildRepoURL assembles a backend URL from a typed
// config record — inverted here into parsing rather than constructing.
type Destination struct {
	Scheme   Scheme
	Host     string
	Port     int
	Path     string
	User     string
	Password string
	Raw      string
}

// ParseDestination parses a typed destination URI into its components.
func ParseDestination(raw string) (Destination, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("storage: invalid destination URI %q: %w", raw, err)
	}

	scheme := Scheme(u.Scheme)
	switch scheme {
	case SchemeFile, SchemeFTP, SchemeSFTP, SchemeWebDAV, SchemeWebDAVS, SchemeSMB, SchemeDevice:
	default:
		return Destination{}, fmt.Errorf("storage: unsupported destination scheme %q", u.Scheme)
	}

	d := Destination{Scheme: scheme, Host: u.Hostname(), Path: u.Path, Raw: raw}
	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &d.Port)
	}
	if scheme == SchemeFile && d.Path == "" {
		d.Path = u.Opaque
	}
	return d, nil
}

// Sink is the storage backend's write contract: an archive is written as
// a stream under a relative name, and existing archives can be listed,
// moved (for persistence-policy MoveTo), or deleted.
type Sink interface {
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Move(ctx context.Context, name, newName string) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// LocalSink is the reference Sink: a plain directory on the local
// filesystem, used for file:// destinations and as the default in tests.
type LocalSink struct {
	Dir string
}

// NewLocalSink returns a LocalSink rooted at dir, creating it if absent.
func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: creating local sink dir %s: %w", dir, err)
	}
	return &LocalSink{Dir: dir}, nil
}

func (s *LocalSink) resolve(name string) (string, error) {
	clean := filepath.Clean("/" + name)
	return filepath.Join(s.Dir, clean), nil
}

// Create opens name for writing, truncating any existing content.
func (s *LocalSink) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("storage: creating parent dir for %s: %w", name, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", name, err)
	}
	return f, nil
}

// Open opens name for reading.
func (s *LocalSink) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", name, err)
	}
	return f, nil
}

// Move renames name to newName within the sink, used by the persistence
// engine's MoveTo handling.
func (s *LocalSink) Move(ctx context.Context, name, newName string) error {
	src, err := s.resolve(name)
	if err != nil {
		return err
	}
	dst, err := s.resolve(newName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("storage: creating parent dir for %s: %w", newName, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("storage: moving %s to %s: %w", name, newName, err)
	}
	return nil
}

// Delete removes name from the sink.
func (s *LocalSink) Delete(ctx context.Context, name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("storage: deleting %s: %w", name, err)
	}
	return nil
}

// List returns every regular file's relative path under the sink's root.
func (s *LocalSink) List(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.Walk(s.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing %s: %w", s.Dir, err)
	}
	return out, nil
}
