package splits

import (
	"context"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
)

// ReadStats summarizes one partition read
type ReadStats struct {
	Location string `json:"location"`
	Files    int    `json:"files"`
	Bytes    int64  `json:"bytes"`
}

// Reader reads the data of one partition
type Reader interface {
	Read(ctx context.Context, table *inputjob.TableInfo, part *inputjob.PartInfo, props inputjob.Properties) (ReadStats, error)
}

// Reader names accepted by NewReader
const (
	ReaderStat = "stat"
	ReaderNoop = "noop"
)

// NewReader returns the reader registered under name
func NewReader(name string) (Reader, error) {
	switch name {
	case ReaderStat:
		return StatReader{}, nil
	case ReaderNoop:
		return NoopReader{}, nil
	default:
		return nil, errors.WithHintf(errors.NewInvalidRequestError("unknown split reader %q", name),
			"use %q or %q", ReaderStat, ReaderNoop)
	}
}

// SwitchReader delegates to a reader that can be replaced while workers
// are reading, e.g. when am.toml changes splits.reader.
type SwitchReader struct {
	current atomic.Pointer[Reader]
}

// NewSwitchReader starts out delegating to r
func NewSwitchReader(r Reader) *SwitchReader {
	s := &SwitchReader{}
	s.Set(r)
	return s
}

// Set replaces the delegate. Reads already in progress finish on the old one.
func (s *SwitchReader) Set(r Reader) {
	s.current.Store(&r)
}

// Read implements Reader
func (s *SwitchReader) Read(ctx context.Context, table *inputjob.TableInfo, part *inputjob.PartInfo, props inputjob.Properties) (ReadStats, error) {
	return (*s.current.Load()).Read(ctx, table, part, props)
}

// NoopReader reports the partition location without touching storage
type NoopReader struct{}

// Read implements Reader
func (NoopReader) Read(_ context.Context, _ *inputjob.TableInfo, part *inputjob.PartInfo, _ inputjob.Properties) (ReadStats, error) {
	return ReadStats{Location: part.Location}, nil
}

// StatReader walks a partition on the local filesystem and counts its data
// files. Locations may be file:// URIs or plain paths. Files whose name
// starts with "." or "_" (markers such as _SUCCESS) are not data.
type StatReader struct{}

// Read implements Reader
func (StatReader) Read(ctx context.Context, _ *inputjob.TableInfo, part *inputjob.PartInfo, _ inputjob.Properties) (ReadStats, error) {
	root, err := localPath(part.Location)
	if err != nil {
		return ReadStats{}, err
	}

	stats := ReadStats{Location: part.Location}
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		hidden := path != root && isHidden(entry.Name())
		if entry.IsDir() {
			if hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += info.Size()
		return nil
	})

	if errors.Is(err, fs.ErrNotExist) {
		return ReadStats{}, errors.WithHint(
			errors.Wrapf(errors.ErrNotFound, "partition location %s does not exist", part.Location),
			"the catalog may be out of date; re-plan the job after refreshing it")
	}
	if err != nil {
		return ReadStats{}, errors.Wrapf(err, "failed to read partition at %s", part.Location)
	}
	return stats, nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// localPath turns a file:// URI or a bare path into a filesystem path
func localPath(location string) (string, error) {
	if location == "" {
		return "", errors.NewInvalidRequestError("partition has no location")
	}
	if !strings.Contains(location, "://") {
		return filepath.Clean(location), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "malformed partition location %q: %v", location, err)
	}
	if u.Scheme != "file" {
		return "", errors.WithHint(
			errors.NewInvalidRequestError("the stat reader cannot read %s locations (%s)", u.Scheme, location),
			"use splits.reader = \"noop\" to plan jobs over remote storage")
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", errors.NewInvalidRequestError("file location %s names remote host %s", location, u.Host)
	}
	return filepath.FromSlash(u.Path), nil
}
