package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultMaxBytes int64 = 100 << 20

// fileSink appends JSON log lines to daily files next to path. For
// logs/walletchat.log it writes logs/walletchat-2025-10-26.log, then
// logs/walletchat-2025-10-26-2.log once a segment would pass maxBytes.
// A fresh segment starts each UTC day, and path is kept as a symlink to
// the segment in use.
type fileSink struct {
	path     string
	maxBytes int64
	now      func() time.Time

	mu   sync.Mutex
	day  string
	seq  int
	f    *os.File
	size int64
}

func newFileSink(path string, maxBytes int64, now func() time.Time) (*fileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &fileSink{path: path, maxBytes: maxBytes, now: now}
	if err := s.roll(0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

// Sync flushes the open segment.
func (s *fileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Sync()
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// roll opens the next segment when the day changed or incoming bytes would
// overflow the current one. A segment that already holds data is never
// split for a single oversized write.
func (s *fileSink) roll(incoming int64) error {
	day := s.now().UTC().Format("2006-01-02")
	switch {
	case s.f == nil || day != s.day:
		s.day, s.seq = day, 1
	case s.size > 0 && s.size+incoming > s.maxBytes:
		s.seq++
	default:
		return nil
	}
	return s.open()
}

func (s *fileSink) open() error {
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
	seg := s.segmentPath()
	f, err := os.OpenFile(seg, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	s.f, s.size = f, 0
	if st, err := f.Stat(); err == nil {
		s.size = st.Size()
	}
	s.link(seg)
	return nil
}

func (s *fileSink) segmentPath() string {
	dir, name := filepath.Split(s.path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	if s.seq > 1 {
		return filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, s.day, s.seq, ext))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, s.day, ext))
}

// link points s.path at seg. Failures only cost the convenience link.
func (s *fileSink) link(seg string) {
	if dest, err := os.Readlink(s.path); err == nil && dest == seg {
		return
	}
	if _, err := os.Lstat(s.path); err == nil {
		_ = os.Remove(s.path)
	}
	_ = os.Symlink(seg, s.path)
}
