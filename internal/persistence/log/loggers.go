package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"chargegrid.ai/internal/sim/world"
)

// Options tune a Stream. Zero values fall back to hourly segments at the
// fastest zstd level.
type Options struct {
	// Rotate is the segment length. Values below one hour are raised to an hour
	// so segment names stay "YYYY-MM-DD-HH".
	Rotate time.Duration
	Level  zstd.EncoderLevel
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Rotate < time.Hour {
		o.Rotate = time.Hour
	}
	if o.Level == 0 {
		o.Level = zstd.SpeedFastest
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// StreamStats is a point-in-time view of a Stream.
type StreamStats struct {
	Segment  string `json:"segment"`
	Lines    uint64 `json:"lines"`
	Segments int    `json:"segments"`
}

// Stream appends JSON values as lines to time-segmented zstd files named
// <name>-<segment>.jsonl.zst under dir. Safe for concurrent use.
type Stream struct {
	dir  string
	name string
	opt  Options

	mu       sync.Mutex
	segment  string
	segments int
	lines    uint64
	file     *os.File
	zw       *zstd.Encoder
	buf      *bufio.Writer
}

func NewStream(dir, name string, opt Options) *Stream {
	return &Stream{dir: dir, name: name, opt: opt.withDefaults()}
}

func (s *Stream) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", s.name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seg := s.opt.Now().UTC().Truncate(s.opt.Rotate).Format("2006-01-02-15")
	if s.buf == nil || seg != s.segment {
		if err := s.openLocked(seg); err != nil {
			return err
		}
	}
	line = append(line, '\n')
	if _, err := s.buf.Write(line); err != nil {
		return fmt.Errorf("%s: write: %w", s.name, err)
	}
	s.lines++
	return s.buf.Flush()
}

// Sync pushes buffered lines through the encoder to the open segment. The
// segment stays open; the zstd frame is only finished on rotate or Close.
func (s *Stream) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if err := s.zw.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamStats{Segment: s.segment, Lines: s.lines, Segments: s.segments}
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked()
}

func (s *Stream) path(seg string) string {
	return filepath.Join(s.dir, s.name+"-"+seg+".jsonl.zst")
}

func (s *Stream) openLocked(seg string) error {
	if err := s.finishLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(s.opt.Level))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file, s.zw, s.buf = f, zw, bufio.NewWriterSize(zw, 128<<10)
	s.segment = seg
	s.segments++
	return nil
}

func (s *Stream) finishLocked() error {
	if s.buf == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	encErr := s.zw.Close()
	fileErr := s.file.Close()
	s.file, s.zw, s.buf = nil, nil, nil
	for _, err := range []error{flushErr, encErr, fileErr} {
		if err != nil {
			return fmt.Errorf("%s: close segment %s: %w", s.name, s.segment, err)
		}
	}
	return nil
}

// TickLogger records one entry per stepped tick under <world>/events.
type TickLogger struct{ *Stream }

func NewTickLogger(worldDir string) *TickLogger {
	return NewTickLoggerWithOptions(worldDir, Options{})
}

func NewTickLoggerWithOptions(worldDir string, opt Options) *TickLogger {
	return &TickLogger{NewStream(filepath.Join(worldDir, "events"), "events", opt)}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.Append(v) }

// AuditLogger records block and output changes under <world>/audit.
type AuditLogger struct{ *Stream }

func NewAuditLogger(worldDir string) *AuditLogger {
	return NewAuditLoggerWithOptions(worldDir, Options{})
}

func NewAuditLoggerWithOptions(worldDir string, opt Options) *AuditLogger {
	return &AuditLogger{NewStream(filepath.Join(worldDir, "audit"), "audit", opt)}
}

func (l *AuditLogger) WriteAudit(v world.AuditEntry) error { return l.Append(v) }
