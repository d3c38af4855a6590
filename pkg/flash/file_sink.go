package flash

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSink is a reference Sink backed by a regular file standing in for
// a flash partition. It follows the teacher's write-to-temp,
// rename-on-commit discipline (updater.go's PrepareUpdate/
// backupCurrentExecutable) instead of writing the partition path
// directly, so a crash mid-write never corrupts anything a caller might
// already be reading.
type FileSink struct {
	partitionPath string
	tempPath      string

	file    *os.File
	err     error
	written int
}

// NewFileSink targets partitionPath as the location the finalized
// partition image should occupy.
func NewFileSink(partitionPath string) *FileSink {
	return &FileSink{
		partitionPath: partitionPath,
		tempPath:      partitionPath + ".new",
	}
}

func (s *FileSink) Begin(size int) error {
	if s.err != nil {
		return s.err
	}
	if s.file != nil {
		s.setErr(fmt.Errorf("sink already open"))
		return s.err
	}
	if err := os.MkdirAll(filepath.Dir(s.tempPath), 0o755); err != nil {
		s.setErr(fmt.Errorf("create partition directory: %w", err))
		return s.err
	}
	f, err := os.OpenFile(s.tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.setErr(fmt.Errorf("open temp partition file: %w", err))
		return s.err
	}
	s.file = f
	s.written = 0
	return nil
}

func (s *FileSink) Write(p []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.file == nil {
		s.setErr(fmt.Errorf("write before begin"))
		return s.err
	}
	n, err := s.file.Write(p)
	s.written += n
	if err != nil {
		s.setErr(fmt.Errorf("write partition data: %w", err))
		return s.err
	}
	return nil
}

func (s *FileSink) Finalize(commit bool) error {
	if s.err != nil {
		return s.err
	}
	if s.file == nil {
		return fmt.Errorf("finalize before begin")
	}
	if err := s.file.Sync(); err != nil {
		s.setErr(fmt.Errorf("sync partition file: %w", err))
		return s.err
	}
	if err := s.file.Close(); err != nil {
		s.setErr(fmt.Errorf("close partition file: %w", err))
		return s.err
	}
	s.file = nil

	if !commit {
		os.Remove(s.tempPath)
		return nil
	}
	if err := os.Rename(s.tempPath, s.partitionPath); err != nil {
		s.setErr(fmt.Errorf("arm partition: %w", err))
		return s.err
	}
	return nil
}

func (s *FileSink) Abort() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	os.Remove(s.tempPath)
	return nil
}

func (s *FileSink) HasError() bool {
	return s.err != nil
}

func (s *FileSink) setErr(err error) {
	s.err = err
}
