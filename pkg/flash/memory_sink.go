package flash

import "fmt"

// MemorySink is an in-memory Sink test double with failure injection,
// used by pkg/otaagent's downloader and installer tests instead of
// touching a real filesystem.
type MemorySink struct {
	Data []byte

	open      bool
	err       error
	finalized bool
	committed bool

	FailOnBegin    error
	FailOnWrite    error
	FailOnFinalize error

	BeginCalls    int
	WriteCalls    int
	FinalizeCalls int
	AbortCalls    int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Begin(size int) error {
	s.BeginCalls++
	if s.err != nil {
		return s.err
	}
	if s.FailOnBegin != nil {
		s.err = s.FailOnBegin
		return s.err
	}
	s.open = true
	s.Data = s.Data[:0]
	return nil
}

func (s *MemorySink) Write(p []byte) error {
	s.WriteCalls++
	if s.err != nil {
		return s.err
	}
	if !s.open {
		s.err = fmt.Errorf("write before begin")
		return s.err
	}
	if s.FailOnWrite != nil {
		s.err = s.FailOnWrite
		return s.err
	}
	s.Data = append(s.Data, p...)
	return nil
}

func (s *MemorySink) Finalize(commit bool) error {
	s.FinalizeCalls++
	if s.err != nil {
		return s.err
	}
	if !s.open {
		return fmt.Errorf("finalize before begin")
	}
	if s.FailOnFinalize != nil {
		s.err = s.FailOnFinalize
		return s.err
	}
	s.open = false
	s.finalized = true
	s.committed = commit
	return nil
}

func (s *MemorySink) Abort() error {
	s.AbortCalls++
	s.open = false
	s.finalized = false
	s.committed = false
	return nil
}

func (s *MemorySink) HasError() bool {
	return s.err != nil
}

// Committed reports whether Finalize(true) has run without a subsequent
// Abort — the assertion tests use to confirm a partition was armed.
func (s *MemorySink) Committed() bool {
	return s.finalized && s.committed
}
