// Package flash models the flash-write primitive spec.md §1 names as an
// external collaborator: "begin(size)/write(bytes)/finalize(commit)/
// abort()/hasError()". Nothing here talks to real flash hardware — a
// microcontroller's platform layer would; this package gives the core
// something concrete to compile and test against.
package flash

// Sink is the contract the Downloader and Installer share for writing
// into the inactive partition. A Sink is "open" from a successful Begin
// until Finalize or Abort; the core guarantees Abort is called on every
// error exit so a half-written partition is never armed.
type Sink interface {
	// Begin opens the sink for a write of the given total size. Passing
	// 0 means the total size is not known in advance (Content-Length
	// absent).
	Begin(size int) error

	// Write appends p to the partition. It must accept the exact bytes
	// handed to it, in order; partial writes are a Sink bug, not a
	// caller concern.
	Write(p []byte) error

	// Finalize closes and marks the partition as ready to arm. It is
	// only valid to call after a successful Begin and before Abort.
	Finalize(commit bool) error

	// Abort discards whatever has been written so far. Must be safe to
	// call even if Begin was never called or Finalize already ran.
	Abort() error

	// HasError reports whether the sink is in a broken state and should
	// not be used further without a fresh Begin.
	HasError() bool
}
