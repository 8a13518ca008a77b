package flashtable

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by [Engine] methods. Callers should classify
// failures with errors.Is against these, never against a substring of the
// error text; every returned error wraps exactly one of these with
// fmt.Errorf("...: %w", ...) for additional context.
var (
	// ErrInvalidArg covers a nil/oversized buffer, a size mismatch against
	// struct_size, an allocation request of zero or more than one sector,
	// or a batch count of zero.
	ErrInvalidArg = errors.New("flashtable: invalid argument")

	// ErrNotFound is returned when a name does not resolve to a Valid slot.
	ErrNotFound = errors.New("flashtable: table not found")

	// ErrExists is returned by CreateTable when the name is already in use.
	ErrExists = errors.New("flashtable: table already exists")

	// ErrNoSlot is returned by CreateTable when every manager slot is
	// already Valid or Deleted (no Invalid slot to reuse).
	ErrNoSlot = errors.New("flashtable: no free table slot")

	// ErrNoSpace is returned when the allocator or commit path cannot fit
	// a request in the remaining flash. The caller may call [Engine.GC]
	// and retry.
	ErrNoSpace = errors.New("flashtable: out of space")

	// ErrFull is returned by capacity-checked append and batch-append when
	// the table's declared max_structs would be exceeded.
	ErrFull = errors.New("flashtable: table full")

	// ErrOutOfRange is returned when an index is >= struct_nums, or a
	// clear mask has a bit set at or beyond struct_nums.
	ErrOutOfRange = errors.New("flashtable: index out of range")

	// ErrEraseForbidden is returned by [Engine.GC] when erasing is not
	// allowed, and by a manager commit whose sector erase fails. A mutation
	// that meets non-erased bytes while erasing is disabled fails with
	// [ErrDriver] from the program step instead.
	ErrEraseForbidden = errors.New("flashtable: erase required but not allowed")

	// ErrCorrupt is returned by ValidateTableData when a data CRC mismatch
	// is found, and by any table operation whose on-flash header has a bad
	// magic or inconsistent row counts. RepairTable rewrites a mismatched
	// CRC rather than returning it. Discovery never returns it: a corrupt
	// trailing manager record just ends the chain walk.
	ErrCorrupt = errors.New("flashtable: corruption detected")

	// ErrDriver wraps an unrecoverable error surfaced by the underlying
	// [Driver] during read, program, or erase.
	ErrDriver = errors.New("flashtable: driver error")
)

// Code classifies an error for callers that want to branch on error
// class rather than a specific sentinel (e.g. "retry after GC" vs
// "give up").
type Code int

const (
	// CodeOK indicates success; ClassifyError never returns CodeOK for a
	// non-nil error.
	CodeOK Code = iota
	CodeInvalidArg
	CodeNotFound
	CodeExists
	CodeNoSlot
	CodeNoSpace
	CodeFull
	CodeOutOfRange
	CodeEraseForbidden
	CodeCorruption
	CodeDriverError
)

// ClassifyError maps err to its [Code] by walking errors.Is against every
// sentinel in this package. Unrecognized errors classify as
// CodeDriverError, on the assumption that they originated below the
// engine (in a caller-supplied [Driver]).
func ClassifyError(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArg):
		return CodeInvalidArg
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrExists):
		return CodeExists
	case errors.Is(err, ErrNoSlot):
		return CodeNoSlot
	case errors.Is(err, ErrNoSpace):
		return CodeNoSpace
	case errors.Is(err, ErrFull):
		return CodeFull
	case errors.Is(err, ErrOutOfRange):
		return CodeOutOfRange
	case errors.Is(err, ErrEraseForbidden):
		return CodeEraseForbidden
	case errors.Is(err, ErrCorrupt):
		return CodeCorruption
	default:
		return CodeDriverError
	}
}

// ExitCode collapses err into the classic embedded {0, -1, -2} return
// convention. It is meant to be called exactly once, at the
// outermost process boundary (e.g. the flashctl CLI); everything inside
// this package and its callers should branch on the typed error instead.
func ExitCode(err error) int {
	switch ClassifyError(err) {
	case CodeOK:
		return 0
	case CodeNoSpace, CodeFull, CodeOutOfRange, CodeEraseForbidden:
		return -2
	default:
		return -1
	}
}

// wrapf is a small helper so call sites read like
// "return wrapf(ErrInvalidArg, "size %d exceeds sector", size)".
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
