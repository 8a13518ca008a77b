// Package flashtable implements an embedded key-value / named-table storage
// engine for raw NOR-flash devices: single-bit program, block erase, 0xFF
// erased state. A fixed flash region is managed as a collection of named,
// typed row-tables; each table stores a homogeneous sequence of fixed-size
// records.
//
// Durability across power loss comes from writing new versions of the
// index (the "manager table") in append fashion, and from relocating data
// tables on every mutation so that bits only ever transition 1->0 between
// erases. See [New] and [Engine] for the public surface, format.go for the
// on-flash record layout, and DESIGN.md at the repository root for notes
// on the recovery and compaction corner cases.
//
// flashtable never touches a real flash device directly; it is driven
// entirely through the small [Driver] contract, which callers implement
// (or obtain from an adapter package such as pkg/mtdflash or
// pkg/spinorflash).
//
// # Basic usage
//
//	eng, err := flashtable.New(driver, totalSize, allowErase)
//	if err != nil {
//	    // ErrDriver on unrecoverable I/O, ErrNoSpace if totalSize is too small
//	}
//
//	err = eng.CreateTable("ITEMS", 28, 10)
//	err = eng.AppendTableData("ITEMS", row)
//	row, err := eng.ReadTableData("ITEMS", 0)
//
// # Concurrency
//
// The engine is strictly single-threaded and cooperative: every call
// blocks its caller until it runs to completion, and no [Engine] method is
// safe for concurrent use.
//
// # Error handling
//
// Errors fall into two categories, which [ExitCode] maps to -1 and -2:
//
// Immediate/programming errors ([ErrInvalidArg], [ErrNotFound], [ErrExists],
// [ErrNoSlot], [ErrCorrupt], [ErrDriver]): the call made no changes.
//
// Space, capacity and range errors ([ErrNoSpace], [ErrFull],
// [ErrOutOfRange], [ErrEraseForbidden]). Of these only [ErrNoSpace] can be
// cleared by calling [Engine.GC] and retrying: GC changes neither a
// table's capacity nor its row count, and GC itself returns
// [ErrEraseForbidden] when erasing is not allowed.
package flashtable
