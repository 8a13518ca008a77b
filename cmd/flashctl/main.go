// flashctl is a diagnostic tool for flashtable images.
//
// Usage:
//
//	flashctl [flags] <command> [args]
//
// Flags (defaults come from .flashctl.json when present):
//
//	--image PATH       backing image file (created erased if missing)
//	--size N           device size in bytes
//	--erase-allowed    permit sector erases
//
// Commands:
//
//	ls                 list tables
//	info NAME          show one table's header fields
//	cat NAME           hex-dump every row of a table
//	gc                 compact the device
//	snapshot OUT       atomically export the image to OUT
//	repl               interactive session
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/flashtable/flashtable"
)

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args[1:]))
}

// exitCode folds an engine error into the process exit status. The
// engine's {0,-1,-2} convention maps onto shell-friendly {0,1,2}.
func exitCode(err error) int {
	return -flashtable.ExitCode(err)
}

func run(out, errOut io.Writer, args []string) int {
	cfg, err := LoadConfig(ConfigFileName)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	flags := flag.NewFlagSet("flashctl", flag.ContinueOnError)
	flags.SetOutput(errOut)
	image := flags.String("image", cfg.ImagePath, "backing image file")
	size := flags.Uint32("size", cfg.TotalSize, "device size in bytes")
	eraseAllowed := flags.Bool("erase-allowed", cfg.EraseAllowed, "permit sector erases")

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() == 0 {
		fmt.Fprintln(errOut, "error: missing command (ls, info, cat, gc, snapshot, repl)")
		return 1
	}

	drv := newImageDriver(*image, *size)
	defer drv.Close()

	eng, err := flashtable.New(drv, *size, *eraseAllowed)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return exitCode(err)
	}

	cmd, rest := flags.Arg(0), flags.Args()[1:]
	switch cmd {
	case "ls":
		return cmdLs(out, eng)
	case "info":
		return cmdInfo(out, errOut, eng, rest)
	case "cat":
		return cmdCat(out, errOut, eng, rest)
	case "gc":
		return cmdGC(out, errOut, eng)
	case "snapshot":
		return cmdSnapshot(out, errOut, drv, rest)
	case "repl":
		return runRepl(out, errOut, eng, drv)
	default:
		fmt.Fprintf(errOut, "error: unknown command %q\n", cmd)
		return 1
	}
}

func cmdLs(out io.Writer, eng *flashtable.Engine) int {
	for _, name := range eng.ListTables() {
		fmt.Fprintln(out, name)
	}
	return 0
}

func cmdInfo(out, errOut io.Writer, eng *flashtable.Engine, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: flashctl info NAME")
		return 1
	}

	info, err := eng.GetTableInfo(args[0])
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return exitCode(err)
	}

	fmt.Fprintf(out, "name:        %s\n", info.Name)
	fmt.Fprintf(out, "addr:        0x%08x\n", info.Addr)
	fmt.Fprintf(out, "footprint:   %d bytes\n", info.Size)
	fmt.Fprintf(out, "struct_size: %d\n", info.StructSize)
	fmt.Fprintf(out, "rows:        %d\n", info.StructNums)
	fmt.Fprintf(out, "capacity:    %d\n", (info.TableSize-flashtable.TableHeaderSize)/info.StructSize)
	fmt.Fprintf(out, "data_crc:    0x%08x\n", info.DataCRC)

	return 0
}

func cmdCat(out, errOut io.Writer, eng *flashtable.Engine, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: flashctl cat NAME")
		return 1
	}
	name := args[0]

	count, err := eng.GetTableCount(name)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return exitCode(err)
	}

	for i := uint32(0); i < count; i++ {
		row, err := eng.ReadTableData(name, i)
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return exitCode(err)
		}
		fmt.Fprintf(out, "%4d  %s\n", i, hex.EncodeToString(row))
	}

	return 0
}

func cmdGC(out, errOut io.Writer, eng *flashtable.Engine) int {
	before := eng.GetUsedSize()

	if err := eng.GC(); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return exitCode(err)
	}

	fmt.Fprintf(out, "compacted: %d -> %d bytes used\n", before, eng.GetUsedSize())

	return 0
}
