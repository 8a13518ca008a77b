package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/flashtable/flashtable"
)

const replHelp = `commands:
  ls                       list tables
  mk NAME SIZE MAX         create table (SIZE bytes/row, MAX rows)
  rm NAME                  delete table
  put NAME HEX             append one row (hex-encoded, SIZE bytes)
  ow NAME IDX HEX          overwrite row IDX
  cat NAME                 dump all rows
  info NAME                show header fields
  count NAME               show row count
  clear NAME MASK          drop rows by bitmask (e.g. 0b01010)
  check NAME               validate data CRC
  repair NAME              recompute and rewrite data CRC
  gc                       compact the device
  erase on|off             toggle erase permission
  stats                    device usage
  help                     this text
  exit / quit / q          leave`

// runRepl drives an interactive session against an open engine.
func runRepl(out, errOut io.Writer, eng *flashtable.Engine, drv *imageDriver) int {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	fmt.Fprintf(out, "flashctl: %s (%d bytes), type 'help' for commands\n",
		drv.path, eng.GetTotalSize())

	for {
		input, err := line.Prompt("flash> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return 0
			}
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "exit", "quit", "q":
			return 0
		case "help":
			fmt.Fprintln(out, replHelp)
		default:
			if err := replDispatch(out, eng, cmd, args); err != nil {
				fmt.Fprintln(errOut, "error:", err)
			}
		}
	}
}

func replDispatch(out io.Writer, eng *flashtable.Engine, cmd string, args []string) error {
	switch cmd {
	case "ls":
		for _, name := range eng.ListTables() {
			fmt.Fprintln(out, name)
		}
		return nil

	case "mk":
		if len(args) != 3 {
			return errors.New("usage: mk NAME SIZE MAX")
		}
		size, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		max, err := parseUint32(args[2])
		if err != nil {
			return err
		}
		return eng.CreateTable(args[0], size, max)

	case "rm":
		if len(args) != 1 {
			return errors.New("usage: rm NAME")
		}
		return eng.DeleteTable(args[0])

	case "put":
		if len(args) != 2 {
			return errors.New("usage: put NAME HEX")
		}
		row, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("bad hex: %w", err)
		}
		return eng.WriteTableData(args[0], row)

	case "ow":
		if len(args) != 3 {
			return errors.New("usage: ow NAME IDX HEX")
		}
		idx, err := parseUint32(args[1])
		if err != nil {
			return err
		}
		row, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("bad hex: %w", err)
		}
		return eng.WriteTableDataByIndex(args[0], idx, row)

	case "cat":
		if len(args) != 1 {
			return errors.New("usage: cat NAME")
		}
		count, err := eng.GetTableCount(args[0])
		if err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			row, err := eng.ReadTableData(args[0], i)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%4d  %s\n", i, hex.EncodeToString(row))
		}
		return nil

	case "info":
		if len(args) != 1 {
			return errors.New("usage: info NAME")
		}
		info, err := eng.GetTableInfo(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: addr=0x%x footprint=%d rows=%d/%d struct=%d crc=0x%08x\n",
			info.Name, info.Addr, info.Size, info.StructNums,
			(info.TableSize-flashtable.TableHeaderSize)/info.StructSize,
			info.StructSize, info.DataCRC)
		return nil

	case "count":
		if len(args) != 1 {
			return errors.New("usage: count NAME")
		}
		count, err := eng.GetTableCount(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, count)
		return nil

	case "clear":
		if len(args) != 2 {
			return errors.New("usage: clear NAME MASK")
		}
		// base 0 accepts decimal, 0x.., and 0b.. spellings.
		mask, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("bad mask: %w", err)
		}
		return eng.ClearTableData(args[0], mask)

	case "check":
		if len(args) != 1 {
			return errors.New("usage: check NAME")
		}
		if err := eng.ValidateTableData(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "repair":
		if len(args) != 1 {
			return errors.New("usage: repair NAME")
		}
		return eng.RepairTable(args[0])

	case "gc":
		before := eng.GetUsedSize()
		if err := eng.GC(); err != nil {
			return err
		}
		fmt.Fprintf(out, "compacted: %d -> %d bytes used\n", before, eng.GetUsedSize())
		return nil

	case "erase":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return errors.New("usage: erase on|off")
		}
		eng.SetEraseAllowed(args[0] == "on")
		return nil

	case "stats":
		fmt.Fprintf(out, "total=%d used=%d free=%d erase_allowed=%v\n",
			eng.GetTotalSize(), eng.GetUsedSize(), eng.GetFreeSize(), eng.IsEraseAllowed())
		return nil

	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return uint32(v), nil
}
