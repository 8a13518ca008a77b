package main

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
)

// cmdSnapshot exports the backing image to a new file. The write is
// atomic (write-to-temp then rename), so a crashed or interrupted export
// never leaves a truncated snapshot behind.
func cmdSnapshot(out, errOut io.Writer, drv *imageDriver, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: flashctl snapshot OUT")
		return 1
	}
	dst := args[0]

	src, err := os.Open(drv.path)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer src.Close()

	if err := atomic.WriteFile(dst, src); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintf(out, "snapshot written to %s\n", dst)

	return 0
}
