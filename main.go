package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ironsmile/vkframe/internal/logging"
	"github.com/xlab/closer"
)

func init() {
	// This is needed to arrange that main() runs on main thread.
	// See documentation for functions that are only allowed to be called
	// from the main thread.
	runtime.LockOSThread()
}

func main() {
	defer closer.Close()
	closer.Bind(logging.Close)

	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		closer.Exit(1)
	}
}
