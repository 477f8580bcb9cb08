package main

import (
	"os"
	"runtime"
)

func init() {
	// The menu-bar loop must own the main thread on macOS.
	runtime.LockOSThread()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
