//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyPause relays SIGUSR1, which toggles pause
func notifyPause(c chan<- os.Signal) {
	signal.Notify(c, syscall.SIGUSR1)
}
