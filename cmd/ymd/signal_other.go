//go:build windows

package main

import "os"

// notifyPause is a no-op: there is no user signal to toggle pause with
func notifyPause(chan<- os.Signal) {}
