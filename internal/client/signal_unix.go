//go:build !windows

package client

import (
	"os"
	"os/signal"
	"syscall"
)

// SyncSignal requests a drain from a running daemon.
var SyncSignal os.Signal = syscall.SIGUSR1

func notifySyncSignal(ch chan<- os.Signal) func() {
	signal.Notify(ch, syscall.SIGUSR1)
	return func() { signal.Stop(ch) }
}
