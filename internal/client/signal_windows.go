//go:build windows

package client

import "os"

// SyncSignal is unset on Windows; use the trigger file or the local API.
var SyncSignal os.Signal

func notifySyncSignal(ch chan<- os.Signal) func() {
	return func() {}
}
