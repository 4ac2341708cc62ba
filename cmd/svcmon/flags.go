package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	EnvFiles   []string
}

// RemoteFlags selects a running daemon instead of a local one-shot monitor.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	RemoteFlags
	JSON bool
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Listen   string
	Registry string
}

// WatchFlags holds flags for the watch command.
type WatchFlags struct {
	Interval time.Duration
}
