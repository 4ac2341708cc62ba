//go:build linux

package registry

func newPlatform() (Adapter, error) { return newSystemd() }
