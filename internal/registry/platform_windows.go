//go:build windows

package registry

func newPlatform() (Adapter, error) { return newWindows() }
