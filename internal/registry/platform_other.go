//go:build !windows && !linux

package registry

func newPlatform() (Adapter, error) { return nil, ErrUnsupported }
