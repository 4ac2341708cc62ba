//go:build !windows

package registry

func newWindows() (Adapter, error) { return nil, ErrUnsupported }
