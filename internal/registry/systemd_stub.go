//go:build !linux

package registry

func newSystemd() (Adapter, error) { return nil, ErrUnsupported }
