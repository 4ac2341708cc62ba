package server

import (
	"github.com/labstack/echo/v4"
)

// MountEcho serves the router's endpoints from an existing echo server. The
// router's base path must equal the prefix it is mounted under.
func MountEcho(e *echo.Echo, r *Router) {
	h := echo.WrapHandler(r.Handler())
	base := r.BasePath()
	if base == "" {
		e.Any("/*", h)
		return
	}
	e.Any(base, h)
	e.Any(base+"/*", h)
}
