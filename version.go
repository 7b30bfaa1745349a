package tracer

import (
	"runtime/debug"
	"strings"
)

// Version is the module version baked into the consuming binary.
// Modules are consumed in source form, so we cannot rely on the
// consumer passing `-ldflags -X`; instead we read the version that
// the Go toolchain records for our module in the build info.
var Version string = "v0.0.0-unset"

func init() {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for k := range bi.Deps {
			if strings.Contains(bi.Deps[k].Path, "froglogic/tracer") {
				Version = bi.Deps[k].Version
				return
			}
		}
	}
}
