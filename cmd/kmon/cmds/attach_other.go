//go:build !linux || !amd64

package cmds

import (
	"fmt"
	"runtime"
)

func attach(pid int, exe string) (*session, error) {
	return nil, fmt.Errorf("attach is not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
}
