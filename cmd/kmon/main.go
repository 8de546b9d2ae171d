package main

import (
	"os"

	"github.com/go-delve/kmon/cmd/kmon/cmds"
	"github.com/go-delve/kmon/pkg/version"
)

// Build is the git sha of this binary's build.
var Build string

func main() {
	if Build != "" {
		version.KmonVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
