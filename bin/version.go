package main

import (
	"fmt"
	"runtime"

	"www.velocidex.com/golang/velopack/constants"
)

var (
	version_command = app.Command(
		"version", "Report the velopack version.")
)

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case version_command.FullCommand():
			fmt.Printf("velopack %v (%v %v/%v)\n",
				constants.VERSION, runtime.Version(),
				runtime.GOOS, runtime.GOARCH)

		default:
			return false
		}
		return true
	})
}
