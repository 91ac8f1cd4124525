/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"os"

	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"www.velocidex.com/golang/velopack/logging"
	"www.velocidex.com/golang/velopack/utils/tempfile"
)

type CommandHandler func(command string) bool

var (
	app = kingpin.New("velopack",
		"Assemble Velociraptor deployment packages from an artifact corpus.")

	config_path = app.Flag("config", "The configuration file.").
			Short('c').Envar("VELOPACK_CONFIG").String()

	verbose_flag = app.Flag(
		"verbose", "Enable verbose logging.").Short('v').
		Default("false").Bool()

	tmpdir_flag = app.Flag(
		"tmpdir", "Write scratch files to this directory.").String()

	command_handlers []CommandHandler
)

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate).DefaultEnvars()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if !*verbose_flag {
		logging.SuppressLogging = true
	}

	if *tmpdir_flag != "" {
		err := tempfile.SetTempDir(*tmpdir_flag)
		kingpin.FatalIfError(err, "Invalid tmpdir")
	}

	defer tempfile.Cleanup()

	for _, command_handler := range command_handlers {
		if command_handler(command) {
			break
		}
	}
}
