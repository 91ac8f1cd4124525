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
package logging

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"

	"www.velocidex.com/golang/velopack/config"
)

var (
	SuppressLogging = false

	// Components a caller can request a logger for.
	GenericComponent  = "Velopack"
	LoaderComponent   = "VelopackLoader"
	FetcherComponent  = "VelopackFetcher"
	PackagerComponent = "VelopackPackager"

	Manager *LogManager

	mu sync.Mutex

	// Log messages may contain markup tags like <green> which are
	// stripped before writing to non-terminal sinks.
	tag_regex = regexp.MustCompile(`<[/]?[a-zA-Z]*?>`)
)

type LogContext struct {
	*logrus.Logger
}

func (self *LogContext) Info(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Info(fmt.Sprintf(format, v...))
	}
}

func (self *LogContext) Warn(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Warn(fmt.Sprintf(format, v...))
	}
}

func (self *LogContext) Error(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Error(fmt.Sprintf(format, v...))
	}
}

func (self *LogContext) Debug(format string, v ...interface{}) {
	if self.Logger != nil {
		self.Logger.Debug(fmt.Sprintf(format, v...))
	}
}

type LogManager struct {
	mu       sync.Mutex
	contexts map[*string]*LogContext

	config_obj *config.Config
}

// GetLogger is the main entry point to the logging subsystem. There
// is one logger per component so components can be filtered in the
// build log.
func (self *LogManager) GetLogger(
	config_obj *config.Config, component *string) *LogContext {
	self.mu.Lock()
	defer self.mu.Unlock()

	ctx, pres := self.contexts[component]
	if !pres {
		ctx = self.makeNewComponent(config_obj, component)
		self.contexts[component] = ctx
	}
	return ctx
}

func (self *LogManager) Reset() {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.contexts = make(map[*string]*LogContext)
}

func (self *LogManager) makeNewComponent(
	config_obj *config.Config, component *string) *LogContext {

	logger := logrus.New()
	logger.Out = ioutil.Discard
	logger.Level = logrus.InfoLevel
	logger.Formatter = &stripTagsFormatter{
		component: *component,
	}

	if config_obj != nil && config_obj.Logging != nil {
		if config_obj.Logging.Verbose {
			logger.Level = logrus.DebugLevel
		}

		var sinks []io.Writer
		if !SuppressLogging {
			sinks = append(sinks, os.Stderr)
		}

		if config_obj.Logging.OutputDirectory != "" {
			fd, err := os.OpenFile(
				filepath.Join(config_obj.Logging.OutputDirectory,
					"velopack_build.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err == nil {
				sinks = append(sinks, fd)
			}
		}

		if len(sinks) > 0 {
			logger.Out = io.MultiWriter(sinks...)
		}

	} else if !SuppressLogging {
		logger.Out = os.Stderr
	}

	return &LogContext{logger}
}

type stripTagsFormatter struct {
	component string
}

func (self *stripTagsFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	msg := tag_regex.ReplaceAllString(entry.Message, "")
	return []byte(fmt.Sprintf("[%s] %s %s %s\n",
		entry.Level.String(),
		entry.Time.UTC().Format("2006-01-02T15:04:05Z"),
		self.component, msg)), nil
}

// InitLogging must be called once the config is loaded and before
// any component requests a logger.
func InitLogging(config_obj *config.Config) error {
	mu.Lock()
	defer mu.Unlock()

	Manager = &LogManager{
		contexts:   make(map[*string]*LogContext),
		config_obj: config_obj,
	}

	if config_obj.Logging != nil &&
		config_obj.Logging.OutputDirectory != "" {
		err := os.MkdirAll(config_obj.Logging.OutputDirectory, 0700)
		if err != nil {
			return err
		}
	}

	return nil
}

func GetLogger(config_obj *config.Config, component *string) *LogContext {
	mu.Lock()
	if Manager == nil {
		Manager = &LogManager{
			contexts: make(map[*string]*LogContext),
		}
	}
	lm := Manager
	mu.Unlock()

	return lm.GetLogger(config_obj, component)
}
