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

// Loads a corpus of artifact definitions from a directory tree or a
// zip archive. Artifact definitions are only loosely structured so
// parsing is deliberately tolerant: a definition that can not be
// decoded as YAML is still scanned for its tool dependencies, and a
// document we can make no sense of at all is recorded as a warning
// rather than failing the load.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-errors/errors"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/constants"
	"www.velocidex.com/golang/velopack/logging"
	"www.velocidex.com/golang/velopack/utils"
)

var (
	SourceNotFound   = errors.New("Source not found")
	ExtractionFailed = errors.New("Archive extraction failed")
)

// A single tool dependency as declared in an artifact definition.
type ToolReference struct {
	Name         string `json:"name"`
	Url          string `json:"url,omitempty"`
	Version      string `json:"version,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
}

// Tool entries may be a full mapping or just a bare tool name.
func (self *ToolReference) UnmarshalYAML(
	unmarshal func(interface{}) error) error {

	var name string
	err := unmarshal(&name)
	if err == nil {
		self.Name = name
		return nil
	}

	// Avoid recursing into this method.
	type rawTool ToolReference
	raw := &rawTool{}
	err = unmarshal(raw)
	if err != nil {
		return err
	}

	*self = ToolReference(*raw)
	return nil
}

// One artifact definition document. Immutable once loaded.
type ArtifactRecord struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`

	// Tool references in the order they appear in the document.
	Tools []ToolReference `json:"tools,omitempty"`

	// Where the document came from, relative to the corpus root.
	Path string `json:"-"`

	// The original document, carried verbatim into packages.
	Raw []byte `json:"-"`
}

type Corpus struct {
	// Artifacts in load order.
	Artifacts []*ArtifactRecord

	// Non fatal per-document parse problems.
	Warnings []string
}

func (self *Corpus) Len() int {
	return len(self.Artifacts)
}

// LoadCorpus reads all artifact definitions under root. The root may
// be a directory tree or a single zip archive. A missing root is
// fatal, as is a corrupt archive - everything else degrades to
// warnings.
func LoadCorpus(config_obj *config.Config, root string) (*Corpus, error) {
	logger := logging.GetLogger(config_obj, &logging.LoaderComponent)

	stat, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", SourceNotFound, root)
	}

	if !stat.IsDir() {
		if !isArchive(root) {
			return nil, fmt.Errorf("%w: %v is not a directory or zip archive",
				SourceNotFound, root)
		}

		root, err = extractArchive(config_obj, root)
		if err != nil {
			return nil, err
		}
	}

	result := &Corpus{}

	err = filepath.Walk(root,
		func(file_path string, info os.FileInfo, err error) error {
			if err != nil {
				return errors.Wrap(err, 0)
			}

			if info.IsDir() {
				return nil
			}

			if !strings.HasSuffix(info.Name(), ".yaml") &&
				!strings.HasSuffix(info.Name(), ".yml") {
				return nil
			}

			data, err := readDefinition(file_path)
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%v: %v", file_path, err))
				return nil
			}

			rel_path, err := filepath.Rel(root, file_path)
			if err != nil {
				rel_path = file_path
			}

			record, warning := parseArtifact(data, rel_path)
			if record == nil {
				result.Warnings = append(result.Warnings, warning)
				logger.Warn("Skipping unparsable artifact %v: %v",
					rel_path, warning)
				return nil
			}

			if warning != "" {
				result.Warnings = append(result.Warnings, warning)
			}

			result.Artifacts = append(result.Artifacts, record)
			return nil
		})
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded <green>%v</> artifacts from %v (%v warnings)",
		len(result.Artifacts), root, len(result.Warnings))

	return result, nil
}

func isArchive(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zip")
}

// Artifact definitions are small - cap reads so a mislabeled blob in
// the corpus can not exhaust memory.
func readDefinition(file_path string) ([]byte, error) {
	fd, err := os.Open(file_path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return utils.ReadAllWithLimit(fd, constants.MAX_MEMORY)
}
