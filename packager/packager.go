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

// Assembles deployment packages from a resolved corpus and tool
// database. The server package carries every downloaded tool binary
// so the frontend can serve them locally; the client package carries
// only artifact documents and a manifest pointing at the server.
// Packages are staged and renamed into place so an aborted build
// never leaves a partial package directory behind.
package packager

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-errors/errors"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/constants"
	"www.velocidex.com/golang/velopack/corpus"
	"www.velocidex.com/golang/velopack/inventory"
	"www.velocidex.com/golang/velopack/logging"
	"www.velocidex.com/golang/velopack/utils"
)

var (
	IncompletePackage = errors.New("Incomplete package")
)

type PackageKind string

const (
	SERVER_PACKAGE PackageKind = "server"
	CLIENT_PACKAGE PackageKind = "client"
)

// A produced package. Never mutated after creation - a rebuild makes
// a new one.
type Package struct {
	Kind PackageKind `json:"kind"`
	Path string      `json:"path"`

	ArtifactCount int `json:"artifact_count"`

	// Tool binaries bundled (server packages only).
	Tools []string `json:"tools,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

type Assembler struct {
	config_obj *config.Config
	collection *corpus.Corpus
	db         *inventory.ToolDatabase
}

func NewAssembler(config_obj *config.Config,
	collection *corpus.Corpus,
	db *inventory.ToolDatabase) *Assembler {
	return &Assembler{
		config_obj: config_obj,
		collection: collection,
		db:         db,
	}
}

// Build produces one package per requested kind under output_root.
func (self *Assembler) Build(ctx context.Context, output_root string) (
	[]*Package, error) {

	var kinds []PackageKind
	switch self.config_obj.PackageKind {
	case "server":
		kinds = []PackageKind{SERVER_PACKAGE}
	case "client":
		kinds = []PackageKind{CLIENT_PACKAGE}
	default:
		kinds = []PackageKind{SERVER_PACKAGE, CLIENT_PACKAGE}
	}

	err := os.MkdirAll(output_root, 0700)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	var result []*Package
	for _, kind := range kinds {
		pkg, err := self.buildPackage(ctx, kind, output_root)
		if err != nil {
			return nil, err
		}
		result = append(result, pkg)
	}

	return result, nil
}

func (self *Assembler) buildPackage(ctx context.Context,
	kind PackageKind, output_root string) (*Package, error) {

	logger := logging.GetLogger(self.config_obj, &logging.PackagerComponent)

	dir_name := constants.CLIENT_PACKAGE_NAME
	if kind == SERVER_PACKAGE {
		dir_name = constants.SERVER_PACKAGE_NAME
	}

	pkg := &Package{
		Kind: kind,
		Path: filepath.Join(output_root, dir_name),
	}

	// Broken tools only matter for the server package - clients never
	// bundle binaries. Strict validation happens before anything
	// touches the disk.
	if kind == SERVER_PACKAGE {
		broken := self.brokenTools()
		if self.config_obj.ValidateDownloads && len(broken) > 0 {
			return nil, fmt.Errorf(
				"%w: required tools failed to download: %v",
				IncompletePackage, strings.Join(broken, ", "))
		}

		for _, name := range broken {
			pkg.Warnings = append(pkg.Warnings,
				fmt.Sprintf("tool %v is not available and was omitted", name))
		}
	}

	staging := filepath.Join(output_root, "."+dir_name+".staging")
	err := os.RemoveAll(staging)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	err = self.populate(ctx, kind, staging, pkg)
	if err != nil {
		os.RemoveAll(staging)
		return nil, err
	}

	// Atomic publish: the final directory either holds a complete
	// package or does not exist.
	err = os.RemoveAll(pkg.Path)
	if err != nil {
		os.RemoveAll(staging)
		return nil, errors.Wrap(err, 0)
	}

	err = os.Rename(staging, pkg.Path)
	if err != nil {
		os.RemoveAll(staging)
		return nil, errors.Wrap(err, 0)
	}

	if self.config_obj.Archive {
		err = archiveDirectory(ctx, pkg.Path, pkg.Path+".zip")
		if err != nil {
			return nil, err
		}
	}

	logger.Info("Built <green>%v</> package at %v (%v artifacts, %v tools)",
		kind, pkg.Path, pkg.ArtifactCount, len(pkg.Tools))

	return pkg, nil
}

func (self *Assembler) populate(ctx context.Context,
	kind PackageKind, staging string, pkg *Package) error {

	artifact_dir := filepath.Join(staging, "artifacts")
	err := os.MkdirAll(artifact_dir, 0700)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	seen := make(map[string]int)
	for _, record := range self.collection.Artifacts {
		filename := utils.SanitizeFilename(record.Name)
		count := seen[filename]
		seen[filename] = count + 1
		if count > 0 {
			filename = fmt.Sprintf("%s_%d", filename, count)
		}

		err := ioutil.WriteFile(
			filepath.Join(artifact_dir, filename+".yaml"),
			record.Raw, 0600)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		pkg.ArtifactCount++
	}

	if kind == SERVER_PACKAGE {
		err = self.populateTools(ctx, staging, pkg)
		if err != nil {
			return err
		}

		err = writeServerConfig(self.config_obj, staging)
	} else {
		err = writeClientManifest(self.config_obj, self.db, staging)
		if err != nil {
			return err
		}

		err = writeClientConfig(self.config_obj, staging)
	}
	if err != nil {
		return err
	}

	err = writeDeployScript(self.config_obj, kind, staging)
	if err != nil {
		return err
	}

	if len(pkg.Warnings) > 0 {
		err = ioutil.WriteFile(
			filepath.Join(staging, "WARNINGS.txt"),
			[]byte(strings.Join(pkg.Warnings, "\n")+"\n"), 0600)
		if err != nil {
			return errors.Wrap(err, 0)
		}
	}

	return nil
}

// populateTools copies every Downloaded binary into the package's
// tools store. Failed tools were already turned into warnings.
func (self *Assembler) populateTools(ctx context.Context,
	staging string, pkg *Package) error {

	tools_dir := filepath.Join(staging, "tools")
	err := os.MkdirAll(tools_dir, 0700)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	var bundled []*inventory.Tool
	for _, tool := range self.db.Tools() {
		if tool.Status != inventory.DOWNLOADED {
			continue
		}

		err := utils.CopyFile(ctx, tool.CachePath,
			filepath.Join(tools_dir, tool.Filename), 0700)
		if err != nil {
			return err
		}

		bundled = append(bundled, tool)
		pkg.Tools = append(pkg.Tools, tool.Name)
	}

	return writeToolInventory(bundled, tools_dir)
}

// brokenTools lists tools that are referenced by at least one
// artifact but did not make it into the cache.
func (self *Assembler) brokenTools() []string {
	var result []string
	for _, tool := range self.db.Tools() {
		if tool.Status == inventory.FAILED && len(tool.UsedBy) > 0 {
			result = append(result, tool.Name)
		}
	}
	return result
}
