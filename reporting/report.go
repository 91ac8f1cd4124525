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

// Aggregates the results of a build into a report. Generation is a
// pure function of the corpus, the tool database and the produced
// packages - the only side effect is writing to the sink the caller
// hands in.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/Velocidex/ordereddict"
	"github.com/dustin/go-humanize"

	"www.velocidex.com/golang/velopack/constants"
	"www.velocidex.com/golang/velopack/corpus"
	"www.velocidex.com/golang/velopack/inventory"
	"www.velocidex.com/golang/velopack/json"
	"www.velocidex.com/golang/velopack/packager"
)

type ArtifactSummary struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	Path  string   `json:"path"`
	Tools []string `json:"tools,omitempty"`
}

type ToolSummary struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
	Hash    string `json:"hash,omitempty"`
	Error   string `json:"error,omitempty"`
	Size    int64  `json:"size,omitempty"`

	// How many artifacts declare this tool.
	UsedBy int `json:"used_by"`
}

type BuildReport struct {
	GeneratorVersion string `json:"generator_version"`

	ArtifactCount   int `json:"artifact_count"`
	UniqueToolCount int `json:"unique_tool_count"`

	// Tool counts keyed by status, in a fixed order.
	ToolsByStatus *ordereddict.Dict `json:"tools_by_status"`

	// Artifact counts keyed by type, in corpus load order.
	ArtifactsByType *ordereddict.Dict `json:"artifacts_by_type"`

	// Artifacts in corpus load order for reproducible diagnostics.
	Artifacts []ArtifactSummary `json:"artifacts"`

	Tools []ToolSummary `json:"tools"`

	Packages []*packager.Package `json:"packages"`

	Warnings []string `json:"warnings,omitempty"`
}

// Generate builds the report. An empty corpus produces a report of
// zeros, not an error.
func Generate(collection *corpus.Corpus,
	db *inventory.ToolDatabase,
	packages []*packager.Package) *BuildReport {

	report := &BuildReport{
		GeneratorVersion: constants.VERSION,
		ArtifactCount:    collection.Len(),
		UniqueToolCount:  db.Len(),
		ToolsByStatus:    ordereddict.NewDict(),
		ArtifactsByType:  ordereddict.NewDict(),
		Artifacts:        []ArtifactSummary{},
		Tools:            []ToolSummary{},
		Packages:         packages,
	}

	if report.Packages == nil {
		report.Packages = []*packager.Package{}
	}

	by_status := db.CountByStatus()
	for _, status := range []inventory.DownloadStatus{
		inventory.PENDING, inventory.DOWNLOADED,
		inventory.FAILED, inventory.SKIPPED} {
		report.ToolsByStatus.Set(string(status), int64(by_status[status]))
	}

	for _, record := range collection.Artifacts {
		summary := ArtifactSummary{
			Name: record.Name,
			Type: record.Type,
			Path: record.Path,
		}
		for _, ref := range record.Tools {
			summary.Tools = append(summary.Tools, ref.Name)
		}
		report.Artifacts = append(report.Artifacts, summary)

		count, _ := report.ArtifactsByType.GetInt64(record.Type)
		report.ArtifactsByType.Set(record.Type, count+1)
	}

	for _, tool := range db.Tools() {
		summary := ToolSummary{
			Name:    tool.Name,
			Version: tool.Version,
			Status:  string(tool.Status),
			Hash:    tool.Hash,
			Error:   tool.Error,
			UsedBy:  len(tool.UsedBy),
		}

		if tool.CachePath != "" {
			stat, err := os.Stat(tool.CachePath)
			if err == nil {
				summary.Size = stat.Size()
			}
		}

		report.Tools = append(report.Tools, summary)
	}

	report.Warnings = append(report.Warnings, collection.Warnings...)
	report.Warnings = append(report.Warnings, db.Warnings...)
	for _, pkg := range packages {
		report.Warnings = append(report.Warnings, pkg.Warnings...)
	}

	return report
}

func (self *BuildReport) WriteJSON(w io.Writer) error {
	serialized, err := json.MarshalIndent(self)
	if err != nil {
		return err
	}

	_, err = w.Write(serialized)
	return err
}

func (self *BuildReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Build report (velopack %v)\n", self.GeneratorVersion)
	fmt.Fprintf(w, "Artifacts: %v\n", self.ArtifactCount)
	fmt.Fprintf(w, "Unique tools: %v\n", self.UniqueToolCount)

	for _, status := range self.ToolsByStatus.Keys() {
		count, _ := self.ToolsByStatus.Get(status)
		fmt.Fprintf(w, "  %v: %v\n", status, count)
	}

	for _, tool := range self.Tools {
		size := ""
		if tool.Size > 0 {
			size = " (" + humanize.Bytes(uint64(tool.Size)) + ")"
		}
		fmt.Fprintf(w, "Tool %v: %v%v\n", tool.Name, tool.Status, size)
	}

	for _, pkg := range self.Packages {
		fmt.Fprintf(w, "Package %v: %v\n", pkg.Kind, pkg.Path)
	}

	if len(self.Warnings) > 0 {
		fmt.Fprintf(w, "Warnings:\n")
		for _, warning := range self.Warnings {
			fmt.Fprintf(w, "  %v\n", warning)
		}
	}

	return nil
}
