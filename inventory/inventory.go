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

// The tool inventory: a deduplicated registry of every external tool
// the corpus depends on. The database is the single shared mutable
// value of a build - the fetcher claims records one at a time, so a
// tool is downloaded at most once no matter how many artifacts
// declare it.
package inventory

import (
	"strings"
	"sync"

	"www.velocidex.com/golang/velopack/utils"
)

type DownloadStatus string

const (
	PENDING    DownloadStatus = "Pending"
	IN_FLIGHT  DownloadStatus = "InFlight"
	DOWNLOADED DownloadStatus = "Downloaded"
	FAILED     DownloadStatus = "Failed"
	SKIPPED    DownloadStatus = "Skipped"
)

type Tool struct {
	// The name as first seen - lookups are case insensitive.
	Name         string `yaml:"name" json:"name"`
	Url          string `yaml:"url,omitempty" json:"url,omitempty"`
	Version      string `yaml:"version,omitempty" json:"version,omitempty"`
	ExpectedHash string `yaml:"expected_hash,omitempty" json:"expected_hash,omitempty"`

	Status DownloadStatus `yaml:"-" json:"status"`

	// Hash of the actual downloaded content.
	Hash string `yaml:"hash,omitempty" json:"hash,omitempty"`

	// Where the binary lives once downloaded.
	CachePath string `yaml:"-" json:"cache_path,omitempty"`
	Filename  string `yaml:"filename,omitempty" json:"filename,omitempty"`

	// Why the tool failed, when it did.
	Error string `yaml:"-" json:"error,omitempty"`

	// Names of artifacts that declare this tool, in the order they
	// were indexed.
	UsedBy []string `yaml:"-" json:"used_by,omitempty"`
}

func (self *Tool) Copy() *Tool {
	result := *self
	result.UsedBy = append([]string{}, self.UsedBy...)
	return &result
}

// ToolDatabase maps normalized tool names to their records. Records
// are created by the indexing stage and mutated only through the
// claim/resolve API, so two fetch workers can never race on the same
// tool.
type ToolDatabase struct {
	mu sync.Mutex

	tools map[string]*Tool

	// Keys in first-seen order for reproducible reports.
	order []string

	Warnings []string
}

func NewToolDatabase() *ToolDatabase {
	return &ToolDatabase{
		tools: make(map[string]*Tool),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddTool merges a tool declaration from an artifact into the
// database. The first declaration of a tool wins its URL - a
// conflicting URL from a later artifact is recorded as a warning and
// ignored. Missing attributes are backfilled from later
// declarations.
func (self *ToolDatabase) AddTool(artifact_name string, decl *Tool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	key := normalizeName(decl.Name)
	if key == "" {
		return
	}

	existing, pres := self.tools[key]
	if !pres {
		tool := decl.Copy()
		tool.Status = PENDING
		tool.UsedBy = nil
		if artifact_name != "" {
			tool.UsedBy = []string{artifact_name}
		}
		self.tools[key] = tool
		self.order = append(self.order, key)
		return
	}

	if artifact_name != "" &&
		!utils.InString(&existing.UsedBy, artifact_name) {
		existing.UsedBy = append(existing.UsedBy, artifact_name)
	}

	if decl.Url != "" {
		if existing.Url == "" {
			existing.Url = decl.Url

		} else if existing.Url != decl.Url {
			self.Warnings = append(self.Warnings,
				"Ambiguous dependency: tool "+existing.Name+
					" declared with different URL by "+artifact_name+
					" ("+decl.Url+"), keeping "+existing.Url)
		}
	}

	if existing.Version == "" {
		existing.Version = decl.Version
	}

	if existing.ExpectedHash == "" {
		existing.ExpectedHash = decl.ExpectedHash
	}
}

// Get returns a copy of the named tool.
func (self *ToolDatabase) Get(name string) (*Tool, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	tool, pres := self.tools[normalizeName(name)]
	if !pres {
		return nil, false
	}
	return tool.Copy(), true
}

func (self *ToolDatabase) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()

	return len(self.tools)
}

// Names returns the normalized keys in first-seen order.
func (self *ToolDatabase) Names() []string {
	self.mu.Lock()
	defer self.mu.Unlock()

	return append([]string{}, self.order...)
}

// Tools returns copies of all records in first-seen order.
func (self *ToolDatabase) Tools() []*Tool {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]*Tool, 0, len(self.order))
	for _, key := range self.order {
		result = append(result, self.tools[key].Copy())
	}
	return result
}

// Claim atomically transitions a Pending tool to InFlight. Only the
// caller that wins the claim may mutate the record, through Resolve.
func (self *ToolDatabase) Claim(name string) (*Tool, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	tool, pres := self.tools[normalizeName(name)]
	if !pres || tool.Status != PENDING {
		return nil, false
	}

	tool.Status = IN_FLIGHT
	return tool.Copy(), true
}

// Resolve completes a claim. Reverting to PENDING (cancellation)
// clears any partial result so a future run can retry cleanly.
func (self *ToolDatabase) Resolve(name string, status DownloadStatus,
	mutator func(tool *Tool)) {
	self.mu.Lock()
	defer self.mu.Unlock()

	tool, pres := self.tools[normalizeName(name)]
	if !pres {
		return
	}

	tool.Status = status
	if status == PENDING {
		tool.CachePath = ""
		tool.Hash = ""
		tool.Error = ""
	}

	if mutator != nil {
		mutator(tool)
	}
}

// CountByStatus is used by the report generator.
func (self *ToolDatabase) CountByStatus() map[DownloadStatus]int {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make(map[DownloadStatus]int)
	for _, tool := range self.tools {
		result[tool.Status]++
	}
	return result
}
