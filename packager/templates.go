package packager

import (
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/Velocidex/yaml/v2"
	"github.com/go-errors/errors"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/inventory"
)

// Generated configuration documents. These are the shapes the
// platform binary consumes as its frontend / client inputs - the
// packager only produces the layout, it never invokes the platform
// itself.

type frontendSection struct {
	BindAddress string `json:"bind_address"`
	BindPort    uint32 `json:"bind_port"`

	// Relative to the package root.
	ToolsDirectory      string `json:"tools_directory"`
	ArtifactDefinitions string `json:"artifact_definitions"`
}

type serverConfigDoc struct {
	Frontend frontendSection `json:"Frontend"`
}

type clientSection struct {
	ServerUrls          []string `json:"server_urls"`
	ArtifactDefinitions string   `json:"artifact_definitions"`
}

type clientConfigDoc struct {
	Client clientSection `json:"Client"`
}

type manifestEntry struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Hash    string `json:"hash,omitempty"`

	// Where a client fetches the tool at collection time.
	Url string `json:"url,omitempty"`
}

type toolManifestDoc struct {
	ServerUrl string          `json:"server_url"`
	Tools     []manifestEntry `json:"tools"`
}

type inventoryEntry struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Version  string `json:"version,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

func serverUrl(config_obj *config.Config) string {
	if config_obj.Frontend.PublicUrl != "" {
		return config_obj.Frontend.PublicUrl
	}
	return fmt.Sprintf("https://%s:%d/",
		config_obj.Frontend.BindAddress, config_obj.Frontend.BindPort)
}

func writeServerConfig(config_obj *config.Config, staging string) error {
	doc := &serverConfigDoc{
		Frontend: frontendSection{
			BindAddress:         config_obj.Frontend.BindAddress,
			BindPort:            config_obj.Frontend.BindPort,
			ToolsDirectory:      "tools",
			ArtifactDefinitions: "artifacts",
		},
	}

	return writeYaml(doc, filepath.Join(staging, "server.config.yaml"))
}

func writeClientConfig(config_obj *config.Config, staging string) error {
	doc := &clientConfigDoc{
		Client: clientSection{
			ServerUrls:          []string{serverUrl(config_obj)},
			ArtifactDefinitions: "artifacts",
		},
	}

	return writeYaml(doc, filepath.Join(staging, "client.config.yaml"))
}

// The client package deliberately excludes tool binaries - this
// manifest is all a client needs to fetch them from the server.
func writeClientManifest(config_obj *config.Config,
	db *inventory.ToolDatabase, staging string) error {

	base := serverUrl(config_obj)

	doc := &toolManifestDoc{
		ServerUrl: base,
		Tools:     []manifestEntry{},
	}

	for _, tool := range db.Tools() {
		entry := manifestEntry{
			Name:    tool.Name,
			Version: tool.Version,
			Hash:    tool.Hash,
		}
		if entry.Hash == "" {
			entry.Hash = tool.ExpectedHash
		}
		if tool.Filename != "" {
			entry.Url = base + "tools/" + tool.Filename
		}
		doc.Tools = append(doc.Tools, entry)
	}

	return writeYaml(doc, filepath.Join(staging, "tools_manifest.yaml"))
}

func writeToolInventory(tools []*inventory.Tool, tools_dir string) error {
	entries := []inventoryEntry{}
	for _, tool := range tools {
		entries = append(entries, inventoryEntry{
			Name:     tool.Name,
			Filename: tool.Filename,
			Version:  tool.Version,
			Hash:     tool.Hash,
		})
	}

	return writeYaml(entries, filepath.Join(tools_dir, "inventory.yaml"))
}

func writeYaml(doc interface{}, filename string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	return ioutil.WriteFile(filename, data, 0600)
}

var deploy_script_templates = map[PackageKind]string{
	SERVER_PACKAGE: `#!/bin/bash
# Deployment descriptor for the Velociraptor server package.
# Declares the layout the platform binary consumes - edit the binary
# path before running.

VELOCIRAPTOR_BIN=${VELOCIRAPTOR_BIN:-/usr/local/bin/velociraptor}
PACKAGE_ROOT="$(cd "$(dirname "$0")" && pwd)"

mkdir -p /etc/velociraptor
cp "$PACKAGE_ROOT/server.config.yaml" /etc/velociraptor/server.config.yaml

exec "$VELOCIRAPTOR_BIN" \
    --config /etc/velociraptor/server.config.yaml \
    --definitions "$PACKAGE_ROOT/artifacts" \
    frontend
`,
	CLIENT_PACKAGE: `#!/bin/bash
# Deployment descriptor for the Velociraptor client package.
# Tools are fetched on demand from the server listed in
# tools_manifest.yaml - no binaries ship in this package.

VELOCIRAPTOR_BIN=${VELOCIRAPTOR_BIN:-/usr/local/bin/velociraptor}
PACKAGE_ROOT="$(cd "$(dirname "$0")" && pwd)"

mkdir -p /etc/velociraptor
cp "$PACKAGE_ROOT/client.config.yaml" /etc/velociraptor/client.config.yaml

exec "$VELOCIRAPTOR_BIN" \
    --config /etc/velociraptor/client.config.yaml \
    --definitions "$PACKAGE_ROOT/artifacts" \
    client
`,
}

func writeDeployScript(config_obj *config.Config,
	kind PackageKind, staging string) error {

	return ioutil.WriteFile(
		filepath.Join(staging, "deploy.sh"),
		[]byte(deploy_script_templates[kind]), 0700)
}
