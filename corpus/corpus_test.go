package corpus

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/Velocidex/zip"
	"github.com/stretchr/testify/assert"

	"www.velocidex.com/golang/velopack/config"
)

var goodArtifact = `name: Windows.EventLogs.Hayabusa
type: CLIENT
tools:
  - name: Hayabusa
    url: https://example.com/hayabusa.zip
    expected_hash: deadbeef
sources:
  - query: SELECT * FROM info()
`

var bareToolsArtifact = `name: Windows.Forensics.Lnk
tools:
  - LECmd
  - JLECmd
`

// Not valid YAML (bad block scalar header) but the loader should
// still recover the name and tool list by pattern matching.
var messyArtifact = `name: Custom.Messy
type: server
tools:
  - name: LECmd
    url: https://example.com/LECmd.zip
description: |bad
`

var hopelessArtifact = `:::this is not an artifact at all
`

func TestLoadDirectory(t *testing.T) {
	tmp_dir := t.TempDir()
	config_obj := config.GetDefaultConfig()

	write := func(name, data string) {
		assert.NoError(t, ioutil.WriteFile(
			filepath.Join(tmp_dir, name), []byte(data), 0600))
	}

	write("good.yaml", goodArtifact)
	write("bare.yml", bareToolsArtifact)
	write("messy.yaml", messyArtifact)
	write("hopeless.yaml", hopelessArtifact)
	write("README.md", "not an artifact")

	collection, err := LoadCorpus(config_obj, tmp_dir)
	assert.NoError(t, err)

	// The hopeless document is skipped, everything else loads.
	assert.Equal(t, 3, collection.Len())

	by_name := make(map[string]*ArtifactRecord)
	for _, record := range collection.Artifacts {
		by_name[record.Name] = record
	}

	good := by_name["Windows.EventLogs.Hayabusa"]
	assert.NotNil(t, good)
	assert.Equal(t, "client", good.Type)
	assert.Equal(t, 1, len(good.Tools))
	assert.Equal(t, "Hayabusa", good.Tools[0].Name)
	assert.Equal(t, "https://example.com/hayabusa.zip", good.Tools[0].Url)
	assert.Equal(t, "deadbeef", good.Tools[0].ExpectedHash)
	assert.Equal(t, []byte(goodArtifact), good.Raw)

	bare := by_name["Windows.Forensics.Lnk"]
	assert.NotNil(t, bare)
	assert.Equal(t, "client", bare.Type)
	assert.Equal(t, 2, len(bare.Tools))
	assert.Equal(t, "LECmd", bare.Tools[0].Name)
	assert.Equal(t, "JLECmd", bare.Tools[1].Name)

	messy := by_name["Custom.Messy"]
	assert.NotNil(t, messy)
	assert.Equal(t, "server", messy.Type)
	assert.Equal(t, 1, len(messy.Tools))
	assert.Equal(t, "LECmd", messy.Tools[0].Name)
	assert.Equal(t, "https://example.com/LECmd.zip", messy.Tools[0].Url)

	// One warning for the skipped document, one for the recovered
	// one.
	assert.Equal(t, 2, len(collection.Warnings))
}

func TestSourceNotFound(t *testing.T) {
	config_obj := config.GetDefaultConfig()

	_, err := LoadCorpus(config_obj, "/nonexistent/corpus/root")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, SourceNotFound))
}

func TestLoadArchive(t *testing.T) {
	tmp_dir := t.TempDir()
	config_obj := config.GetDefaultConfig()

	archive_path := filepath.Join(tmp_dir, "corpus.zip")
	fd, err := os.Create(archive_path)
	assert.NoError(t, err)

	zip_writer := zip.NewWriter(fd)
	member, err := zip_writer.Create("artifacts/good.yaml")
	assert.NoError(t, err)
	_, err = member.Write([]byte(goodArtifact))
	assert.NoError(t, err)
	assert.NoError(t, member.Close())
	assert.NoError(t, zip_writer.Close())
	assert.NoError(t, fd.Close())

	collection, err := LoadCorpus(config_obj, archive_path)
	assert.NoError(t, err)
	assert.Equal(t, 1, collection.Len())
	assert.Equal(t, "Windows.EventLogs.Hayabusa",
		collection.Artifacts[0].Name)
}

func TestExtractionFailed(t *testing.T) {
	tmp_dir := t.TempDir()
	config_obj := config.GetDefaultConfig()

	archive_path := filepath.Join(tmp_dir, "corrupt.zip")
	assert.NoError(t, ioutil.WriteFile(
		archive_path, []byte("this is not a zip file"), 0600))

	_, err := LoadCorpus(config_obj, archive_path)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ExtractionFailed))
}

func TestEmptyCorpus(t *testing.T) {
	tmp_dir := t.TempDir()
	config_obj := config.GetDefaultConfig()

	collection, err := LoadCorpus(config_obj, tmp_dir)
	assert.NoError(t, err)
	assert.Equal(t, 0, collection.Len())
	assert.Empty(t, collection.Warnings)
}
