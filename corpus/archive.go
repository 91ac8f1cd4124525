package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Velocidex/zip"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/logging"
	"www.velocidex.com/golang/velopack/utils"
	"www.velocidex.com/golang/velopack/utils/tempfile"
)

// extractArchive unpacks a zip corpus into a scratch directory which
// is registered for removal at the end of the run. Any failure here
// is fatal - a partially extracted corpus would silently drop
// artifacts.
func extractArchive(config_obj *config.Config, archive_path string) (
	string, error) {

	logger := logging.GetLogger(config_obj, &logging.LoaderComponent)

	fd, err := os.Open(archive_path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ExtractionFailed, err)
	}
	defer fd.Close()

	stat, err := fd.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ExtractionFailed, err)
	}

	zip_reader, err := zip.NewReader(fd, stat.Size())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ExtractionFailed, err)
	}

	scratch, err := tempfile.TempDir("velopack_corpus")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ExtractionFailed, err)
	}

	logger.Info("Extracting corpus archive %v to %v",
		archive_path, scratch)

	for _, file := range zip_reader.File {
		err := extractMember(scratch, file)
		if err != nil {
			// Remove the partial extraction before bailing out.
			os.RemoveAll(scratch)
			return "", fmt.Errorf("%w: %v: %v",
				ExtractionFailed, file.Name, err)
		}
	}

	return scratch, nil
}

func extractMember(scratch string, file *zip.File) error {
	dest, err := safeJoin(scratch, file.Name)
	if err != nil {
		return err
	}

	if strings.HasSuffix(file.Name, "/") {
		return os.MkdirAll(dest, 0700)
	}

	err = os.MkdirAll(filepath.Dir(dest), 0700)
	if err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = utils.Copy(context.Background(), out, src)
	return err
}

// safeJoin rejects zip members that would escape the extraction
// root.
func safeJoin(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal member path %v", name)
	}
	return dest, nil
}
