package packager

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Velocidex/zip"
	"github.com/go-errors/errors"

	"www.velocidex.com/golang/velopack/utils"
)

// archiveDirectory emits a zip of the finished package next to it,
// for deployments that move packages around as a single file.
// filepath.Walk is lexical so member order is reproducible.
func archiveDirectory(ctx context.Context, root, output string) error {
	fd, err := os.OpenFile(output,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer fd.Close()

	zip_writer := zip.NewWriter(fd)
	defer zip_writer.Close()

	return filepath.Walk(root,
		func(file_path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if info.IsDir() {
				return nil
			}

			rel_path, err := filepath.Rel(root, file_path)
			if err != nil {
				return err
			}

			member, err := zip_writer.Create(filepath.ToSlash(rel_path))
			if err != nil {
				return err
			}

			in, err := os.Open(file_path)
			if err != nil {
				return err
			}
			defer in.Close()

			_, err = utils.Copy(ctx, member, in)
			return err
		})
}
