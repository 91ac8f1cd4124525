package tempfile

import (
	"io/ioutil"
	"os"
	"sync"
)

// A process wide registry of temporary files so an orderly shutdown
// can remove anything that was left behind (e.g. an aborted
// download or an extracted corpus archive).

var (
	mu sync.Mutex

	tmp_dir   = ""
	tmp_files = make(map[string]bool)
	tmp_dirs  = []string{}
)

func SetTempDir(dirname string) error {
	mu.Lock()
	defer mu.Unlock()

	// Make sure we can actually write there.
	fd, err := ioutil.TempFile(dirname, "velopack")
	if err != nil {
		return err
	}
	fd.Close()
	os.Remove(fd.Name())

	tmp_dir = dirname
	return nil
}

func GetTempDir() string {
	mu.Lock()
	defer mu.Unlock()

	if tmp_dir == "" {
		return os.TempDir()
	}
	return tmp_dir
}

// A scratch directory removed on Cleanup.
func TempDir(pattern string) (string, error) {
	dirname, err := ioutil.TempDir(GetTempDir(), pattern)
	if err != nil {
		return "", err
	}

	mu.Lock()
	tmp_dirs = append(tmp_dirs, dirname)
	mu.Unlock()

	return dirname, nil
}

func AddTmpFile(filename string) {
	mu.Lock()
	defer mu.Unlock()

	tmp_files[filename] = true
}

func RemoveTmpFile(filename string, err error) {
	mu.Lock()
	defer mu.Unlock()

	delete(tmp_files, filename)
}

// Cleanup removes all registered temporary files and scratch
// directories. Called once at the end of a run.
func Cleanup() {
	mu.Lock()
	files := make([]string, 0, len(tmp_files))
	for f := range tmp_files {
		files = append(files, f)
	}
	dirs := append([]string{}, tmp_dirs...)
	tmp_files = make(map[string]bool)
	tmp_dirs = nil
	mu.Unlock()

	for _, f := range files {
		os.Remove(f)
	}

	for _, d := range dirs {
		os.RemoveAll(d)
	}
}
