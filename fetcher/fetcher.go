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

// The validated tool fetcher: brings every Pending tool in the
// database to Downloaded or Failed. Workers claim records through
// the database so each tool is downloaded at most once; a download
// streams to a temporary file and is renamed into the cache only
// after the hash checks out, so a partial file is never visible at
// the permanent path.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/constants"
	"www.velocidex.com/golang/velopack/inventory"
	"www.velocidex.com/golang/velopack/logging"
	"www.velocidex.com/golang/velopack/utils"
	"www.velocidex.com/golang/velopack/utils/tempfile"
)

var (
	HashMismatch = errors.New("Hash mismatch")

	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velopack_fetch_attempts_total",
		Help: "Total number of tool download attempts.",
	})

	fetchSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velopack_fetch_success_total",
		Help: "Total number of tools downloaded successfully.",
	})

	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velopack_fetch_failed_total",
		Help: "Total number of tools that exhausted their retry budget.",
	})

	fetchCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "velopack_fetch_cache_hits_total",
		Help: "Total number of tools satisfied from the local cache.",
	})
)

type Fetcher struct {
	config_obj *config.Config

	Client HTTPClient

	// Where downloaded tools are published.
	CacheDir string

	Concurrency int
	RetryCount  int
	RetryDelay  time.Duration
}

func NewFetcher(config_obj *config.Config, client HTTPClient) *Fetcher {
	if client == nil {
		client = NewHTTPClient()
	}

	return &Fetcher{
		config_obj:  config_obj,
		Client:      client,
		CacheDir:    config_obj.CacheDir,
		Concurrency: config_obj.Fetcher.Concurrency,
		RetryCount:  config_obj.Fetcher.RetryCount,
		RetryDelay: time.Duration(
			config_obj.Fetcher.RetryDelaySec) * time.Second,
	}
}

// FetchAll processes every Pending tool with a bounded worker
// pool. One failed tool never aborts the others. Cancellation leaves
// in-flight tools Pending so a future run can resume.
func (self *Fetcher) FetchAll(ctx context.Context,
	db *inventory.ToolDatabase) error {

	err := os.MkdirAll(self.CacheDir, 0700)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	queue := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < self.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for name := range queue {
				tool, ok := db.Claim(name)
				if !ok {
					continue
				}
				self.fetchTool(ctx, db, tool)
			}
		}()
	}

	for _, name := range db.Names() {
		select {
		case <-ctx.Done():
			// Stop feeding the pool - untouched tools stay Pending.
		case queue <- name:
			continue
		}
		break
	}
	close(queue)

	wg.Wait()
	return nil
}

func (self *Fetcher) fetchTool(ctx context.Context,
	db *inventory.ToolDatabase, tool *inventory.Tool) {

	logger := logging.GetLogger(self.config_obj, &logging.FetcherComponent)

	filename := toolFilename(tool)
	cache_path := filepath.Join(self.CacheDir, filename)

	// A previous run may have binary already in the cache.
	if self.probeCache(tool, cache_path) {
		fetchCacheHits.Inc()
		logger.Info("Tool <green>%v</> already cached at %v",
			tool.Name, cache_path)
		db.Resolve(tool.Name, inventory.DOWNLOADED,
			func(tool *inventory.Tool) {
				tool.CachePath = cache_path
				tool.Filename = filename
				if tool.Hash == "" {
					tool.Hash, _ = hashFile(cache_path)
				}
			})
		return
	}

	if tool.Url == "" {
		logger.Warn("Tool %v has no url defined - skipping", tool.Name)
		db.Resolve(tool.Name, inventory.SKIPPED,
			func(tool *inventory.Tool) {
				tool.Error = "no url declared"
			})
		return
	}

	if self.config_obj.Fetcher.Offline {
		logger.Warn("Offline mode: not downloading %v", tool.Name)
		db.Resolve(tool.Name, inventory.SKIPPED,
			func(tool *inventory.Tool) {
				tool.Error = "offline mode"
			})
		return
	}

	var hash_err error
	var content_hash string

	err := utils.RetryWithCtx(ctx, func() error {
		fetchAttempts.Inc()

		hash, err := self.downloadAttempt(ctx, tool, cache_path)
		if stderrors.Is(err, HashMismatch) {
			// Retrying will not change the content.
			hash_err = err
			return nil
		}
		content_hash = hash
		return err
	}, self.RetryCount, self.RetryDelay)

	if ctx.Err() != nil {
		// Cancelled - the tool goes back to Pending for a future
		// run.
		logger.Info("Cancelled download of %v", tool.Name)
		db.Resolve(tool.Name, inventory.PENDING, nil)
		return
	}

	if hash_err != nil {
		err = hash_err
	}

	if err != nil {
		fetchFailures.Inc()
		logger.Error("Unable to download tool %v: %v", tool.Name, err)
		db.Resolve(tool.Name, inventory.FAILED,
			func(tool *inventory.Tool) {
				tool.Error = err.Error()
			})
		return
	}

	fetchSuccesses.Inc()
	logger.Info("Downloaded tool <green>%v</> from <cyan>%v</>",
		tool.Name, tool.Url)
	db.Resolve(tool.Name, inventory.DOWNLOADED,
		func(tool *inventory.Tool) {
			tool.CachePath = cache_path
			tool.Filename = filename
			tool.Hash = content_hash
		})
}

// downloadAttempt streams the tool to a temporary file and only on
// complete success renames it into the permanent cache location.
func (self *Fetcher) downloadAttempt(ctx context.Context,
	tool *inventory.Tool, cache_path string) (string, error) {

	// The tempfile lives in the cache directory so the final rename
	// is atomic.
	fd, err := os.CreateTemp(self.CacheDir, ".velopack*.tmp")
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	tempfile.AddTmpFile(fd.Name())

	remove_temp := func() {
		fd.Close()
		err := os.Remove(fd.Name())
		tempfile.RemoveTmpFile(fd.Name(), err)
	}

	request, err := http.NewRequestWithContext(ctx, "GET", tool.Url, nil)
	if err != nil {
		remove_temp()
		return "", err
	}
	request.Header.Set("User-Agent", constants.USER_AGENT)

	res, err := self.Client.Do(request)
	if err != nil {
		remove_temp()
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		remove_temp()
		return "", fmt.Errorf("Unable to download file from %v: %v",
			tool.Url, res.Status)
	}

	sha_sum := sha256.New()
	_, err = utils.Copy(ctx, fd, io.TeeReader(res.Body, sha_sum))
	if err != nil {
		remove_temp()
		return "", err
	}

	// utils.Copy returns quietly on cancellation - do not publish a
	// truncated file.
	if ctx.Err() != nil {
		remove_temp()
		return "", ctx.Err()
	}

	content_hash := hex.EncodeToString(sha_sum.Sum(nil))
	if tool.ExpectedHash != "" &&
		!strings.EqualFold(content_hash, tool.ExpectedHash) {
		remove_temp()
		return "", fmt.Errorf("%w for tool %v: expected %v got %v",
			HashMismatch, tool.Name, tool.ExpectedHash, content_hash)
	}

	err = fd.Close()
	if err != nil {
		remove_temp()
		return "", err
	}

	err = os.Rename(fd.Name(), cache_path)
	if err != nil {
		remove_temp()
		return "", errors.Wrap(err, 0)
	}
	tempfile.RemoveTmpFile(fd.Name(), nil)

	return content_hash, nil
}

// probeCache reports whether the cache already holds a usable copy
// of the tool. When a hash is declared the cached content must match
// it.
func (self *Fetcher) probeCache(tool *inventory.Tool, cache_path string) bool {
	stat, err := os.Stat(cache_path)
	if err != nil || !stat.Mode().IsRegular() {
		return false
	}

	if tool.ExpectedHash == "" {
		return true
	}

	content_hash, err := hashFile(cache_path)
	if err != nil {
		return false
	}

	return strings.EqualFold(content_hash, tool.ExpectedHash)
}

func hashFile(filename string) (string, error) {
	fd, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer fd.Close()

	sha_sum := sha256.New()
	_, err = io.Copy(sha_sum, fd)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(sha_sum.Sum(nil)), nil
}

// toolFilename picks the name the binary is stored under in the
// cache and in server packages. The name is the identity - two tools
// whose URLs share a basename must never land on the same path. The
// URL basename is kept as a suffix since it carries the real
// extension.
func toolFilename(tool *inventory.Tool) string {
	name := utils.SanitizeFilename(tool.Name)

	if tool.Url != "" {
		parsed, err := url.Parse(tool.Url)
		if err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" {
				return name + "_" + utils.SanitizeFilename(base)
			}
		}
	}

	return name
}
