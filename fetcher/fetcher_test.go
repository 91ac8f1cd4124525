package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/ioutil"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"www.velocidex.com/golang/velopack/config"
	"www.velocidex.com/golang/velopack/inventory"
)

type MockClient struct {
	mu sync.Mutex

	responses map[string]string

	// Number of 500 responses to serve for a url before succeeding.
	failures map[string]int

	requests []string

	inflight     int
	max_inflight int

	delay time.Duration

	// When this url is requested, cancel the run instead of
	// responding.
	cancel_on string
	cancel    context.CancelFunc
}

func (self *MockClient) Do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	self.mu.Lock()
	self.requests = append(self.requests, url)
	self.inflight++
	if self.inflight > self.max_inflight {
		self.max_inflight = self.inflight
	}
	fail := false
	if self.failures[url] > 0 {
		self.failures[url]--
		fail = true
	}
	response := self.responses[url]
	self.mu.Unlock()

	if self.delay > 0 {
		time.Sleep(self.delay)
	}

	self.mu.Lock()
	self.inflight--
	self.mu.Unlock()

	if url == self.cancel_on {
		self.cancel()
		return nil, errors.New("context canceled")
	}

	if fail {
		return &http.Response{
			StatusCode: 500,
			Status:     "500 Internal Server Error",
			Body:       ioutil.NopCloser(bytes.NewReader(nil)),
		}, nil
	}

	return &http.Response{
		StatusCode: 200,
		Status:     "200 OK",
		Body:       ioutil.NopCloser(bytes.NewReader([]byte(response))),
	}, nil
}

func (self *MockClient) RequestCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()

	return len(self.requests)
}

func hashOf(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

type FetcherTestSuite struct {
	suite.Suite

	config_obj *config.Config
	mock       *MockClient
}

func (self *FetcherTestSuite) SetupTest() {
	self.config_obj = config.GetDefaultConfig()
	self.config_obj.CacheDir = self.T().TempDir()
	self.mock = &MockClient{
		responses: make(map[string]string),
		failures:  make(map[string]int),
	}
}

func (self *FetcherTestSuite) newFetcher() *Fetcher {
	result := NewFetcher(self.config_obj, self.mock)
	result.RetryDelay = time.Millisecond
	return result
}

func (self *FetcherTestSuite) TestDownloadAndHash() {
	url := "https://example.com/hayabusa.zip"
	self.mock.responses[url] = "File Content"

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{Name: "Hayabusa", Url: url})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	tool, _ := db.Get("Hayabusa")
	assert.Equal(self.T(), inventory.DOWNLOADED, tool.Status)
	assert.Equal(self.T(), "Hayabusa_hayabusa.zip", tool.Filename)
	assert.Equal(self.T(), hashOf("File Content"), tool.Hash)

	data, err := ioutil.ReadFile(tool.CachePath)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), "File Content", string(data))
}

func (self *FetcherTestSuite) TestHashMismatch() {
	url := "https://example.com/hayabusa.zip"
	self.mock.responses[url] = "Tampered Content"

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{
		Name:         "Hayabusa",
		Url:          url,
		ExpectedHash: hashOf("File Content"),
	})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	tool, _ := db.Get("Hayabusa")
	assert.Equal(self.T(), inventory.FAILED, tool.Status)
	assert.Contains(self.T(), tool.Error, "Hash mismatch")

	// A mismatch is not retried - the content will not change.
	assert.Equal(self.T(), 1, self.mock.RequestCount())

	// Nothing was published and no tempfile remains.
	names, err := ioutil.ReadDir(self.config_obj.CacheDir)
	assert.NoError(self.T(), err)
	assert.Empty(self.T(), names)
}

func (self *FetcherTestSuite) TestTransientFailureIsRetried() {
	url := "https://example.com/lecmd.zip"
	self.mock.responses[url] = "LECmd Content"
	self.mock.failures[url] = 2

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{Name: "LECmd", Url: url})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	tool, _ := db.Get("LECmd")
	assert.Equal(self.T(), inventory.DOWNLOADED, tool.Status)
	assert.Equal(self.T(), 3, self.mock.RequestCount())
}

func (self *FetcherTestSuite) TestRetryBudgetExhaustion() {
	url := "https://example.com/lecmd.zip"
	self.mock.failures[url] = 100

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{Name: "LECmd", Url: url})
	db.AddTool("a", &inventory.Tool{
		Name: "Other",
		Url:  "https://example.com/other.zip"})
	self.mock.responses["https://example.com/other.zip"] = "Other"

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	// The failed tool used its whole retry budget but did not stop
	// the other tool.
	tool, _ := db.Get("LECmd")
	assert.Equal(self.T(), inventory.FAILED, tool.Status)

	other, _ := db.Get("Other")
	assert.Equal(self.T(), inventory.DOWNLOADED, other.Status)

	counts := db.CountByStatus()
	assert.Equal(self.T(), 1, counts[inventory.FAILED])
	assert.Equal(self.T(), 1, counts[inventory.DOWNLOADED])
}

func (self *FetcherTestSuite) TestCacheHitMakesNoNetworkCalls() {
	url := "https://example.com/hayabusa.zip"
	cache_path := filepath.Join(
		self.config_obj.CacheDir, "Hayabusa_hayabusa.zip")
	assert.NoError(self.T(), ioutil.WriteFile(
		cache_path, []byte("File Content"), 0600))

	make_db := func() *inventory.ToolDatabase {
		db := inventory.NewToolDatabase()
		db.AddTool("a", &inventory.Tool{
			Name:         "Hayabusa",
			Url:          url,
			ExpectedHash: hashOf("File Content"),
		})
		return db
	}

	// First run: satisfied from the cache.
	db := make_db()
	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	tool, _ := db.Get("Hayabusa")
	assert.Equal(self.T(), inventory.DOWNLOADED, tool.Status)
	assert.Equal(self.T(), cache_path, tool.CachePath)
	assert.Equal(self.T(), 0, self.mock.RequestCount())

	// A re-run over a fresh database performs zero additional
	// network calls.
	db2 := make_db()
	err = self.newFetcher().FetchAll(context.Background(), db2)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), 0, self.mock.RequestCount())
}

func (self *FetcherTestSuite) TestStaleCacheIsRedownloaded() {
	url := "https://example.com/hayabusa.zip"
	self.mock.responses[url] = "File Content"

	cache_path := filepath.Join(
		self.config_obj.CacheDir, "Hayabusa_hayabusa.zip")
	assert.NoError(self.T(), ioutil.WriteFile(
		cache_path, []byte("Old Content"), 0600))

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{
		Name:         "Hayabusa",
		Url:          url,
		ExpectedHash: hashOf("File Content"),
	})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	tool, _ := db.Get("Hayabusa")
	assert.Equal(self.T(), inventory.DOWNLOADED, tool.Status)
	assert.Equal(self.T(), 1, self.mock.RequestCount())

	data, _ := ioutil.ReadFile(cache_path)
	assert.Equal(self.T(), "File Content", string(data))
}

// With a concurrency limit of 1 the five tools are fetched strictly
// sequentially.
func (self *FetcherTestSuite) TestSequentialFetch() {
	self.config_obj.Fetcher.Concurrency = 1
	self.mock.delay = 10 * time.Millisecond

	db := inventory.NewToolDatabase()
	urls := []string{
		"https://example.com/t1.zip",
		"https://example.com/t2.zip",
		"https://example.com/t3.zip",
		"https://example.com/t4.zip",
		"https://example.com/t5.zip",
	}
	for i, url := range urls {
		self.mock.responses[url] = "content"
		db.AddTool("a", &inventory.Tool{
			Name: "Tool" + string(rune('A'+i)), Url: url})
	}

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	assert.Equal(self.T(), 5, self.mock.RequestCount())
	assert.Equal(self.T(), 1, self.mock.max_inflight)

	counts := db.CountByStatus()
	assert.Equal(self.T(), 5, counts[inventory.DOWNLOADED])
}

// Cancellation mid-fetch: completed tools stay Downloaded, the
// in-flight tool reverts to Pending and untouched tools were never
// started.
func (self *FetcherTestSuite) TestCancellation() {
	self.config_obj.Fetcher.Concurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := inventory.NewToolDatabase()
	for _, name := range []string{"t1", "t2", "t3", "t4", "t5"} {
		url := "https://example.com/" + name + ".zip"
		self.mock.responses[url] = "content"
		db.AddTool("a", &inventory.Tool{Name: name, Url: url})
	}

	self.mock.cancel = cancel
	self.mock.cancel_on = "https://example.com/t3.zip"

	err := self.newFetcher().FetchAll(ctx, db)
	assert.NoError(self.T(), err)

	counts := db.CountByStatus()
	assert.Equal(self.T(), 2, counts[inventory.DOWNLOADED])
	assert.Equal(self.T(), 3, counts[inventory.PENDING])
	assert.Equal(self.T(), 0, counts[inventory.FAILED])
}

// Two distinct tools whose URLs share a basename must get their own
// cache entries - neither a false cache hit nor one tool shipping the
// other's binary.
func (self *FetcherTestSuite) TestDistinctToolsShareUrlBasename() {
	url_a := "https://a.example.com/download.zip"
	url_b := "https://b.example.com/download.zip"
	self.mock.responses[url_a] = "Tool A Content"
	self.mock.responses[url_b] = "Tool B Content"

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{Name: "ToolA", Url: url_a})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	// A later run over a corpus that declares a different tool with
	// the same URL basename must still hit the network for it.
	db2 := inventory.NewToolDatabase()
	db2.AddTool("b", &inventory.Tool{Name: "ToolB", Url: url_b})

	err = self.newFetcher().FetchAll(context.Background(), db2)
	assert.NoError(self.T(), err)

	assert.Equal(self.T(), 2, self.mock.RequestCount())

	tool_a, _ := db.Get("ToolA")
	tool_b, _ := db2.Get("ToolB")
	assert.Equal(self.T(), inventory.DOWNLOADED, tool_b.Status)
	assert.NotEqual(self.T(), tool_a.CachePath, tool_b.CachePath)
	assert.Equal(self.T(), hashOf("Tool A Content"), tool_a.Hash)
	assert.Equal(self.T(), hashOf("Tool B Content"), tool_b.Hash)

	data, err := ioutil.ReadFile(tool_b.CachePath)
	assert.NoError(self.T(), err)
	assert.Equal(self.T(), "Tool B Content", string(data))
}

func (self *FetcherTestSuite) TestNoUrlIsSkipped() {
	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{Name: "ManualTool"})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	tool, _ := db.Get("ManualTool")
	assert.Equal(self.T(), inventory.SKIPPED, tool.Status)
	assert.Equal(self.T(), 0, self.mock.RequestCount())
}

func (self *FetcherTestSuite) TestOfflineMode() {
	self.config_obj.Fetcher.Offline = true

	url := "https://example.com/hayabusa.zip"
	cache_path := filepath.Join(
		self.config_obj.CacheDir, "Hayabusa_hayabusa.zip")
	assert.NoError(self.T(), ioutil.WriteFile(
		cache_path, []byte("File Content"), 0600))

	db := inventory.NewToolDatabase()
	db.AddTool("a", &inventory.Tool{Name: "Hayabusa", Url: url})
	db.AddTool("a", &inventory.Tool{
		Name: "Uncached",
		Url:  "https://example.com/uncached.zip"})

	err := self.newFetcher().FetchAll(context.Background(), db)
	assert.NoError(self.T(), err)

	cached, _ := db.Get("Hayabusa")
	assert.Equal(self.T(), inventory.DOWNLOADED, cached.Status)

	uncached, _ := db.Get("Uncached")
	assert.Equal(self.T(), inventory.SKIPPED, uncached.Status)

	assert.Equal(self.T(), 0, self.mock.RequestCount())
}

func TestFetcher(t *testing.T) {
	suite.Run(t, &FetcherTestSuite{})
}

func TestToolFilename(t *testing.T) {
	assert.Equal(t, "Hayabusa_hayabusa.zip", toolFilename(&inventory.Tool{
		Name: "Hayabusa",
		Url:  "https://example.com/releases/hayabusa.zip?token=abc",
	}))

	assert.Equal(t, "My_Tool", toolFilename(&inventory.Tool{
		Name: "My Tool",
	}))

	// The URL basename never decides the path on its own.
	assert.NotEqual(t,
		toolFilename(&inventory.Tool{
			Name: "ToolA", Url: "https://a.example.com/download.zip"}),
		toolFilename(&inventory.Tool{
			Name: "ToolB", Url: "https://b.example.com/download.zip"}))
}
