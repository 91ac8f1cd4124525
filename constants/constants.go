package constants

import "fmt"

const (
	VERSION = "0.2.1"

	// Maximum size of a document we are prepared to hold in memory.
	MAX_MEMORY = 5 * 1024 * 1024

	// Default number of concurrent tool downloads.
	DEFAULT_CONCURRENCY = 4

	// How many times a transient download failure is retried before
	// the tool is marked Failed.
	DEFAULT_RETRY_COUNT = 3

	// Seconds to wait between retry attempts.
	DEFAULT_RETRY_DELAY_SEC = 5

	SERVER_PACKAGE_NAME = "velociraptor-server-package"
	CLIENT_PACKAGE_NAME = "velociraptor-client-package"
)

var (
	USER_AGENT = fmt.Sprintf("velopack/%s", VERSION)
)
