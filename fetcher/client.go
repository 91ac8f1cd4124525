package fetcher

import (
	"net"
	"net/http"
	"time"
)

// HTTPClient allows tests to mock the network.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns the client used for tool downloads. Timeouts
// apply per attempt - the fetch phase as a whole is only bounded by
// its context.
func NewHTTPClient() HTTPClient {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   300 * time.Second,
				KeepAlive: 300 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       300 * time.Second,
			TLSHandshakeTimeout:   100 * time.Second,
			ExpectContinueTimeout: 10 * time.Second,
			ResponseHeaderTimeout: 100 * time.Second,
		},
	}
}
