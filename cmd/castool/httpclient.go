package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rpcpool/castool/caserr"
	"github.com/rpcpool/castool/fetch"
	"github.com/rpcpool/castool/productconfig"
)

const stage = "http"

// httpByteFetcher is the concrete fetch.ByteFetcher: a plain ranged GET over
// an HTTP/2-preferring client with a generous idle-connection pool.
// fetch.Orchestrator already supplies concurrency and multi-host retry above
// this layer, so there is no worker-pool machinery here.
type httpByteFetcher struct {
	client *http.Client
}

func newHTTPByteFetcher() *httpByteFetcher {
	return &httpByteFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
	}
}

func (f *httpByteFetcher) Fetch(ctx context.Context, url string, rng *fetch.ByteRange) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, caserr.Transport(stage, err)
	}
	wantPartial := false
	if rng != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
		wantPartial = true
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, caserr.Transport(stage, err)
	}
	defer resp.Body.Close()

	if wantPartial && resp.StatusCode != http.StatusPartialContent {
		return nil, caserr.Transport(stage, fmt.Errorf("%s: unexpected status %s", url, resp.Status))
	}
	if !wantPartial && resp.StatusCode != http.StatusOK {
		return nil, caserr.Transport(stage, fmt.Errorf("%s: unexpected status %s", url, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, caserr.Transport(stage, fmt.Errorf("%s: reading body: %w", url, err))
	}
	return body, nil
}

// httpProductEndpoint implements the versions/cdns capability against a
// Ribbit-style (pipe-delimited info table) HTTP product endpoint.
type httpProductEndpoint struct {
	client  *http.Client
	baseURL string
}

func newHTTPProductEndpoint(baseURL string) *httpProductEndpoint {
	return &httpProductEndpoint{client: http.DefaultClient, baseURL: baseURL}
}

func (e *httpProductEndpoint) fetchTable(ctx context.Context, op, product string) ([]productconfig.Row, error) {
	url := fmt.Sprintf("%s/%s/%s", e.baseURL, product, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, caserr.Transport(stage, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, caserr.Transport(stage, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, caserr.Transport(stage, fmt.Errorf("%s: unexpected status %s", url, resp.Status))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, caserr.Transport(stage, fmt.Errorf("%s: reading body: %w", url, err))
	}
	return productconfig.ParseInfoTable(string(body)), nil
}

func (e *httpProductEndpoint) Versions(ctx context.Context, product string) ([]productconfig.Row, error) {
	return e.fetchTable(ctx, "versions", product)
}

func (e *httpProductEndpoint) CDNs(ctx context.Context, product string) ([]productconfig.Row, error) {
	return e.fetchTable(ctx, "cdns", product)
}
