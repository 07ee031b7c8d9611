package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"go.firedancer.io/staker/pkg/genesis"
	"go.firedancer.io/staker/pkg/snapshot"
	"k8s.io/klog/v2"
)

var ErrArchiveNotFound = errors.New("archive not published")

func (c *RpcClient) DownloadSnapshot(ctx context.Context, path string) (int64, error) {
	return c.DownloadArchive(ctx, snapshot.FileName, path)
}

func (c *RpcClient) DownloadGenesis(ctx context.Context, path string) (int64, error) {
	return c.DownloadArchive(ctx, genesis.ArchiveFileName, path)
}

// DownloadArchive fetches the named archive from the node and writes it to
// path. path is replaced only once the download completes.
func (c *RpcClient) DownloadArchive(ctx context.Context, name string, path string) (int64, error) {
	archiveURL, err := url.JoinPath(c.endpoint, name)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", archiveURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrArchiveNotFound, archiveURL)
	default:
		return 0, fmt.Errorf("fetching %s: status %s", archiveURL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	var body io.Reader = resp.Body
	if c.progress != nil {
		reader := c.progress(name, resp.ContentLength, resp.Body)
		defer reader.Close()
		body = reader
	}

	size, err := io.Copy(tmp, body)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", archiveURL, err)
	}
	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return 0, err
	}
	klog.Infof("downloaded %s (%d bytes) to %s", archiveURL, size, path)
	return size, nil
}
