// Package api talks to the renderer server's HTTP API.
package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vanetsim/pseudosim/pkg/core"
)

// UploadMetadata describes a finished run sent alongside its export file.
type UploadMetadata struct {
	RunID    string
	Strategy string
	Seed     int64
	Duration core.SimTime
	LinkRate float64
	Tag      string
}

// MetadataFor builds upload metadata from a recorded run and its evaluation.
func MetadataFor(run core.Run, duration core.SimTime, ev core.Evaluation, tag string) UploadMetadata {
	return UploadMetadata{
		RunID:    run.ID,
		Strategy: run.Strategy,
		Seed:     run.Seed,
		Duration: duration,
		LinkRate: ev.LinkRate,
		Tag:      tag,
	}
}

// Client handles communication with the renderer server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload sends an exported run file to the server.
func (c *Client) Upload(filePath string, meta UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		_ = writer.WriteField("secret", c.apiKey)
		_ = writer.WriteField("filename", filepath.Base(filePath))
		_ = writer.WriteField("runId", meta.RunID)
		_ = writer.WriteField("strategy", meta.Strategy)
		_ = writer.WriteField("seed", strconv.FormatInt(meta.Seed, 10))
		_ = writer.WriteField("durationMs", strconv.FormatInt(int64(meta.Duration), 10))
		_ = writer.WriteField("linkRate", strconv.FormatFloat(meta.LinkRate, 'f', 4, 64))
		_ = writer.WriteField("tag", meta.Tag)

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			errCh <- fmt.Errorf("failed to copy file: %w", err)
			return
		}
		errCh <- nil
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/runs/add", pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return nil
}
