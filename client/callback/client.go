// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package callback implements the upstream-facing reporting interface
// announcing a job as PROCESSING and later
// reporting it DONE with its result artifacts attached. A callback
// failure is logged and swallowed — it must never abort the queue
// manager.
package callback

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Status is the lifecycle status reported to the upstream service.
type Status string

const (
	// Processing announces that a job has begun running. It carries no
	// artifacts.
	Processing Status = "PROCESSING"
	// Done reports a job's terminal outcome,
	// together with every *.vmr artifact produced.
	Done Status = "DONE"
)

// Client posts job status updates to the upstream submission service.
type Client struct {
	url    string
	logger hclog.Logger
	http   *retryablehttp.Client
}

// New constructs a Client that posts to url (the upstream callback
// endpoint configured for the course).
func New(logger hclog.Logger, url string) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.Logger = nil // retries are not logged; Announce and Report log the final failure
	rc.RetryMax = 3

	return &Client{
		url:    url,
		logger: logger.Named("callback"),
		http:   rc,
	}
}

// Announce reports that job has begun processing. Any failure is logged
// and swallowed: callback failure does not abort the queue manager.
func (c *Client) Announce(job string) {
	if err := c.post(job, Processing, nil); err != nil {
		c.logger.Warn("callback announce failed", "job", job, "error", err)
	}
}

// Report reports job's terminal status, attaching every file in files
// (name -> absolute path). Any failure is logged and swallowed; it never
// aborts the job that triggered it.
func (c *Client) Report(job string, status Status, files map[string]string) {
	if err := c.post(job, status, files); err != nil {
		c.logger.Warn("callback report failed", "job", job, "status", status, "error", err)
	}
}

func (c *Client) post(job string, status Status, files map[string]string) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if err := mw.WriteField("job", job); err != nil {
		return fmt.Errorf("encoding callback body: %w", err)
	}
	if err := mw.WriteField("status", string(status)); err != nil {
		return fmt.Errorf("encoding callback body: %w", err)
	}

	for name, path := range files {
		if err := attachFile(mw, name, path); err != nil {
			return fmt.Errorf("attaching %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing callback body: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.url, body)
	if err != nil {
		return fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func attachFile(mw *multipart.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(name, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
