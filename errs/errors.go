// Package errs defines the error taxonomy shared by the scrape and download paths.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrAlreadyScraping is returned when a scrape is requested while one is running.
var ErrAlreadyScraping = errors.New("scrape already in progress")

// ErrInvalidInput indicates an empty or malformed seed list, URL or selection.
type ErrInvalidInput struct {
	Reason string
	Err    error
}

func (e ErrInvalidInput) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Reason, e.Err)
	}
	return "invalid input: " + e.Reason
}

func (e ErrInvalidInput) Unwrap() error {
	return e.Err
}

// ErrNetwork indicates a connection or timeout failure.
type ErrNetwork struct {
	URL     string
	Timeout bool
	Err     error
}

func (e ErrNetwork) Error() string {
	kind := "network"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s error for %s: %v", kind, e.URL, e.Err)
}

func (e ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrHTTP indicates a non-2xx response.
type ErrHTTP struct {
	URL        string
	StatusCode int
}

func (e ErrHTTP) Error() string {
	return fmt.Sprintf("http %d %s for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// ErrParse indicates a response body that could not be decoded at all.
type ErrParse struct {
	URL string
	Err error
}

func (e ErrParse) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// ErrInvalidDestination indicates a missing, non-directory or unwritable destination.
type ErrInvalidDestination struct {
	Path string
	Err  error
}

func (e ErrInvalidDestination) Error() string {
	return fmt.Sprintf("invalid destination %q: %v", e.Path, e.Err)
}

func (e ErrInvalidDestination) Unwrap() error {
	return e.Err
}

// ErrFilesystem indicates a failure creating or writing a downloaded file.
type ErrFilesystem struct {
	Path string
	Err  error
}

func (e ErrFilesystem) Error() string {
	return fmt.Sprintf("filesystem %s: %v", e.Path, e.Err)
}

func (e ErrFilesystem) Unwrap() error {
	return e.Err
}

// ErrPostProcess indicates a failed enhancement step. It is never fatal.
type ErrPostProcess struct {
	Path string
	Err  error
}

func (e ErrPostProcess) Error() string {
	return fmt.Sprintf("post-process %s: %v", e.Path, e.Err)
}

func (e ErrPostProcess) Unwrap() error {
	return e.Err
}

// Classify maps a transport error or HTTP status into the taxonomy.
// Errors that already belong to the taxonomy are returned unchanged.
func Classify(url string, err error, statusCode int) error {
	if err == nil {
		if statusCode == 0 || (statusCode >= 200 && statusCode < 300) {
			return nil
		}
		return ErrHTTP{URL: url, StatusCode: statusCode}
	}
	if isTaxonomy(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetwork{URL: url, Timeout: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrNetwork{URL: url, Timeout: netErr.Timeout(), Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrNetwork{URL: url, Err: err}
	}
	if statusCode != 0 && (statusCode < 200 || statusCode >= 300) {
		return ErrHTTP{URL: url, StatusCode: statusCode}
	}
	return ErrNetwork{URL: url, Err: err}
}

func isTaxonomy(err error) bool {
	var (
		invalid  ErrInvalidInput
		network  ErrNetwork
		httpErr  ErrHTTP
		parse    ErrParse
		dest     ErrInvalidDestination
		fsErr    ErrFilesystem
		postProc ErrPostProcess
	)
	return errors.As(err, &invalid) ||
		errors.As(err, &network) ||
		errors.As(err, &httpErr) ||
		errors.As(err, &parse) ||
		errors.As(err, &dest) ||
		errors.As(err, &fsErr) ||
		errors.As(err, &postProc) ||
		errors.Is(err, ErrAlreadyScraping)
}

// Label returns a short category used for metrics and logs.
func Label(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, ErrAlreadyScraping) {
		return "already_scraping"
	}
	var invalid ErrInvalidInput
	if errors.As(err, &invalid) {
		return "invalid_input"
	}
	var network ErrNetwork
	if errors.As(err, &network) {
		if network.Timeout {
			return "timeout"
		}
		return "network"
	}
	var httpErr ErrHTTP
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusForbidden:
			return "forbidden"
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		return "http"
	}
	var parse ErrParse
	if errors.As(err, &parse) {
		return "parse"
	}
	var dest ErrInvalidDestination
	if errors.As(err, &dest) {
		return "invalid_destination"
	}
	var fsErr ErrFilesystem
	if errors.As(err, &fsErr) {
		return "filesystem"
	}
	var postProc ErrPostProcess
	if errors.As(err, &postProc) {
		return "post_process"
	}
	return "other"
}
