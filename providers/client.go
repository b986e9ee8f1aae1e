package providers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/mediadesk/mediadesk/apperr"
)

// vendorClient is the one HTTP door to every generation vendor. It times
// and sizes each call for prometheus, logs failures, and turns non-2xx
// answers into apperr.ErrVendor with the vendor's own words attached.
type vendorClient struct {
	http   *http.Client
	logger *logrus.Logger
	vendor string
}

func newVendorClient(vendor string, logger *logrus.Logger) *vendorClient {
	initVendorMetrics()
	return &vendorClient{
		http:   &http.Client{Timeout: 90 * time.Second},
		logger: logger,
		vendor: vendor,
	}
}

// doJSON marshals body (when non-nil), performs the call and decodes the
// JSON answer into out (when non-nil).
func (v *vendorClient) doJSON(ctx context.Context, endpoint, method, url string, headers map[string]string, body, out interface{}) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrMarshal, "encode "+v.vendor+" request")
		}
		if headers == nil {
			headers = map[string]string{}
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}
	return v.do(ctx, endpoint, method, url, headers, raw, out)
}

// do performs one vendor call with a raw payload. out, when non-nil, is
// filled from the response body.
func (v *vendorClient) do(ctx context.Context, endpoint, method, url string, headers map[string]string, body []byte, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrVendor, "build "+v.vendor+" request")
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	start := time.Now()
	resp, err := v.http.Do(req)
	if err != nil {
		recordVendorMetrics(endpoint, v.vendor, method, 0, err, len(body), 0, time.Since(start))
		v.logger.WithFields(logrus.Fields{
			"vendor":   v.vendor,
			"endpoint": endpoint,
			"error":    err.Error(),
		}).Error("vendor request failed")
		return apperr.Wrap(err, apperr.ErrVendor, v.vendor+" unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	duration := time.Since(start)
	if err != nil {
		recordVendorMetrics(endpoint, v.vendor, method, resp.StatusCode, err, len(body), 0, duration)
		return apperr.Wrap(err, apperr.ErrVendor, "read "+v.vendor+" response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := errors.New(resp.Status)
		recordVendorMetrics(endpoint, v.vendor, method, resp.StatusCode, statusErr, len(body), len(respBody), duration)
		v.logger.WithFields(logrus.Fields{
			"vendor":   v.vendor,
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"response": snippet(respBody),
		}).Error("vendor returned an error status")
		return apperr.Wrap(statusErr, apperr.ErrVendor, v.vendor+" status "+resp.Status+": "+snippet(respBody))
	}

	recordVendorMetrics(endpoint, v.vendor, method, resp.StatusCode, nil, len(body), len(respBody), duration)
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		v.logger.WithFields(logrus.Fields{
			"vendor":   v.vendor,
			"endpoint": endpoint,
			"response": snippet(respBody),
		}).Error("vendor response is not the expected json")
		return apperr.Wrap(err, apperr.ErrVendor, "decode "+v.vendor+" response")
	}
	return nil
}

// download opens a streaming GET for a finished asset. The caller must
// close the reader; metrics are recorded on close with the bytes read.
func (v *vendorClient) download(ctx context.Context, endpoint, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrVendor, "build "+v.vendor+" download")
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}
	start := time.Now()
	resp, err := v.http.Do(req)
	if err != nil {
		recordVendorMetrics(endpoint, v.vendor, http.MethodGet, 0, err, 0, 0, time.Since(start))
		return nil, apperr.Wrap(err, apperr.ErrVendor, v.vendor+" download failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := errors.New(resp.Status)
		recordVendorMetrics(endpoint, v.vendor, http.MethodGet, resp.StatusCode, statusErr, 0, len(body), time.Since(start))
		return nil, apperr.Wrap(statusErr, apperr.ErrVendor, v.vendor+" download status "+resp.Status+": "+snippet(body))
	}
	return &meteredBody{
		ReadCloser: resp.Body,
		endpoint:   endpoint,
		vendor:     v.vendor,
		status:     resp.StatusCode,
		start:      start,
	}, nil
}

// meteredBody records download metrics once the caller finishes reading.
type meteredBody struct {
	io.ReadCloser
	endpoint string
	vendor   string
	status   int
	start    time.Time
	n        int
	done     bool
}

func (m *meteredBody) Read(p []byte) (int, error) {
	n, err := m.ReadCloser.Read(p)
	m.n += n
	return n, err
}

func (m *meteredBody) Close() error {
	if !m.done {
		m.done = true
		recordVendorMetrics(m.endpoint, m.vendor, http.MethodGet, m.status, nil, 0, m.n, time.Since(m.start))
	}
	return m.ReadCloser.Close()
}

// snippet keeps vendor bodies short enough for logs and error messages.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
