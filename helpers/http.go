package helpers

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"sync"
)

// MockHTTP is http.RoundTripper for tests.
// Responds with Fun result, or Err, or Header+Body (default 200 OK).
// Every request and its body is recorded.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Header []byte
	Body   []byte
	Err    error

	mu       sync.Mutex
	requests []MockRequest
}

type MockRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	m.record(req)
	if m.Fun != nil {
		return m.Fun(req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	header := m.Header
	if header == nil {
		header = []byte("HTTP/1.0 200 OK\r\n\r\n")
	}
	rb := make([]byte, 0, len(header)+len(m.Body))
	rb = append(rb, header...)
	rb = append(rb, m.Body...)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rb)), req)
}

func (m *MockHTTP) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockHTTP) record(req *http.Request) {
	r := MockRequest{Method: req.Method, URL: req.URL.String(), Header: req.Header.Clone()}
	if req.Body != nil {
		r.Body, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(r.Body))
	}
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()
}
