package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"expvar"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/helpers"
)

const (
	DefaultTimeout  = 15 * time.Second
	maxResponseBody = 4 << 10
)

type HTTPConfig struct {
	Timeout   time.Duration
	TlsCaFile string
	Insecure  bool
	// optional byte counters
	BytesOut *expvar.Int
	BytesIn  *expvar.Int
	// test code sets Transport
	Transport http.RoundTripper
}

type httpPoster struct {
	client *http.Client
	config HTTPConfig
}

func NewHTTPPoster(config HTTPConfig) (Poster, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.BytesOut == nil {
		config.BytesOut = new(expvar.Int)
	}
	if config.BytesIn == nil {
		config.BytesIn = new(expvar.Int)
	}
	rt := config.Transport
	if rt == nil {
		tlsconf := &tls.Config{InsecureSkipVerify: config.Insecure} //nolint:gosec
		if config.TlsCaFile != "" {
			cabytes, err := os.ReadFile(config.TlsCaFile)
			if err != nil {
				return nil, errors.Annotatef(err, "relay TLS ca file=%s", config.TlsCaFile)
			}
			tlsconf.RootCAs = x509.NewCertPool()
			if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
				return nil, errors.NotValidf("relay TLS ca file=%s no certificates", config.TlsCaFile)
			}
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = tlsconf
		// one batch in flight, keep single idle conn for the collector
		tr.MaxIdleConnsPerHost = 1
		rt = tr
	}
	return &httpPoster{
		client: &http.Client{Transport: rt, Timeout: config.Timeout},
		config: config,
	}, nil
}

func (self *httpPoster) Post(ctx context.Context, url, contentType string, body []byte, header http.Header) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		helpers.NewStatReader(bytes.NewReader(body), self.config.BytesOut, 0))
	if err != nil {
		return 0, nil, errors.Annotate(err, "relay request")
	}
	req.ContentLength = int64(len(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := self.client.Do(req)
	if err != nil {
		return 0, nil, errors.Annotate(err, "relay POST")
	}
	defer resp.Body.Close()
	// status is known, response body is only for logs so read error is ignored
	respBody, _ := io.ReadAll(io.LimitReader(helpers.NewStatReader(resp.Body, self.config.BytesIn, 0), maxResponseBody))
	return resp.StatusCode, respBody, nil
}
