package blobstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// s3RoundTripper serves the subset of the S3 REST API the store uses from
// memory, in path-style addressing.
type s3RoundTripper struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func newMockS3(t *testing.T, bucket string) *S3Store {
	t.Helper()
	rt := &s3RoundTripper{bucket: bucket, objects: make(map[string][]byte)}
	s, err := NewS3Store(context.Background(), S3Config{
		Region:          "us-east-1",
		Bucket:          bucket,
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		HTTPClient:      &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	return s
}

func respond(req *http.Request, status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func (m *s3RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := "/" + m.bucket
	p := req.URL.Path
	if !strings.HasPrefix(p, prefix) {
		return respond(req, http.StatusNotFound, "", nil), nil
	}
	key := strings.TrimPrefix(strings.TrimPrefix(p, prefix), "/")

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return m.list(req), nil
	case req.Method == http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		m.objects[key] = body
		h := http.Header{}
		h.Set("ETag", `"etag"`)
		return respond(req, http.StatusOK, "", h), nil
	case req.Method == http.MethodGet:
		data, ok := m.objects[key]
		if !ok {
			h := http.Header{}
			h.Set("Content-Type", "application/xml")
			return respond(req, http.StatusNotFound,
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`, h), nil
		}
		h := http.Header{}
		h.Set("Content-Length", strconv.Itoa(len(data)))
		h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		return respond(req, http.StatusOK, string(data), h), nil
	case req.Method == http.MethodDelete:
		delete(m.objects, key)
		return respond(req, http.StatusNoContent, "", nil), nil
	}
	return respond(req, http.StatusBadRequest, "", nil), nil
}

func (m *s3RoundTripper) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", m.bucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;etag&quot;</ETag><LastModified>%s</LastModified></Contents>",
			k, len(m.objects[k]), time.Now().UTC().Format(time.RFC3339))
	}
	b.WriteString(`</ListBucketResult>`)

	h := http.Header{}
	h.Set("Content-Type", "application/xml")
	return respond(req, http.StatusOK, b.String(), h)
}

// decodeChunked strips aws-chunked framing ("<hex>;chunk-signature=...\r\n").
func decodeChunked(body []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(body))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil || n == 0 {
			break
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			break
		}
		out.Write(chunk)
		_, _ = r.ReadString('\n')
	}
	return out.Bytes()
}
