package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mockPageSize = 2

// NewMockForTests returns a Store whose client talks to an in-process fake
// bucket. Only the calls Store makes are understood.
func NewMockForTests() *Store {
	bucket := newFakeBucket()
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(defaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIDMOCK", "mock-secret", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

func (o fakeObject) etag() string { return fmt.Sprintf(`"%x"`, md5.Sum(o.body)) }

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: make(map[string]fakeObject)} }

// RoundTrip serves path-style requests: /<bucket>/<key>.
func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return b.list(req)
	}
	switch req.Method {
	case http.MethodPut:
		return b.put(req, key)
	case http.MethodGet, http.MethodHead:
		obj, ok := b.objects[key]
		if !ok {
			return errorResponse(req, http.StatusNotFound, "NoSuchKey"), nil
		}
		h := objectHeaders(obj)
		body := []byte(nil)
		if req.Method == http.MethodGet {
			body = obj.body
		}
		return response(req, http.StatusOK, h, body), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return response(req, http.StatusNoContent, http.Header{}, nil), nil
	}
	return errorResponse(req, http.StatusNotImplemented, "NotImplemented"), nil
}

func (b *fakeBucket) put(req *http.Request, key string) (*http.Response, error) {
	if _, taken := b.objects[key]; taken && req.Header.Get("If-None-Match") == "*" {
		return errorResponse(req, http.StatusPreconditionFailed, "PreconditionFailed"), nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		body = decodeChunked(body)
	}
	md := map[string]string{}
	for name, vals := range req.Header {
		if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") && len(vals) > 0 {
			md[strings.ToLower(strings.TrimPrefix(strings.ToLower(name), "x-amz-meta-"))] = vals[0]
		}
	}
	obj := fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md, modified: time.Now().UTC()}
	b.objects[key] = obj
	return response(req, http.StatusOK, http.Header{"Etag": {obj.etag()}}, nil), nil
}

type listContents struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

type listResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	IsTruncated           bool           `xml:"IsTruncated"`
	KeyCount              int            `xml:"KeyCount"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listContents `xml:"Contents"`
}

// list returns mockPageSize keys per page; the continuation token is the
// last key of the previous page.
func (b *fakeBucket) list(req *http.Request) (*http.Response, error) {
	q := req.URL.Query()
	prefix, after := q.Get("prefix"), q.Get("continuation-token")
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	res := listResult{}
	if len(keys) > mockPageSize {
		keys = keys[:mockPageSize]
		res.IsTruncated = true
		res.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		obj := b.objects[k]
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			Size:         len(obj.body),
			ETag:         obj.etag(),
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	res.KeyCount = len(res.Contents)
	raw, err := xml.Marshal(res)
	if err != nil {
		return nil, err
	}
	return response(req, http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, raw), nil
}

func objectHeaders(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Etag":           {obj.etag()},
		"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
	}
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	for k, v := range obj.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func response(req *http.Request, status int, h http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func errorResponse(req *http.Request, status int, code string) *http.Response {
	if req.Method == http.MethodHead {
		return response(req, status, http.Header{}, nil)
	}
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	return response(req, status, http.Header{"Content-Type": {"application/xml"}}, []byte(body))
}

// decodeChunked unwraps an aws-chunked payload: <hex>[;ext]\r\n<data>\r\n
// repeated until a zero length chunk.
func decodeChunked(raw []byte) []byte {
	var out []byte
	for len(raw) > 0 {
		line, rest, ok := bytes.Cut(raw, []byte("\r\n"))
		if !ok {
			break
		}
		sizeHex, _, _ := bytes.Cut(line, []byte(";"))
		n, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil || n == 0 || int64(len(rest)) < n {
			break
		}
		out = append(out, rest[:n]...)
		raw = bytes.TrimPrefix(rest[n:], []byte("\r\n"))
	}
	return out
}
