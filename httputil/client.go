// Copyright (c) 2023 Enver Bisevac
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.


package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/enverbisevac/distlock/errors"
)

// Client is a small JSON client. Non 2xx responses are returned as
// *errors.Status decoded from the server's error body.
type Client struct {
	client *http.Client
	base   string
	header http.Header
}

// ClientOption configures a Client.
type ClientOption interface {
	Apply(*Client)
}

// ClientOptionFunc is a function that configures a Client.
type ClientOptionFunc func(*Client)

// Apply calls f(c).
func (f ClientOptionFunc) Apply(c *Client) {
	f(c)
}

// WithHTTPClient sets the underlying http client. This can be used in
// conjunction with golang.org/x/oauth2 to authenticate requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return ClientOptionFunc(func(c *Client) {
		c.client = client
	})
}

// WithDefaultHeader adds a header to every request.
func WithDefaultHeader(key, value string) ClientOption {
	return ClientOptionFunc(func(c *Client) {
		c.header.Add(key, value)
	})
}

// RequestOption configures a single request.
type RequestOption interface {
	Apply(*http.Request)
}

// RequestOptionFunc is a function that configures a request.
type RequestOptionFunc func(*http.Request)

// Apply calls f(r).
func (f RequestOptionFunc) Apply(r *http.Request) {
	f(r)
}

// WithQuery sets the request query string.
func WithQuery(values url.Values) RequestOption {
	return RequestOptionFunc(func(r *http.Request) {
		r.URL.RawQuery = values.Encode()
	})
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return RequestOptionFunc(func(r *http.Request) {
		r.Header.Set(key, value)
	})
}

func NewClient(uri string, options ...ClientOption) *Client {
	c := &Client{
		client: http.DefaultClient,
		base:   uri,
		header: make(http.Header),
	}

	for _, opt := range options {
		opt.Apply(c)
	}

	return c
}

// helper function for making an http GET request.
func (c *Client) Get(ctx context.Context, rawurl string, out any, options ...RequestOption) error {
	return c.do(ctx, rawurl, http.MethodGet, nil, out, options...)
}

// helper function for making an http POST request.
func (c *Client) Post(ctx context.Context, rawurl string, in, out any, options ...RequestOption) error {
	return c.do(ctx, rawurl, http.MethodPost, in, out, options...)
}

// helper function for making an http PUT request.
func (c *Client) Put(ctx context.Context, rawurl string, in, out any, options ...RequestOption) error {
	return c.do(ctx, rawurl, http.MethodPut, in, out, options...)
}

// helper function for making an http PATCH request.
func (c *Client) Patch(ctx context.Context, rawurl string, in, out any, options ...RequestOption) error {
	return c.do(ctx, rawurl, http.MethodPatch, in, out, options...)
}

// helper function for making an http DELETE request.
func (c *Client) Delete(ctx context.Context, rawurl string, options ...RequestOption) error {
	return c.do(ctx, rawurl, http.MethodDelete, nil, nil, options...)
}

// helper function to make an http request.
func (c *Client) do(ctx context.Context, rawurl, method string, in, out any, options ...RequestOption) error {
	body, err := c.stream(ctx, rawurl, method, in, options...)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(body)

	// if a json response is expected, parse and return
	// the json response.
	if out != nil {
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return fmt.Errorf("httputil: decode %s %s response: %w", method, rawurl, err)
		}
	}
	return nil
}

// helper function to stream a http request. rawurl is joined to the base
// url as an already escaped path.
func (c *Client) stream(ctx context.Context, rawurl, method string, in any, options ...RequestOption) (io.ReadCloser, error) {
	uri, err := url.JoinPath(c.base, rawurl)
	if err != nil {
		return nil, err
	}

	// if we are posting or putting data, we need to
	// write it to the body of the request.
	var buf io.Reader
	if in != nil {
		b := &bytes.Buffer{}
		if err = json.NewEncoder(b).Encode(in); err != nil {
			return nil, err
		}
		buf = b
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, buf)
	if err != nil {
		return nil, err
	}
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, opt := range options {
		opt.Apply(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var errorResponse errors.HttpResponse
		// a body that is not an error document still yields a status
		_ = json.NewDecoder(resp.Body).Decode(&errorResponse)
		return nil, errors.FromResponse(resp.StatusCode, errorResponse)
	}
	return resp.Body, nil
}
