package common

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// HttpInvokeJson sends reqBody (may be nil) as JSON and returns the raw response body of a 2xx answer.
// Any other outcome is reported as *ErrHttpInvoke; Cause is set when no response was received.
func HttpInvokeJson(ctx context.Context, client *http.Client, method, url string, headers http.Header, reqBody []byte) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NewErrHttpInvoke(req, reqBody, nil, nil, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}
	for name, values := range headers {
		req.Header.Del(name)
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewErrHttpInvoke(req, reqBody, nil, nil, err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewErrHttpInvoke(req, reqBody, resp, nil, err)
	}
	if !HttpStatusIsSuccess(resp.StatusCode) {
		return nil, NewErrHttpInvoke(req, reqBody, resp, respBody, nil)
	}

	return respBody, nil
}

func HttpStatusIsSuccess(status int) bool {
	return status >= 200 && status < 300
}

type ErrHttpInvoke struct {
	Method     string
	Url        string
	ReqHeaders http.Header
	ReqBody    []byte

	StatusCode  int
	StatusText  string
	RespHeaders http.Header
	RespBody    []byte

	Cause error
}

func NewErrHttpInvoke(req *http.Request, reqBody []byte, resp *http.Response, respBody []byte, cause error) *ErrHttpInvoke {
	err := ErrHttpInvoke{}
	err.Cause = cause
	if req != nil {
		err.Method = req.Method
		err.Url = req.URL.String()
		err.ReqHeaders = req.Header
		err.ReqBody = reqBody
	}

	if resp != nil {
		err.StatusCode = resp.StatusCode
		err.StatusText = resp.Status
		err.RespHeaders = resp.Header
		err.RespBody = respBody
	}
	return &err
}

// Responded reports whether the server answered at all.
func (e *ErrHttpInvoke) Responded() bool {
	return e.StatusCode != 0
}

func (e *ErrHttpInvoke) Error() string {
	if !e.Responded() {
		return fmt.Sprintf("http invoke failed. request %s %s: %v", e.Method, e.Url, e.Cause)
	}
	return fmt.Sprintf("http invoke failed. request %s %s, body: '%s'. response %s, body: '%s'",
		e.Method, e.Url, e.ReqBody, e.StatusText, e.RespBody)
}

func (e *ErrHttpInvoke) Unwrap() error {
	return e.Cause
}
