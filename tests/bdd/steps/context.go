//go:build bdd

// Package steps provides godog step definitions for BDD tests.
package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext holds state shared across steps within a single scenario.
type TestContext struct {
	BaseURL        string
	LastResponse   *http.Response
	LastBody       []byte
	LastStatusCode int
	LastJSON       map[string]interface{}
	StoredValues   map[string]interface{} // for passing values between steps
	AuthKey        string                 // session key sent as X-Auth-Key

	// ResetLookup retrieves the pending reset id for a principal. The API
	// never returns reset ids, so in-process runs wire this to the backing
	// store; scenarios that redeem resets cannot run without it.
	ResetLookup func(principal string) (string, error)

	client *http.Client
}

// NewTestContext creates a fresh test context.
func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		BaseURL:      baseURL,
		StoredValues: make(map[string]interface{}),
		client:       &http.Client{Timeout: 5 * time.Second},
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.LastResponse = nil
	tc.LastBody = nil
	tc.LastStatusCode = 0
	tc.LastJSON = nil
	tc.StoredValues = make(map[string]interface{})
	tc.AuthKey = ""
}

// resolveVars replaces {{key}} placeholders in a string with stored values.
func (tc *TestContext) resolveVars(s string) string {
	for key, val := range tc.StoredValues {
		placeholder := "{{" + key + "}}"
		s = strings.ReplaceAll(s, placeholder, fmt.Sprintf("%v", val))
	}
	return s
}

// DoRequest sends an HTTP request and stores the response.
func (tc *TestContext) DoRequest(method, path string, body interface{}) error {
	path = tc.resolveVars(path)
	url := tc.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.AuthKey != "" {
		req.Header.Set("X-Auth-Key", tc.AuthKey)
	}

	return tc.send(req)
}

// DoRawRequest sends an HTTP request with a raw string body, for scenarios
// that deliberately post something other than well-formed JSON.
func (tc *TestContext) DoRawRequest(method, path string, body string) error {
	path = tc.resolveVars(path)
	url := tc.BaseURL + path

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.AuthKey != "" {
		req.Header.Set("X-Auth-Key", tc.AuthKey)
	}

	return tc.send(req)
}

func (tc *TestContext) send(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	tc.LastResponse = resp
	tc.LastStatusCode = resp.StatusCode
	tc.LastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	tc.LastJSON = nil
	if len(tc.LastBody) > 0 && tc.LastBody[0] == '{' {
		var obj map[string]interface{}
		if err := json.Unmarshal(tc.LastBody, &obj); err == nil {
			tc.LastJSON = obj
		}
	}

	return nil
}

// GET sends a GET request.
func (tc *TestContext) GET(path string) error {
	return tc.DoRequest("GET", path, nil)
}

// POST sends a POST request with JSON body.
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.DoRequest("POST", path, body)
}

// PUT sends a PUT request with JSON body.
func (tc *TestContext) PUT(path string, body interface{}) error {
	return tc.DoRequest("PUT", path, body)
}

// DELETE sends a DELETE request.
func (tc *TestContext) DELETE(path string) error {
	return tc.DoRequest("DELETE", path, nil)
}

// JSONField extracts a field from the last JSON response.
func (tc *TestContext) JSONField(key string) (interface{}, error) {
	if tc.LastJSON == nil {
		return nil, fmt.Errorf("no JSON object in last response")
	}
	val, ok := tc.LastJSON[key]
	if !ok {
		return nil, fmt.Errorf("field %q not found in response: %s", key, string(tc.LastBody))
	}
	return val, nil
}

// JSONFieldString extracts a string field from the last JSON response.
func (tc *TestContext) JSONFieldString(key string) (string, error) {
	val, err := tc.JSONField(key)
	if err != nil {
		return "", err
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string: %T", key, val)
	}
	return s, nil
}
