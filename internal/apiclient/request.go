package apiclient

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// ContentTypeJSON is the default body encoding.
const ContentTypeJSON = "application/json"

// Request describes one logical call against the backend.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
}

// NewRequest builds a request carrying a raw JSON body.
func NewRequest(method, path string, body []byte) Request {
	return Request{Method: method, Path: path, Body: body, ContentType: ContentTypeJSON}
}

// Get builds a GET request.
func Get(path string, query url.Values) Request {
	return Request{Method: http.MethodGet, Path: path, Query: query}
}

// Delete builds a DELETE request.
func Delete(path string) Request {
	return Request{Method: http.MethodDelete, Path: path}
}

// JSON builds a request whose body is v encoded as JSON.
func JSON(method, path string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, &EncodingError{Err: err}
	}
	return NewRequest(method, path, body), nil
}
