package service

import (
	"net/http"
)

// strippedResponseHeaders are removed from every upstream response.
var strippedResponseHeaders = []string{
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"Clear-Site-Data",
}

// SanitizeHeaders opens CORS and drops the headers that would stop the
// mirrored content from loading under another origin. Nothing else is
// touched, including caching and content headers.
func SanitizeHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Credentials", "true")
	for _, key := range strippedResponseHeaders {
		h.Del(key)
	}
}
