package httpapi

import (
	"net/http"
	"strings"
)

// normalizeBasePath reduces a configured mount point to "" or "/a[/b...]".
// Repeated and trailing slashes are dropped.
func normalizeBasePath(value string) string {
	segments := strings.FieldsFunc(strings.TrimSpace(value), func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return ""
	}
	return "/" + strings.Join(segments, "/")
}

// endpoint is one public route, listed on the landing page.
type endpoint struct {
	method string
	path   string
	query  string
}

var endpoints = []endpoint{
	{method: http.MethodGet, path: "/health"},
	{method: http.MethodGet, path: "/get_user"},
	{method: http.MethodPost, path: "/set_user"},
	{method: http.MethodPost, path: "/logout"},
	{method: http.MethodGet, path: "/patients"},
	{method: http.MethodGet, path: "/patient", query: "row=&include_my="},
	{method: http.MethodPost, path: "/claim"},
	{method: http.MethodPost, path: "/release"},
	{method: http.MethodPost, path: "/submit_prediction"},
	{method: http.MethodPost, path: "/update_prediction"},
	{method: http.MethodGet, path: "/next_patient", query: "after="},
	{method: http.MethodGet, path: "/user_progress"},
	{method: http.MethodGet, path: "/metrics"},
	{method: http.MethodGet, path: "/csv"},
}

// describeEndpoints renders the route table mounted under base.
func describeEndpoints(base string) []string {
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		line := ep.method + " " + base + ep.path
		if ep.query != "" {
			line += "?" + ep.query
		}
		out = append(out, line)
	}
	return out
}
