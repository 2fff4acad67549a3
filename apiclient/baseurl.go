package apiclient

import (
	"os"
	"strings"
)

// EnvBaseURL overrides the configured API base.
const EnvBaseURL = "EXPERTSURVEY_API_BASE"

// LocalBaseURL is used when nothing else resolves.
const LocalBaseURL = "http://localhost:5001/api"

// BaseURLOptions feeds ResolveBaseURL.
type BaseURLOptions struct {
	// Explicit comes from a command-line flag.
	Explicit string
	// Configured comes from client.base_url.
	Configured string
	// DeployDomain is the public domain the API is served under.
	DeployDomain string
	// Host is the host the client believes it runs on.
	Host string
}

// ResolveBaseURL picks the API base: explicit flag, then the environment, then
// configuration, then a deployment guess from Host, then localhost.
func ResolveBaseURL(opts BaseURLOptions) string {
	if v := strings.TrimSpace(opts.Explicit); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		return strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(opts.Configured); v != "" {
		return strings.TrimRight(v, "/")
	}
	domain := strings.Trim(strings.ToLower(strings.TrimSpace(opts.DeployDomain)), ".")
	host := strings.Trim(strings.ToLower(strings.TrimSpace(opts.Host)), ".")
	if domain != "" && host != "" && (host == domain || strings.HasSuffix(host, "."+domain)) {
		return "https://api." + domain + "/api"
	}
	return LocalBaseURL
}
