package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/expertsurvey/apiclient"
	"pkt.systems/expertsurvey/internal/appconfig"
	"pkt.systems/expertsurvey/internal/cookiestore"
	"pkt.systems/pslog"
)

// clientEnv is the resolved client side of a command invocation.
type clientEnv struct {
	cfg    appconfig.Config
	client *apiclient.Client
	jar    *cookiestore.Jar
}

// openClient loads config, resolves the API base and attaches the persistent
// session cookie jar.
func openClient(cmd *cobra.Command, opts *globalOptions) (*clientEnv, error) {
	logger := pslog.Ctx(cmd.Context())
	cfg, err := appconfig.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	base := apiclient.ResolveBaseURL(apiclient.BaseURLOptions{
		Explicit:     opts.serverURL,
		Configured:   cfg.Client.BaseURL,
		DeployDomain: cfg.Client.DeployDomain,
		Host:         host,
	})
	jar, err := cookiestore.Open(cfg.Client.CookieFile, base, logger)
	if err != nil {
		return nil, err
	}
	client, err := apiclient.New(base,
		apiclient.WithHTTPClient(newHTTPClient(cfg.Client.TimeoutSecs)),
		apiclient.WithJar(jar),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("client base resolved", "base_url", base, "cookie_file", jar.Path())
	return &clientEnv{cfg: cfg, client: client, jar: jar}, nil
}

// newHTTPClient applies client.timeout_seconds only when it is set.
func newHTTPClient(timeoutSecs int) *http.Client {
	if timeoutSecs <= 0 {
		return &http.Client{}
	}
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}
