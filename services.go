package main

import (
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/pansave/internal/fetch"
	"github.com/tonimelisma/pansave/internal/pan"
	"github.com/tonimelisma/pansave/internal/panops"
)

// Services holds the long-lived objects one command invocation shares: the
// protocol client, the cached session and the download glue.
type Services struct {
	Client     *pan.Client
	Sessions   *panops.SessionProvider
	Downloader *panops.Downloader
	Retry      panops.RetryPolicy
}

// newServices wires the protocol stack from the resolved config.
func newServices(cc *CLIContext) (*Services, error) {
	cfg := cc.Cfg

	client := pan.NewClient(pan.ClientConfig{
		BaseURL:           cfg.Provider.BaseURL,
		AppID:             cfg.Provider.AppID,
		Channel:           cfg.Provider.Channel,
		ClientType:        cfg.Provider.ClientType,
		UserAgent:         cfg.Session.UserAgent,
		DownloadUserAgent: cfg.Session.DownloadUserAgent,
		Timeout:           cfg.Network.TimeoutDuration(),
		Transport:         newTransport(cfg.Network.ConnectTimeoutDuration()),
	}, cc.Logger)

	policy := panops.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.BackoffDuration()}
	sessions := panops.NewSessionProvider(client, cfg.Session.CookieFile, policy, cc.Logger)

	limiter, err := fetch.NewBandwidthLimiter(cfg.Transfers.BandwidthLimit, cc.Logger)
	if err != nil {
		return nil, err
	}

	downloader := panops.NewDownloader(sessions, panops.DownloadOptions{
		ChunkSize: cfg.Transfers.ChunkBytes(),
		UserAgent: cfg.Session.DownloadUserAgent,
		Limiter:   limiter,
	}, policy, cc.Logger)

	return &Services{
		Client:     client,
		Sessions:   sessions,
		Downloader: downloader,
		Retry:      policy,
	}, nil
}

// newTransport bounds connection setup only. API requests get an overall
// timeout from the client; downloads must be able to run for hours.
func newTransport(connectTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	t.TLSHandshakeTimeout = connectTimeout

	return t
}

// newPipeline builds the share pipeline; runner may be nil when no job
// downloads.
func (s *Services) newPipeline(cc *CLIContext, runner *panops.Runner) *panops.Pipeline {
	onDup, ok := pan.ParseDuplicatePolicy(cc.Cfg.Transfers.OnDuplicate)
	if !ok {
		onDup = pan.DuplicateRenameCopy
	}

	return panops.NewPipeline(s.Sessions, runner, panops.PipelineOptions{
		Destination: cc.Cfg.Transfers.Destination,
		OnDuplicate: onDup,
		DownloadDir: cc.Cfg.Transfers.DownloadDir,
		Parallel:    cc.Cfg.Transfers.ParallelDownloads,
	}, s.Retry, cc.Logger)
}
