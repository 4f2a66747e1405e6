// Package panops sits between the CLI and the protocol client. It owns the
// "cookie file → authenticated pan.Session" glue, the caller-side retry
// policy for idempotent reads, the download task model and its runner, and
// the share batch pipeline (verify, transfer, optionally download).
//
// SessionProvider caches one authenticated session per cookie file so every
// command in a process shares a jar and a cached anti-CSRF token.
// Runner executes DownloadTasks as cancellable futures: Pause cancels
// cooperatively and keeps the partial file, Resume continues it with a
// range request.
package panops
