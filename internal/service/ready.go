package service

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	readyRequestTimeout = time.Second
	outputTailBytes     = 500
)

// awaitReady blocks until the spec's readiness condition is met or the start
// window closes. Exactly one outcome is produced; the first of {condition
// met, child exit, timeout, ctx cancellation} wins and nothing observes the
// child afterwards. On timeout or cancellation the child is force-killed
// before the error is reported, so a failed start never leaves a process
// running unobserved.
func awaitReady(ctx context.Context, p *proc, spec Spec) error {
	deadline := time.NewTimer(spec.startTimeout())
	defer deadline.Stop()

	if spec.Ready.Signal != "" {
		return awaitSignal(ctx, p, spec, deadline.C)
	}
	return awaitURL(ctx, p, spec, deadline.C)
}

// awaitSignal polls the accumulated combined output for the configured
// substring. Output only ever grows, so a signal emitted at any point is
// found on the next tick.
func awaitSignal(ctx context.Context, p *proc, spec Spec, deadline <-chan time.Time) error {
	tick := time.NewTicker(signalPollInterval)
	defer tick.Stop()
	for {
		// Check before selecting so a signal that arrived together with the
		// exit of a short-lived readiness probe still counts.
		if strings.Contains(p.out.Combined(), spec.Ready.Signal) {
			return nil
		}
		select {
		case <-p.waitDone:
			if strings.Contains(p.out.Combined(), spec.Ready.Signal) {
				return nil
			}
			return earlyExitError(p, spec)
		case <-deadline:
			return timeoutError(p, spec)
		case <-ctx.Done():
			return cancelError(p, spec, ctx.Err())
		case <-tick.C:
		}
	}
}

// awaitURL polls the readiness URL until it answers with a 2xx status. Each
// request is bounded independently of the overall start window.
func awaitURL(ctx context.Context, p *proc, spec Spec, deadline <-chan time.Time) error {
	client := &http.Client{Timeout: readyRequestTimeout}
	tick := time.NewTicker(spec.Ready.interval())
	defer tick.Stop()
	for {
		if probeOK(client, spec.Ready.URL) {
			return nil
		}
		select {
		case <-p.waitDone:
			return earlyExitError(p, spec)
		case <-deadline:
			return timeoutError(p, spec)
		case <-ctx.Done():
			return cancelError(p, spec, ctx.Err())
		case <-tick.C:
		}
	}
}

func probeOK(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func earlyExitError(p *proc, spec Spec) error {
	code, _ := p.exitCode()
	return newError(spec.Name, KindEarlyExit,
		"exited with code %d before becoming ready; output: %s", code, p.out.Tail(outputTailBytes))
}

func timeoutError(p *proc, spec Spec) error {
	_ = p.kill()
	return newError(spec.Name, KindTimeout,
		"Not ready within %v; output: %s", spec.startTimeout(), p.out.Tail(outputTailBytes))
}

func cancelError(p *proc, spec Spec, cause error) error {
	_ = p.kill()
	e := newError(spec.Name, KindCanceled,
		"start canceled while waiting for readiness: %v", cause)
	e.Err = cause
	return e
}
