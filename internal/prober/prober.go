package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

var (
	ErrProbeTimeout    = errors.New("probe timed out")
	ErrProbeConnection = errors.New("probe connection failed")
	ErrProbeParse      = errors.New("probe payload unparseable")
)

const (
	maxBodyBytes = 1 << 20
	snippetRunes = 63
)

// Prober takes one sample of a host or server per call.
type Prober struct {
	client  *http.Client
	pinger  Pinger
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Prober)

// WithHTTPClient replaces the client used for status fetches. Its Timeout is
// left alone; the probe timeout is applied through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Prober) { p.now = now }
}

func New(timeout time.Duration, pinger Pinger, log *slog.Logger, opts ...Option) *Prober {
	p := &Prober{
		client:  &http.Client{},
		pinger:  pinger,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProbeHost pings the host once. Any failure yields Alive=false with the
// latency measured up to the failure.
func (p *Prober) ProbeHost(ctx context.Context, host models.Host) models.PingSample {
	when := p.now()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	alive, err := p.pinger.Ping(ctx, host.ID, p.timeout)
	sample := models.PingSample{
		HostID:    host.ID,
		When:      when,
		Alive:     alive && err == nil,
		LatencyNs: time.Since(start).Nanoseconds(),
	}

	if err != nil {
		p.log.Warn("Ping failed",
			slog.String("host", host.ID),
			slog.Any("err", classify(ctx, err)))
	}
	return sample
}

// ProbeServer fetches and parses the server's status document.
func (p *Prober) ProbeServer(ctx context.Context, server models.Server) models.StatusSample {
	sample := models.StatusSample{ServerID: server.ID, When: p.now()}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, code, err := p.fetch(ctx, server.StatusURL)
	sample.LatencyNs = time.Since(start).Nanoseconds()

	if err != nil {
		err = classify(ctx, err)
		sample.HTTPStatusCode = -1
		sample.IsBusted = true
		sample.BustedReason = err.Error()
		p.log.Warn("Status fetch failed",
			slog.String("server", server.ID),
			slog.Any("err", err))
		return sample
	}

	sample.HTTPStatusCode = code
	if err := applyPayload(&sample, body); err != nil {
		sample.IsSetup = false
		sample.IsBusted = true
		sample.BustedReason = fmt.Sprintf("%d Fail: %s", code, snippet(body))
		p.log.Warn("Unable to parse status",
			slog.String("server", server.ID),
			slog.Int("statusCode", code),
			slog.Any("err", err))
		return sample
	}

	if code != http.StatusOK {
		sample.IsBusted = true
		if sample.BustedReason == "" {
			sample.BustedReason = fmt.Sprintf("HTTP %d", code)
		}
	}
	return sample
}

func (p *Prober) fetch(ctx context.Context, statusURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, err
	}
	return body, res.StatusCode, nil
}

func applyPayload(sample *models.StatusSample, body []byte) error {
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		return fmt.Errorf("%w: status document is not an object", ErrProbeParse)
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrProbeParse, err)
	}

	sample.IsSetup = bool(payload.IsSetup)
	sample.IsBusted = bool(payload.IsBusted)

	st := payload.Status
	if st == nil {
		return nil
	}
	sample.IsSetup = bool(st.IsSetup)
	if st.IsBusted.set {
		sample.IsBusted = true
		sample.BustedReason = st.IsBusted.reason
		if sample.BustedReason == "" {
			sample.BustedReason = "busted"
		}
	}
	sample.Users = st.Users.intPtr()
	sample.Guests = st.Guests.intPtr()
	sample.DBUsed = st.DBUsed.intPtr()
	sample.MemFree = st.MemFree.floatPtr()
	sample.MemTotal = st.MemTotal.floatPtr()
	if st.SysLoad.ok {
		sample.Load = st.SysLoad.String()
		if st.SysProcs.ok {
			sample.Load += " cpu=" + st.SysProcs.String()
		}
	}
	sample.Uptime = string(st.Uptime)
	if st.Stamp.ok {
		stamp := time.UnixMilli(int64(st.Stamp.v)).UTC()
		sample.Stamp = &stamp
	}
	sample.Version = strings.TrimSpace(string(st.Phase) + " " + string(st.NewVersion))
	sample.Environment = string(st.Environment)
	return nil
}

func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrProbeTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProbeConnection, err)
}

func snippet(body []byte) string {
	r := []rune(string(body))
	if len(r) <= snippetRunes {
		return string(r)
	}
	return string(r[:snippetRunes]) + "…"
}
