package httpcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"time"

	"github.com/Domenick1991/checkin/config"
	"github.com/Domenick1991/checkin/internal/camera"
	"github.com/Domenick1991/checkin/internal/domain"
)

const defaultFrameInterval = 200 * time.Millisecond

var ErrNoCamera = errors.New("no camera configured")

// Provider reads frames from IP cameras that serve a JPEG or PNG snapshot
// per GET. When the requested facing has no URL the other camera is used.
type Provider struct {
	urls     map[domain.FacingMode]string
	username string
	password string
	interval time.Duration
	hc       *http.Client
}

func NewProvider(cfg config.CameraConfig) *Provider {
	interval := cfg.FrameInterval()
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	return &Provider{
		urls: map[domain.FacingMode]string{
			domain.FacingFront: cfg.FrontURL,
			domain.FacingBack:  cfg.BackURL,
		},
		username: cfg.Username,
		password: cfg.Password,
		interval: interval,
		hc:       &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *Provider) resolve(facing domain.FacingMode) (string, error) {
	if url := p.urls[facing]; url != "" {
		return url, nil
	}
	other := facing.Opposite()
	if url := p.urls[other]; url != "" {
		log.Printf("httpcam: no %s camera, falling back to %s", facing, other)
		return url, nil
	}
	return "", ErrNoCamera
}

// Open probes the snapshot URL once so that auth failures surface here
// rather than on every frame.
func (p *Provider) Open(ctx context.Context, facing domain.FacingMode) (camera.Stream, error) {
	url, err := p.resolve(facing)
	if err != nil {
		return nil, err
	}
	if _, err := p.fetch(ctx, url); err != nil {
		return nil, err
	}
	return &stream{provider: p, url: url, ticker: time.NewTicker(p.interval)}, nil
}

func (p *Provider) fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("snapshot status %d: %w", resp.StatusCode, camera.ErrPermissionDenied)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("snapshot: unexpected status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

type stream struct {
	provider *Provider
	url      string
	ticker   *time.Ticker
}

func (s *stream) Next(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}
	return s.provider.fetch(ctx, s.url)
}

func (s *stream) Close() error {
	s.ticker.Stop()
	return nil
}

var _ camera.Provider = (*Provider)(nil)
