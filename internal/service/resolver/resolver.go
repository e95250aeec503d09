// Package resolver turns a rendered chart path into a URL a user can open.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"QuantGate/internal/domain/models"
	"QuantGate/pkg/logger"
)

// Detector finds a reachable host address.
type Detector interface {
	Detect(ctx context.Context, opts DetectOptions) string
}

// Resolver implements repository.URLResolver.
type Resolver struct {
	detector Detector
	logger   *logger.Logger
}

func NewResolver(detector Detector, l *logger.Logger) *Resolver {
	if l == nil {
		l = logger.Nop()
	}
	return &Resolver{detector: detector, logger: l.With(logger.String("component", "url_resolver"))}
}

// Resolve picks nginx, then builtin server, then file mode.
func (r *Resolver) Resolve(ctx context.Context, localPath string, cfg models.ResolverConfig) (models.ChartArtifact, error) {
	if localPath == "" {
		return models.ChartArtifact{}, errors.New("resolve: empty chart path")
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return models.ChartArtifact{}, fmt.Errorf("resolve %s: %w", localPath, err)
	}

	art := models.ChartArtifact{LocalPath: abs}
	switch {
	case cfg.Proxy.Enabled:
		art.Mode = models.ModeNginx
		art.ResolvedURL = r.nginxURL(ctx, abs, cfg)
	case cfg.Builtin.Requested():
		art.Mode = models.ModeBuiltin
		art.ResolvedURL = r.builtinURL(ctx, abs, cfg)
	default:
		art.Mode = models.ModeFile
		art.ResolvedURL = FileURL(abs)
	}

	r.logger.Info("chart url resolved",
		logger.String("mode", string(art.Mode)),
		logger.String("url", art.ResolvedURL))
	return art, nil
}

func (r *Resolver) nginxURL(ctx context.Context, abs string, cfg models.ResolverConfig) string {
	p := cfg.Proxy
	rel := relativeURLPath(abs, firstNonEmpty(p.ChartsDir, cfg.ChartsDir))
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/") + "/" + rel
	}

	scheme := "http"
	if p.UseHTTPS {
		scheme = "https"
	}
	host := p.Host
	if host == "" {
		host = r.detect(ctx, DetectOptions{UseMetadata: true, UsePublicIP: true})
	}
	return fmt.Sprintf("%s://%s/%s", scheme, hostPort(host, p.Port, scheme), rel)
}

func (r *Resolver) builtinURL(ctx context.Context, abs string, cfg models.ResolverConfig) string {
	b := cfg.Builtin
	rel := relativeURLPath(abs, firstNonEmpty(b.ChartsDir, cfg.ChartsDir))
	host := b.ServerHost
	if isWildcardHost(host) {
		host = r.detect(ctx, DetectOptions{UseMetadata: b.UseEC2Metadata, UsePublicIP: b.UsePublicIP})
	}
	port := b.ServerPort
	if port == 0 {
		port = 8000
	}
	return fmt.Sprintf("http://%s/%s", net.JoinHostPort(host, strconv.Itoa(port)), rel)
}

func (r *Resolver) detect(ctx context.Context, opts DetectOptions) string {
	if r.detector == nil {
		return fallbackHost
	}
	return r.detector.Detect(ctx, opts)
}

// FileURL renders an absolute path as a file:// URL.
func FileURL(abs string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if !strings.HasPrefix(u.Path, "/") {
		// windows drive letters
		u.Path = "/" + u.Path
	}
	return u.String()
}

// relativeURLPath is abs relative to root with escaped segments. Paths
// outside root collapse to the file name.
func relativeURLPath(abs, root string) string {
	rel := filepath.Base(abs)
	if root != "" {
		if rootAbs, err := filepath.Abs(root); err == nil {
			if r, err := filepath.Rel(rootAbs, abs); err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) {
				rel = r
			}
		}
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func hostPort(host string, port int, scheme string) string {
	if port == 0 || (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func isWildcardHost(h string) bool {
	switch h {
	case "", "0.0.0.0", "::", "[::]":
		return true
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
