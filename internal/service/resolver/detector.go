package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"QuantGate/pkg/cache"
	xhttp "QuantGate/pkg/http"
	"QuantGate/pkg/logger"
)

const (
	imdsTokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
	imdsTokenHeader    = "X-aws-ec2-metadata-token"
	fallbackHost       = "localhost"
)

// DetectorConfig holds the probe endpoints.
type DetectorConfig struct {
	MetadataURL      string
	MetadataTokenURL string
	PublicIPURLs     []string
	StepTimeout      time.Duration
	CacheTTL         time.Duration
}

// DetectOptions toggles the network probes. Interface and localhost steps
// always run.
type DetectOptions struct {
	UseMetadata bool
	UsePublicIP bool
}

func (o DetectOptions) cacheKey() string {
	return fmt.Sprintf("resolver:host:%t:%t", o.UseMetadata, o.UsePublicIP)
}

// HostDetector finds the address other machines can reach this host on.
type HostDetector struct {
	cfg        DetectorConfig
	client     *xhttp.Client
	cache      cache.Service
	logger     *logger.Logger
	interfaces func() ([]net.Interface, error)
}

// NewHostDetector builds a detector. memo may be nil to disable caching.
func NewHostDetector(cfg DetectorConfig, memo cache.Service, l *logger.Logger) *HostDetector {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if l == nil {
		l = logger.Nop()
	}
	return &HostDetector{
		cfg:        cfg,
		client:     xhttp.NewClient(xhttp.WithTimeout(cfg.StepTimeout)),
		cache:      memo,
		logger:     l.With(logger.String("component", "host_detector")),
		interfaces: net.Interfaces,
	}
}

// Detect tries EC2 metadata, public IP services, local interfaces and
// finally localhost. It never fails.
func (d *HostDetector) Detect(ctx context.Context, opts DetectOptions) string {
	key := opts.cacheKey()
	if d.cache != nil {
		var host string
		if err := d.cache.Get(ctx, key, &host); err == nil && host != "" {
			return host
		}
	}

	host, source := d.detect(ctx, opts)
	d.logger.Info("host detected", logger.String("host", host), logger.String("source", source))

	if d.cache != nil {
		if err := d.cache.Set(ctx, key, host, d.cfg.CacheTTL); err != nil {
			d.logger.Warn("cache detected host", logger.Error(err))
		}
	}
	return host
}

func (d *HostDetector) detect(ctx context.Context, opts DetectOptions) (string, string) {
	if opts.UseMetadata && d.cfg.MetadataURL != "" {
		ip, err := d.fromMetadata(ctx)
		if err == nil {
			return ip, "ec2_metadata"
		}
		d.logger.Debug("ec2 metadata unavailable", logger.Error(err))
	}
	if opts.UsePublicIP {
		for _, u := range d.cfg.PublicIPURLs {
			ip, err := d.fetchIP(ctx, u, nil)
			if err == nil {
				return ip, "public_ip"
			}
			d.logger.Debug("public ip service failed", logger.String("url", u), logger.Error(err))
		}
	}
	if ip := d.fromInterfaces(); ip != "" {
		return ip, "interface"
	}
	return fallbackHost, "fallback"
}

func (d *HostDetector) fromMetadata(ctx context.Context) (string, error) {
	headers := map[string]string{}
	if d.cfg.MetadataTokenURL != "" {
		tctx, cancel := context.WithTimeout(ctx, d.cfg.StepTimeout)
		var token []byte
		err := d.client.SendAndParse(tctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodPut,
			URL:     d.cfg.MetadataTokenURL,
			Headers: map[string]string{imdsTokenTTLHeader: "21600"},
		}, &token)
		cancel()
		if err == nil && len(token) > 0 {
			headers[imdsTokenHeader] = strings.TrimSpace(string(token))
		}
		// without a token fall through to IMDSv1
	}
	return d.fetchIP(ctx, d.cfg.MetadataURL, headers)
}

func (d *HostDetector) fetchIP(ctx context.Context, url string, headers map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.StepTimeout)
	defer cancel()

	var body []byte
	if err := d.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     url,
		Headers: headers,
	}, &body); err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%s returned %q, not an ip", url, ip)
	}
	return ip, nil
}

func (d *HostDetector) fromInterfaces() string {
	ifaces, err := d.interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipn.IP.To4(); v4 != nil && !v4.IsLoopback() {
				return v4.String()
			}
		}
	}
	return ""
}
