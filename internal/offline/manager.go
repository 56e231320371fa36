package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultDynamicLimit = 50
	DefaultImageLimit   = 100
)

// DefaultPrecache mirrors the storefront's install-time manifest.
var DefaultPrecache = []string{
	"/",
	"/manifest.json",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
	"/offline",
}

// Doer performs upstream fetches; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	// Version suffixes every cache name; bumping it abandons all previous
	// caches on activation.
	Version      string
	Upstream     string
	DynamicLimit int
	ImageLimit   int
	Precache     []string
}

// Manager routes requests to one of three caching strategies based on
// request classification and proxies misses to the upstream origin.
type Manager struct {
	storage  *Storage
	static   *Cache
	dynamic  *Cache
	image    *Cache
	client   Doer
	upstream *url.URL
	precache []string
}

func NewManager(cfg Config, client Doer) (*Manager, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	if cfg.DynamicLimit == 0 {
		cfg.DynamicLimit = DefaultDynamicLimit
	}
	if cfg.ImageLimit == 0 {
		cfg.ImageLimit = DefaultImageLimit
	}
	if cfg.Precache == nil {
		cfg.Precache = DefaultPrecache
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	storage := NewStorage()
	return &Manager{
		storage:  storage,
		static:   storage.Open("static-"+cfg.Version, 0),
		dynamic:  storage.Open("dynamic-"+cfg.Version, cfg.DynamicLimit),
		image:    storage.Open("image-"+cfg.Version, cfg.ImageLimit),
		client:   client,
		upstream: upstream,
		precache: cfg.Precache,
	}, nil
}

// Storage exposes the underlying cache storage, mainly for activation
// bookkeeping and tests.
func (m *Manager) Storage() *Storage { return m.storage }

// Install precaches the manifest into the static cache. A failed precache
// fetch fails the install, the same way an addAll failure would.
func (m *Manager) Install(ctx context.Context) error {
	for _, p := range m.precache {
		entry, err := m.fetchPath(ctx, p)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		if entry.Status == http.StatusOK {
			m.static.Put(p, *entry)
		}
	}
	return nil
}

// Activate drops every cache from a previous version.
func (m *Manager) Activate() {
	deleted := m.storage.Activate(m.static.Name(), m.dynamic.Name(), m.image.Name())
	for _, name := range deleted {
		log.Info().Str("cache", name).Msg("deleted stale cache")
	}
}

type strategy int

const (
	passThrough strategy = iota
	cacheFirst
	staleWhileRevalidate
	networkFirst
)

var staticExtensions = map[string]bool{
	".js": true, ".css": true, ".woff": true, ".woff2": true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true,
}

// classify picks a strategy by request type: static assets are
// cache-first, images are stale-while-revalidate, everything else is
// network-first. API calls and non-GET requests bypass caching entirely.
func classify(r *http.Request) strategy {
	if r.Method != http.MethodGet {
		return passThrough
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return passThrough
	}

	ext := strings.ToLower(path.Ext(r.URL.Path))
	switch {
	case staticExtensions[ext] || strings.HasPrefix(r.URL.Path, "/_next/static/"):
		return cacheFirst
	case imageExtensions[ext] || r.Header.Get("Sec-Fetch-Dest") == "image":
		return staleWhileRevalidate
	default:
		return networkFirst
	}
}

// isNavigation mirrors the browser's mode=navigate classification.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch classify(r) {
	case cacheFirst:
		m.serveCacheFirst(w, r)
	case staleWhileRevalidate:
		m.serveStaleWhileRevalidate(w, r)
	case networkFirst:
		m.serveNetworkFirst(w, r)
	default:
		m.servePassThrough(w, r)
	}
}

func (m *Manager) serveCacheFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)
	if entry, ok := m.static.Get(key); ok {
		writeEntry(w, entry)
		return
	}

	entry, err := m.fetch(r)
	if err != nil {
		serveUnavailable(w)
		return
	}
	if entry.Status == http.StatusOK {
		m.static.Put(key, *entry)
	}
	writeEntry(w, *entry)
}

func (m *Manager) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)
	if entry, ok := m.image.Get(key); ok {
		// Serve stale immediately, refresh in the background for next time.
		revalidate := r.Clone(context.Background())
		go func() {
			fresh, err := m.fetch(revalidate)
			if err != nil || fresh.Status != http.StatusOK {
				return
			}
			m.image.Put(key, *fresh)
		}()
		writeEntry(w, entry)
		return
	}

	entry, err := m.fetch(r)
	if err != nil {
		serveUnavailable(w)
		return
	}
	if entry.Status == http.StatusOK {
		m.image.Put(key, *entry)
	}
	writeEntry(w, *entry)
}

func (m *Manager) serveNetworkFirst(w http.ResponseWriter, r *http.Request) {
	key := cacheKey(r)
	entry, err := m.fetch(r)
	if err == nil {
		if entry.Status == http.StatusOK {
			m.dynamic.Put(key, *entry)
		}
		writeEntry(w, *entry)
		return
	}

	if cached, ok := m.dynamic.Get(key); ok {
		writeEntry(w, cached)
		return
	}

	if isNavigation(r) {
		if offline, ok := m.static.Get("/offline"); ok {
			writeEntry(w, offline)
			return
		}
	}
	serveUnavailable(w)
}

func (m *Manager) servePassThrough(w http.ResponseWriter, r *http.Request) {
	entry, err := m.fetch(r)
	if err != nil {
		serveUnavailable(w)
		return
	}
	writeEntry(w, *entry)
}

func (m *Manager) fetch(r *http.Request) (*Entry, error) {
	target := *m.upstream
	target.Path = r.URL.Path
	// RawPath keeps percent-escaped segments escaped upstream.
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vv := range r.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}

	return m.do(req)
}

func (m *Manager) fetchPath(ctx context.Context, p string) (*Entry, error) {
	target := *m.upstream
	target.Path = p

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build precache request: %w", err)
	}
	return m.do(req)
}

func (m *Manager) do(req *http.Request) (*Entry, error) {
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &Entry{
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

func cacheKey(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

func writeEntry(w http.ResponseWriter, e Entry) {
	for k, vv := range e.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

func serveUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Service unavailable"))
}
