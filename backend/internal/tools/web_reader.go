package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"threadnote/backend/internal/constants"
	"threadnote/backend/internal/graph"
	"threadnote/backend/pkg/logger"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxConcurrentFetches bounds parallel page fetches per request
const MaxConcurrentFetches = 4

// Page is the readable part of a fetched web page
type Page struct {
	URL   string
	Title string
	Text  string
}

// MaxRedirects bounds the redirects followed for one fetch
const MaxRedirects = 5

// ErrNonPublicAddress is returned when a fetch would connect to a loopback,
// private, link-local or otherwise internal address
var ErrNonPublicAddress = errors.New("refusing to connect to non-public address")

// cgnatBlock is the shared address space of RFC 6598
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// WebReader fetches pages and reduces them to title and main text
type WebReader struct {
	httpClient   *http.Client
	maxBytes     int64
	maxChars     int
	allowPrivate bool
	logger       *zap.Logger
}

// NewWebReader creates a reader with a per-fetch timeout and body size limit.
// Only public addresses are dialed; the check runs on every connection, so
// redirects and DNS answers pointing inside the network are refused too.
func NewWebReader(timeout time.Duration, maxBytes int64) *WebReader {
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	r := &WebReader{
		maxBytes: maxBytes,
		maxChars: constants.MaxSourceChars,
		logger:   logger.Named("web_reader"),
	}

	dialer := &net.Dialer{Timeout: timeout, Control: r.checkAddress}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	// A proxy would be dialed instead of the target and bypass the check
	transport.Proxy = nil

	r.httpClient = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
	return r
}

// SetAllowPrivateHosts lets the reader fetch from loopback and private
// networks. Only meant for local development.
func (r *WebReader) SetAllowPrivateHosts(allow bool) {
	r.allowPrivate = allow
}

// checkAddress runs after DNS resolution with the literal ip:port being dialed
func (r *WebReader) checkAddress(network, address string, _ syscall.RawConn) error {
	if r.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNonPublicAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrNonPublicAddress, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		cgnatBlock.Contains(ip))
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", MaxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("refusing redirect to %s", req.URL.Scheme)
	}
	return nil
}

// Fetch downloads one page
func (r *WebReader) Fetch(ctx context.Context, urlStr string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ThreadnoteBot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", urlStr, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, r.maxBytes)
	if !isHTML(resp.Header.Get("Content-Type")) {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", urlStr, err)
		}
		return &Page{URL: urlStr, Text: r.clip(strings.Join(strings.Fields(string(data)), " "))}, nil
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}

	return &Page{
		URL:   urlStr,
		Title: pageTitle(doc),
		Text:  r.clip(mainText(doc)),
	}, nil
}

// FetchAll fetches pages concurrently. Pages that fail are logged and left
// out; the rest keep the order of urls.
func (r *WebReader) FetchAll(ctx context.Context, urls []string) []Page {
	results := make([]*Page, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentFetches)
	for i, u := range urls {
		g.Go(func() error {
			page, err := r.Fetch(gctx, u)
			if err != nil {
				r.logger.Debug("Skipping source", zap.String("url", u), zap.Error(err))
				return nil
			}
			results[i] = page
			return nil
		})
	}
	_ = g.Wait()

	pages := make([]Page, 0, len(urls))
	for _, p := range results {
		if p != nil {
			pages = append(pages, *p)
		}
	}
	return pages
}

// ResolveTitles fills in missing citation titles from the pages themselves.
// Citations whose page cannot be read fall back to the host name.
func (r *WebReader) ResolveTitles(ctx context.Context, citations []graph.Citation) []graph.Citation {
	out := make([]graph.Citation, len(citations))
	copy(out, citations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentFetches)
	for i := range out {
		if out[i].Title != "" {
			continue
		}
		g.Go(func() error {
			if page, err := r.Fetch(gctx, out[i].URL); err == nil && page.Title != "" {
				out[i].Title = page.Title
				return nil
			}
			out[i].Title = hostOf(out[i].URL)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *WebReader) clip(s string) string {
	return graph.TruncateRunes(s, r.maxChars)
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html")
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

// mainText prefers <article> or <main> and drops chrome and scripts
func mainText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, iframe, svg, nav, header, footer, aside, form").Remove()

	sel := doc.Find("article").First()
	if sel.Length() == 0 {
		sel = doc.Find("main").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func hostOf(urlStr string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(urlStr, "https://"), "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "www.")
}
