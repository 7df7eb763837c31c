package signals

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/alejandrodnm/predictbot/internal/domain"
	"github.com/alejandrodnm/predictbot/internal/ports"
)

const (
	// maxEntriesPerFeed limita cuántos items se leen de cada feed.
	maxEntriesPerFeed = 10
	// maxHeadlineAge descarta noticias más viejas que esto.
	maxHeadlineAge = 2 * time.Hour
	// seenRetention es cuánto tiempo se recuerdan titulares ya vistos.
	seenRetention = 24 * time.Hour
)

// RSSProvider lee los feeds configurados y devuelve titulares frescos
// como señales. Implementa ports.SignalProvider. Es seguro para uso
// concurrente: el set de titulares vistos va protegido por mutex.
type RSSProvider struct {
	feeds  []feedSource
	parser *gofeed.Parser
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

var _ ports.SignalProvider = (*RSSProvider)(nil)

// feedSource es un feed con su dominio ya extraído para clasificación.
type feedSource struct {
	name   string
	url    string
	domain string
	tier   string
}

// NewRSSProvider crea el provider a partir de la lista de URLs de feeds.
// El nombre y el tier de cada fuente se derivan del host del URL.
func NewRSSProvider(feedURLs []string) *RSSProvider {
	feeds := make([]feedSource, 0, len(feedURLs))
	for _, raw := range feedURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			slog.Warn("feed RSS con URL inválido, ignorado", "url", raw)
			continue
		}
		domain := normalizeDomain(u.Host)
		feeds = append(feeds, feedSource{
			name:   domain,
			url:    raw,
			domain: domain,
			tier:   classifyRSSDomain(domain),
		})
	}
	return &RSSProvider{
		feeds:  feeds,
		parser: gofeed.NewParser(),
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// BreakingNews devuelve los titulares frescos de todos los feeds. Un
// feed caído se loguea y se salta: las noticias de los demás siguen
// llegando al pipeline.
func (p *RSSProvider) BreakingNews(ctx context.Context) ([]domain.Signal, error) {
	now := p.now().UTC()
	p.pruneSeen(now)

	var signals []domain.Signal
	for _, feed := range p.feeds {
		parsed, err := p.parser.ParseURLWithContext(feed.url, ctx)
		if err != nil {
			slog.Warn("feed RSS falló", "feed", feed.name, "err", err)
			continue
		}

		entries := parsed.Items
		if len(entries) > maxEntriesPerFeed {
			entries = entries[:maxEntriesPerFeed]
		}
		for _, item := range entries {
			headline := strings.TrimSpace(item.Title)
			if headline == "" || p.markSeen(headline, now) {
				continue
			}

			published := now
			if item.PublishedParsed != nil {
				published = item.PublishedParsed.UTC()
				if now.Sub(published) > maxHeadlineAge {
					continue
				}
			}

			signals = append(signals, domain.Signal{
				Source:       "rss",
				SourceTier:   feed.tier,
				Content:      headline,
				Credibility:  domain.CredibilityForTier(feed.tier),
				Author:       feed.name,
				Timestamp:    published,
				HeadlineOnly: true,
			})
		}
	}

	slog.Debug("escaneo RSS completo", "feeds", len(p.feeds), "signals", len(signals))
	return signals, nil
}

// markSeen registra el titular y devuelve true si ya se había visto.
func (p *RSSProvider) markSeen(headline string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[headline]; ok {
		return true
	}
	p.seen[headline] = now
	return false
}

// pruneSeen olvida titulares más viejos que la retención.
func (p *RSSProvider) pruneSeen(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-seenRetention)
	for h, ts := range p.seen {
		if ts.Before(cutoff) {
			delete(p.seen, h)
		}
	}
}
