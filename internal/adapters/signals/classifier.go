// Package signals implementa el pipeline de noticias RSS: lee los feeds
// configurados, deduplica titulares y devuelve señales puntuadas por
// tier de fuente (S1 oficial … S6 desconocida).
package signals

import "strings"

// Registro de fuentes conocidas por dominio RSS. Un dominio que no
// matchea ninguna lista cae a S6.
var (
	officialDomains = map[string]struct{}{
		"whitehouse.gov":     {},
		"federalreserve.gov": {},
		"sec.gov":            {},
		"bls.gov":            {},
		"treasury.gov":       {},
	}
	wireDomains = map[string]struct{}{
		"reuters.com": {},
		"apnews.com":  {},
		"afp.com":     {},
	}
	institutionalDomains = map[string]struct{}{
		"bbc.com":           {},
		"bbc.co.uk":         {},
		"cnn.com":           {},
		"nytimes.com":       {},
		"wsj.com":           {},
		"bloomberg.com":     {},
		"ft.com":            {},
		"coindesk.com":      {},
		"cointelegraph.com": {},
	}
)

// classifyRSSDomain clasifica un dominio de feed en S1/S2/S3, o S6 si
// no está en el registro. Subdominios de fuentes conocidas heredan el
// tier ("feeds.reuters.com" → S2).
func classifyRSSDomain(raw string) string {
	domain := normalizeDomain(raw)
	if domain == "" {
		return "S6"
	}
	for d := range officialDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return "S1"
		}
	}
	for d := range wireDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return "S2"
		}
	}
	for d := range institutionalDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return "S3"
		}
	}
	return "S6"
}

// normalizeDomain quita protocolo, prefijo www y slashes finales.
func normalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"https://", "http://", "www."} {
		domain = strings.TrimPrefix(domain, prefix)
	}
	return strings.TrimRight(domain, "/")
}
