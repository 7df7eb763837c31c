package domain

import (
	"regexp"
	"strings"
)

// Patrones de entidades en preguntas de mercado: nombres propios
// compuestos, acrónimos y tickers.
var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)+\b`),
	regexp.MustCompile(`\b[A-Z]{2,6}\b`),
	regexp.MustCompile(`\$[A-Z]{1,5}\b`),
}

// entityStopwords son matches de los patrones que no aportan señal.
var entityStopwords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "BUT": {}, "NOT": {}, "YES": {},
	"WILL": {}, "BE": {}, "BY": {}, "IN": {}, "ON": {}, "AT": {}, "TO": {},
}

// keywordSupplements completan la búsqueda cuando la pregunta no
// contiene entidades suficientes.
var keywordSupplements = map[string][]string{
	TypePolitical:  {"election", "vote", "polls"},
	TypeEconomic:   {"economy", "market", "federal reserve"},
	TypeCrypto15m:  {"crypto", "bitcoin", "trading"},
	TypeSports:     {"game", "match", "score"},
	TypeCultural:   {"entertainment", "media"},
	TypeRegulatory: {"regulation", "policy", "ruling"},
}

// SearchKeywords extrae keywords de búsqueda de señales de la pregunta
// de un mercado. Primero entidades por regex; si encuentra menos de
// dos, añade los suplementos de la categoría; como último recurso,
// las palabras largas de la pregunta.
func SearchKeywords(question, marketType string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, pat := range entityPatterns {
		for _, m := range pat.FindAllString(question, -1) {
			cleaned := strings.Trim(strings.TrimSpace(m), "$")
			if len(cleaned) <= 1 {
				continue
			}
			if _, stop := entityStopwords[strings.ToUpper(cleaned)]; stop {
				continue
			}
			if _, dup := seen[cleaned]; dup {
				continue
			}
			seen[cleaned] = struct{}{}
			keywords = append(keywords, cleaned)
		}
	}

	if len(keywords) < 2 {
		sup := keywordSupplements[marketType]
		if len(sup) > 3 {
			sup = sup[:3]
		}
		keywords = append(keywords, sup...)
	}

	if len(keywords) == 0 {
		for _, w := range strings.Fields(question) {
			if len(w) > 4 {
				keywords = append(keywords, w)
			}
			if len(keywords) == 5 {
				break
			}
		}
	}

	if len(keywords) > 10 {
		keywords = keywords[:10]
	}
	return keywords
}
