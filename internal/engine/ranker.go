package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alejandrodnm/predictbot/internal/domain"
)

// Score calcula la puntuación de ranking de un candidato: el edge ponderado
// por confianza y por velocidad de resolución (el capital rota más rápido
// en mercados que resuelven antes). El suelo de 0.5h evita que los mercados
// de 15 minutos dominen el ranking por división.
func Score(edge, adjustedConfidence, resolutionHours float64) float64 {
	h := resolutionHours
	if h < 0.5 {
		h = 0.5
	}
	return edge * adjustedConfidence * (1.0 / h)
}

// keywordOverlap es la similitud Jaccard de los dos conjuntos de keywords
// en minúsculas.
func keywordOverlap(kw1, kw2 []string) float64 {
	s1 := make(map[string]bool, len(kw1))
	for _, w := range kw1 {
		s1[strings.ToLower(w)] = true
	}
	s2 := make(map[string]bool, len(kw2))
	for _, w := range kw2 {
		s2[strings.ToLower(w)] = true
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}
	intersection := 0
	union := len(s2)
	for w := range s1 {
		if s2[w] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

// DetectMarketClusters agrupa candidatos correlacionados: misma categoría,
// resolución a menos de 1h de distancia y solapamiento de keywords ≥50%.
// Dos mercados "BTC above 100k at 3pm" y "BTC above 101k at 3pm" son en la
// práctica la misma apuesta y deben compartir límite de exposición.
// Devuelve market_id → cluster_id.
func DetectMarketClusters(candidates []domain.TradeCandidate) map[string]string {
	if len(candidates) == 0 {
		return map[string]string{}
	}

	byType := make(map[string][]domain.TradeCandidate)
	typeOrder := make([]string, 0)
	for _, c := range candidates {
		mtype := c.Market.MarketType
		if _, ok := byType[mtype]; !ok {
			typeOrder = append(typeOrder, mtype)
		}
		byType[mtype] = append(byType[mtype], c)
	}
	sort.Strings(typeOrder)

	clusters := make(map[string]string)
	counter := 0

	for _, mtype := range typeOrder {
		group := byType[mtype]
		sort.Slice(group, func(i, j int) bool {
			return group[i].ResolutionHours < group[j].ResolutionHours
		})

		assigned := make(map[int]bool)
		for i, c1 := range group {
			if assigned[i] {
				continue
			}
			counter++
			cid := fmt.Sprintf("cluster_%d", counter)
			clusters[c1.Market.ID] = cid
			assigned[i] = true

			for j := i + 1; j < len(group); j++ {
				if assigned[j] {
					continue
				}
				c2 := group[j]
				diff := c2.ResolutionHours - c1.ResolutionHours
				if diff < 0 {
					diff = -diff
				}
				if diff <= 1.0 && keywordOverlap(c1.Market.Keywords, c2.Market.Keywords) >= 0.50 {
					clusters[c2.Market.ID] = cid
					assigned[j] = true
				}
			}
		}
	}

	return clusters
}

// clusterExposureOK comprueba si añadir el candidato mantiene la exposición
// del cluster (posiciones abiertas + trades pendientes de este ciclo) dentro
// del límite.
func clusterExposureOK(
	candidate domain.TradeCandidate,
	clusterID string,
	openPositions []domain.Position,
	pending []domain.TradeCandidate,
	clusters map[string]string,
	bankroll float64,
	maxClusterPct float64,
) bool {
	existing := 0.0
	for _, pos := range openPositions {
		if clusters[pos.MarketID] == clusterID || pos.ClusterID == clusterID {
			existing += pos.SizeUSD
		}
	}
	for _, p := range pending {
		if clusters[p.Market.ID] == clusterID {
			existing += p.PositionSize
		}
	}
	return existing+candidate.PositionSize <= maxClusterPct*bankroll
}

// SelectBestTrades puntúa, ordena y selecciona los mejores candidatos
// respetando el cap restante del día y el límite de exposición por cluster.
// Devuelve (a ejecutar, a registrar como skip con su razón).
func SelectBestTrades(
	candidates []domain.TradeCandidate,
	remainingCap int,
	openPositions []domain.Position,
	bankroll float64,
	maxClusterPct float64,
) (toExecute, toSkip []domain.TradeCandidate) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := make([]domain.TradeCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = Score(ranked[i].CalculatedEdge, ranked[i].AdjustedConfidence, ranked[i].ResolutionHours)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	clusters := DetectMarketClusters(candidates)

	for _, c := range ranked {
		c.ClusterID = clusters[c.Market.ID]

		if len(toExecute) >= remainingCap {
			c.SkipReason = "daily_cap_reached"
			toSkip = append(toSkip, c)
			continue
		}

		if c.ClusterID != "" && !clusterExposureOK(c, c.ClusterID, openPositions, toExecute, clusters, bankroll, maxClusterPct) {
			c.SkipReason = "cluster_exposure_limit"
			toSkip = append(toSkip, c)
			continue
		}

		toExecute = append(toExecute, c)
	}

	return toExecute, toSkip
}
