package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSearchURL = "https://www.wikidata.org/w/api.php"
	defaultSPARQLURL = "https://query.wikidata.org/sparql"

	// Wikimedia requires a descriptive User-Agent for API access.
	userAgent = "AthleteRaceBot/1.0 (https://github.com/athleterace/backend) Go-http-client"
)

// WikidataConfig holds configuration for the Wikidata resolver.
type WikidataConfig struct {
	SearchURL string
	SPARQLURL string
	Timeout   time.Duration
}

// DefaultWikidataConfig returns the production endpoints with a bounded
// request timeout.
func DefaultWikidataConfig() WikidataConfig {
	return WikidataConfig{
		SearchURL: defaultSearchURL,
		SPARQLURL: defaultSPARQLURL,
		Timeout:   15 * time.Second,
	}
}

// Wikidata resolves athlete names against Wikidata: a fuzzy entity search
// narrowed by a SPARQL check that each candidate is an athlete in the
// requested sport, then a canonical label fetch for the winner.
type Wikidata struct {
	config WikidataConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]*Resolution
}

// NewWikidata creates a Wikidata resolver.
func NewWikidata(config WikidataConfig) *Wikidata {
	if config.SearchURL == "" {
		config.SearchURL = defaultSearchURL
	}
	if config.SPARQLURL == "" {
		config.SPARQLURL = defaultSPARQLURL
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	return &Wikidata{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		cache:  make(map[string]*Resolution),
	}
}

type searchResult struct {
	ID          string
	Description string
}

// Resolve implements Resolver.
func (w *Wikidata) Resolve(ctx context.Context, name, sportQID, hint string) (*Resolution, error) {
	key := NormalizeName(name) + "|" + sportQID + "|" + NormalizeName(hint)
	w.mu.Lock()
	if cached, ok := w.cache[key]; ok {
		w.mu.Unlock()
		return cached, nil
	}
	w.mu.Unlock()

	res, err := w.resolve(ctx, name, sportQID, hint)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.cache[key] = res
	w.mu.Unlock()
	return res, nil
}

func (w *Wikidata) resolve(ctx context.Context, name, sportQID, hint string) (*Resolution, error) {
	// Single-word names ("Ronaldo") are far more ambiguous, so search wider
	// up front. Multi-word names start narrow and expand only on a miss.
	singleWord := len(strings.Fields(name)) == 1
	limit := 5
	if singleWord {
		limit = 10
	}

	results, err := w.searchEntities(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("entity search failed: %w", err)
	}
	if len(results) == 0 {
		return &Resolution{}, nil
	}

	verified, err := w.verifyAthletes(ctx, candidateIDs(results), sportQID)
	if err != nil {
		return nil, fmt.Errorf("athlete verification failed: %w", err)
	}
	if len(verified) == 0 && limit < 10 {
		results, err = w.searchEntities(ctx, name, 10)
		if err != nil {
			return nil, fmt.Errorf("expanded entity search failed: %w", err)
		}
		verified, err = w.verifyAthletes(ctx, candidateIDs(results), sportQID)
		if err != nil {
			return nil, fmt.Errorf("athlete verification failed: %w", err)
		}
	}
	if len(verified) == 0 {
		// Found by search but not an athlete in this sport.
		return &Resolution{}, nil
	}

	if len(verified) > 1 {
		if hint != "" {
			if narrowed := matchHint(results, verified, hint); len(narrowed) == 1 {
				return w.single(ctx, name, narrowed[0])
			} else if len(narrowed) > 1 {
				return &Resolution{Candidates: narrowed}, nil
			}
			// Hint did not narrow anything; still ambiguous.
		}
		return &Resolution{Candidates: verified}, nil
	}

	return w.single(ctx, name, verified[0])
}

// single finishes a resolution once exactly one entity remains: fetch its
// canonical label and make sure the submitted name plausibly refers to it.
func (w *Wikidata) single(ctx context.Context, submitted, entityID string) (*Resolution, error) {
	label, err := w.entityLabel(ctx, entityID)
	if err != nil {
		log.Warn().Err(err).Str("entity_id", entityID).Msg("failed to fetch canonical label")
		label = ""
	}
	if label != "" && !namesSimilar(submitted, label) {
		log.Debug().
			Str("submitted", submitted).
			Str("canonical", label).
			Msg("name similarity check failed")
		return &Resolution{}, nil
	}
	return &Resolution{Match: &Identity{ID: entityID, CanonicalName: label}}, nil
}

func candidateIDs(results []searchResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if strings.HasPrefix(r.ID, "Q") {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// matchHint keeps the verified candidates whose search description mentions
// the hint (team, country, birth year, ...).
func matchHint(results []searchResult, verified []string, hint string) []string {
	verifiedSet := make(map[string]bool, len(verified))
	for _, id := range verified {
		verifiedSet[id] = true
	}
	hintLower := strings.ToLower(hint)
	var matches []string
	for _, r := range results {
		if verifiedSet[r.ID] && strings.Contains(strings.ToLower(r.Description), hintLower) {
			matches = append(matches, r.ID)
		}
	}
	return matches
}

// searchEntities calls the wbsearchentities API, which has built-in fuzzy
// matching for typos and name variants.
func (w *Wikidata) searchEntities(ctx context.Context, name string, limit int) ([]searchResult, error) {
	params := url.Values{
		"action":   {"wbsearchentities"},
		"search":   {strings.TrimSpace(name)},
		"language": {"en"},
		"type":     {"item"},
		"format":   {"json"},
		"limit":    {fmt.Sprintf("%d", limit)},
	}

	body, err := w.get(ctx, w.config.SearchURL+"?"+params.Encode(), "application/json")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Search []struct {
			ID          string `json:"id"`
			Description string `json:"description"`
		} `json:"search"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]searchResult, 0, len(parsed.Search))
	for _, s := range parsed.Search {
		if s.ID != "" {
			results = append(results, searchResult{ID: s.ID, Description: s.Description})
		}
	}
	return results, nil
}

// verifyAthletes batch-checks via SPARQL which candidates are humans doing
// the requested sport. Four property paths cover Wikidata's inconsistent
// modelling: sport on the entity, sport on an athlete occupation, sport of
// a team the entity played for, and the direct sport property.
func (w *Wikidata) verifyAthletes(ctx context.Context, entityIDs []string, sportQID string) ([]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	var values strings.Builder
	for _, id := range entityIDs {
		values.WriteString("wd:" + id + " ")
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ?entity WHERE {
  VALUES ?entity { %s }
  ?entity wdt:P31 wd:Q5 .
  {
    ?entity wdt:P106 ?occ .
    ?occ wdt:P279* wd:Q2066131 .
    ?entity wdt:P641 ?sport .
  }
  UNION
  {
    ?entity wdt:P106 ?occ .
    ?occ wdt:P279* wd:Q2066131 .
    ?occ wdt:P641 ?sport .
  }
  UNION
  {
    ?entity wdt:P54 ?team .
    ?team wdt:P641 ?sport .
  }
  UNION
  {
    ?entity wdt:P641 ?sport .
  }
  FILTER(?sport = wd:%s || EXISTS { ?sport wdt:P279* wd:%s })
}`, strings.TrimSpace(values.String()), sportQID, sportQID)

	params := url.Values{"query": {query}}
	body, err := w.get(ctx, w.config.SPARQLURL+"?"+params.Encode(), "application/sparql-results+json")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results struct {
			Bindings []struct {
				Entity struct {
					Value string `json:"value"`
				} `json:"entity"`
			} `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode SPARQL response: %w", err)
	}

	// Preserve search order: earlier search hits are better name matches.
	verifiedSet := make(map[string]bool, len(parsed.Results.Bindings))
	for _, b := range parsed.Results.Bindings {
		uri := b.Entity.Value
		verifiedSet[uri[strings.LastIndex(uri, "/")+1:]] = true
	}
	var verified []string
	for _, id := range entityIDs {
		if verifiedSet[id] {
			verified = append(verified, id)
		}
	}
	return verified, nil
}

// entityLabel fetches the canonical English label for an entity.
func (w *Wikidata) entityLabel(ctx context.Context, entityID string) (string, error) {
	params := url.Values{
		"action":    {"wbgetentities"},
		"ids":       {entityID},
		"props":     {"labels"},
		"languages": {"en"},
		"format":    {"json"},
	}

	body, err := w.get(ctx, w.config.SearchURL+"?"+params.Encode(), "application/json")
	if err != nil {
		return "", err
	}

	var parsed struct {
		Entities map[string]struct {
			Labels map[string]struct {
				Value string `json:"value"`
			} `json:"labels"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode entity response: %w", err)
	}
	return parsed.Entities[entityID].Labels["en"].Value, nil
}

func (w *Wikidata) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("wikidata returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
