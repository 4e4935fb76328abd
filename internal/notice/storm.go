package notice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/maypok86/otter"
)

const (
	DefaultStormURL = "https://wttr.in/?format=j1"
	DefaultStormTTL = 30 * time.Minute

	stormCacheKey = "storm"

	// otter rejects entries whose cost exceeds a small fraction of capacity,
	// so a single-key cache still needs room.
	stormCacheSize = 16
	maxForecast    = 4 << 20
)

// WatchedWeatherCodes are the wttr.in codes treated as storm conditions.
var WatchedWeatherCodes = []string{
	"200", // thundery outbreaks nearby
	"230", // blizzard
	"299", // moderate rain at times
	"302", // moderate rain
	"305", // heavy rain at times
	"308", // heavy rain
	"314", // moderate or heavy freezing rain
	"329", // patchy moderate snow
	"332", // moderate snow
	"335", // patchy heavy snow
	"338", // heavy snow
	"356", // moderate or heavy rain shower
	"359", // torrential rain shower
	"371", // moderate or heavy snow showers
	"386", // patchy light rain with thunder
	"389", // moderate or heavy rain with thunder
	"395", // moderate or heavy snow with thunder
}

const (
	activeStormMessage   = "Active storm occuring, service response times may fluctuate."
	expectedStormMessage = "A potential storm is expected in the following hours."
)

type forecast struct {
	CurrentCondition []struct {
		WeatherCode string `json:"weatherCode"`
	} `json:"current_condition"`
	Weather []struct {
		Hourly []struct {
			WeatherCode string `json:"weatherCode"`
		} `json:"hourly"`
	} `json:"weather"`
}

type cachedNotice struct {
	notice *Notice
}

// Storm warns when the local forecast has storm conditions. Results,
// including "no storm", are cached for the configured TTL.
type Storm struct {
	url    string
	client *http.Client
	cache  otter.Cache[string, cachedNotice]
}

// NewStorm creates a storm provider. Empty url and zero ttl use the
// defaults; a nil client gets a 10s timeout client.
func NewStorm(url string, ttl time.Duration, client *http.Client) (*Storm, error) {
	if url == "" {
		url = DefaultStormURL
	}
	if ttl <= 0 {
		ttl = DefaultStormTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cache, err := otter.MustBuilder[string, cachedNotice](stormCacheSize).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("storm cache: %w", err)
	}
	return &Storm{url: url, client: client, cache: cache}, nil
}

func (s *Storm) Name() string { return "storm" }

func (s *Storm) Notice(ctx context.Context) (*Notice, error) {
	if cached, ok := s.cache.Get(stormCacheKey); ok {
		return cached.notice, nil
	}

	fc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	n := classify(fc)
	if !s.cache.Set(stormCacheKey, cachedNotice{notice: n}) {
		log.Printf("[notice] storm: result not cached")
	}
	return n, nil
}

// Close releases the cache's background resources.
func (s *Storm) Close() {
	s.cache.Close()
}

func (s *Storm) fetch(ctx context.Context) (forecast, error) {
	var fc forecast
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fc, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fc, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fc, fmt.Errorf("forecast status %s: %s", resp.Status, string(body))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxForecast)).Decode(&fc); err != nil {
		return fc, fmt.Errorf("decode forecast: %w", err)
	}
	if len(fc.CurrentCondition) == 0 {
		return fc, fmt.Errorf("forecast has no current condition")
	}
	return fc, nil
}

func classify(fc forecast) *Notice {
	if watched(fc.CurrentCondition[0].WeatherCode) {
		return &Notice{Severity: SeverityRed, Message: activeStormMessage}
	}
	if len(fc.Weather) > 0 {
		for _, hour := range fc.Weather[0].Hourly {
			if watched(hour.WeatherCode) {
				return &Notice{Severity: SeverityYellow, Message: expectedStormMessage}
			}
		}
	}
	return nil
}

func watched(code string) bool {
	return slices.Contains(WatchedWeatherCodes, code)
}
