package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/cropcare/internal/models"
)

// Forecaster fetches a 7-day forecast for a location. Implementations must
// return exactly models.PlanDays entries or an error.
type Forecaster interface {
	FetchForecast(ctx context.Context, lat, lon float64) ([]models.ForecastDay, error)
}

// DefaultOpenMeteoURL is the public Open-Meteo API base.
const DefaultOpenMeteoURL = "https://api.open-meteo.com"

// maxForecastBody caps the forecast response read.
const maxForecastBody = 1 << 20

// OpenMeteoClient implements Forecaster against the Open-Meteo daily API.
type OpenMeteoClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenMeteoOption configures an OpenMeteoClient.
type OpenMeteoOption func(*OpenMeteoClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) OpenMeteoOption {
	return func(o *OpenMeteoClient) {
		o.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OpenMeteoOption {
	return func(o *OpenMeteoClient) {
		o.logger = logger
	}
}

// NewOpenMeteoClient creates a forecast client. An empty baseURL uses the
// public endpoint.
func NewOpenMeteoClient(baseURL string, timeout time.Duration, opts ...OpenMeteoOption) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &OpenMeteoClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openMeteoResponse struct {
	Daily struct {
		Time        []string  `json:"time"`
		TempMax     []float64 `json:"temperature_2m_max"`
		TempMin     []float64 `json:"temperature_2m_min"`
		Precip      []float64 `json:"precipitation_sum"`
		HumidityAvg []float64 `json:"relative_humidity_2m_mean"`
	} `json:"daily"`
}

// FetchForecast returns the next 7 days for the coordinates.
func (c *OpenMeteoClient) FetchForecast(ctx context.Context, lat, lon float64) ([]models.ForecastDay, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,relative_humidity_2m_mean")
	q.Set("forecast_days", strconv.Itoa(models.PlanDays))
	q.Set("timezone", "auto")
	endpoint := c.baseURL + "/v1/forecast?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build forecast request: %v", models.ErrUpstreamUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: forecast request failed: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxForecastBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read forecast body: %v", models.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: forecast API status %d", models.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var parsed openMeteoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse forecast: %v", models.ErrUpstreamUnavailable, err)
	}

	d := parsed.Daily
	n := len(d.Time)
	if n != models.PlanDays || len(d.TempMax) != n || len(d.TempMin) != n || len(d.Precip) != n || len(d.HumidityAvg) != n {
		return nil, fmt.Errorf("%w: forecast returned %d days, want %d", models.ErrUpstreamUnavailable, n, models.PlanDays)
	}

	days := make([]models.ForecastDay, n)
	for i := 0; i < n; i++ {
		days[i] = models.ForecastDay{
			Date:     d.Time[i],
			TempMin:  d.TempMin[i],
			TempMax:  d.TempMax[i],
			Humidity: d.HumidityAvg[i],
			RainMm:   d.Precip[i],
		}
	}
	c.logger.Debug("Fetched forecast", "lat", lat, "lon", lon, "first_date", days[0].Date)
	return days, nil
}

// DayFor returns the forecast entry matching date.
func DayFor(days []models.ForecastDay, date string) (models.ForecastDay, bool) {
	for _, d := range days {
		if d.Date == date {
			return d, true
		}
	}
	return models.ForecastDay{}, false
}
