package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"tender-harvester/internal/models"
)

type Config struct {
	API           APIConfig           `yaml:"api"`
	HTTP          HttpConfig          `yaml:"http"`
	Backoff       BackoffConfig       `yaml:"backoff"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Harvest       HarvestConfig       `yaml:"harvest"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Paths         PathsConfig         `yaml:"paths"`
	Filter        FilterConfig        `yaml:"filter"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`

	compiledPatterns map[string]*regexp.Regexp
}

type APIConfig struct {
	BaseURL   string          `yaml:"base_url"`
	APIKey    string          `yaml:"api_key"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
}

// Эндпоинты: либо шаблон с {tenderId}, либо голый путь + query-параметр
type EndpointsConfig struct {
	SearchTenders      string `yaml:"search_tenders"`
	TenderDetails      string `yaml:"tender_details"`
	TenderDetailsParam string `yaml:"tender_details_param"`
	Documents          string `yaml:"documents"`
	DocumentsParam     string `yaml:"documents_param"`
	Download           string `yaml:"download"`
}

type HttpConfig struct {
	UserAgent                 string `yaml:"user_agent"`
	ConnectTimeoutMS          int    `yaml:"connect_timeout_ms"`
	TotalTimeoutMS            int    `yaml:"total_timeout_ms"`
	DownloadTimeoutMS         int    `yaml:"download_timeout_ms"`
	MaxIdleConnections        int    `yaml:"max_idle_connections"`
	MaxIdleConnectionsPerHost int    `yaml:"max_idle_connections_per_host"`
	IdleConnectionTimeoutS    int    `yaml:"idle_connection_timeout_s"`
}

type BackoffConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	MinMS       int `yaml:"min_ms"`
	MaxMS       int `yaml:"max_ms"`
	JitterPct   int `yaml:"jitter_pct"`
}

type RateLimitConfig struct {
	RPS           float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

type HarvestConfig struct {
	Provinces                  []models.Province `yaml:"provinces"`
	ProvinceParam              string            `yaml:"province_param"`
	IDFields                   []string          `yaml:"id_fields"`
	DateField                  string            `yaml:"date_field"`
	PageSize                   int               `yaml:"page_size"`
	StartPage                  int               `yaml:"start_page"`
	EndPage                    int               `yaml:"end_page"`
	DelayMS                    int               `yaml:"delay_ms"`
	ProvincePauseMS            int               `yaml:"province_pause_ms"`
	SortingColumn              string            `yaml:"sorting_column"`
	SortingDirection           string            `yaml:"sorting_direction"`
	GetAll                     bool              `yaml:"get_all"`
	MaxConsecutivePageFailures int               `yaml:"max_consecutive_page_failures"`
	Filters                    FiltersConfig     `yaml:"filters"`
}

// Предикаты включения для --use-filters
type FiltersConfig struct {
	MinInitiationDate string              `yaml:"min_initiation_date"`
	MaxInitiationDate string              `yaml:"max_initiation_date"`
	Allowed           map[string][]string `yaml:"allowed"`
	QueryParams       map[string]string   `yaml:"query_params"`
}

type DocumentsConfig struct {
	Concurrency       int    `yaml:"concurrency"`
	AttachmentsSubdir string `yaml:"attachments_subdir"`
}

type PathsConfig struct {
	TendersDir  string `yaml:"tenders_dir"`
	RawDumpsDir string `yaml:"raw_dumps_dir"`
	OutputDir   string `yaml:"output_dir"`
}

type FilterConfig struct {
	OutputFile     string                 `yaml:"output_file"`
	DefaultPattern string                 `yaml:"default_pattern"`
	Patterns       []models.FilterPattern `yaml:"patterns"`
}

type HistoryConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
}

type ObservabilityConfig struct {
	LogPath     string `yaml:"log_path"`
	LogLevel    string `yaml:"log_level"`
	Console     bool   `yaml:"console"`
	MetricsPath string `yaml:"metrics_path"`
}

// Validation
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Endpoints.SearchTenders == "" {
		return fmt.Errorf("api.endpoints.search_tenders is required")
	}
	if c.API.Endpoints.Documents == "" {
		return fmt.Errorf("api.endpoints.documents is required")
	}
	if c.API.Endpoints.TenderDetails == "" {
		return fmt.Errorf("api.endpoints.tender_details is required")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("http.user_agent is required")
	}
	if c.HTTP.ConnectTimeoutMS <= 0 {
		return fmt.Errorf("http.connect_timeout_ms must be > 0")
	}
	if c.HTTP.TotalTimeoutMS <= 0 {
		return fmt.Errorf("http.total_timeout_ms must be > 0")
	}
	if c.HTTP.DownloadTimeoutMS <= 0 {
		return fmt.Errorf("http.download_timeout_ms must be > 0")
	}
	if c.Backoff.MaxAttempts <= 0 {
		return fmt.Errorf("backoff.max_attempts must be > 0")
	}
	if c.Backoff.MinMS <= 0 {
		return fmt.Errorf("backoff.min_ms must be > 0")
	}
	if c.Backoff.MaxMS <= 0 {
		return fmt.Errorf("backoff.max_ms must be > 0")
	}
	if c.Backoff.MinMS > c.Backoff.MaxMS {
		return fmt.Errorf("backoff.min_ms must be <= backoff.max_ms")
	}
	if c.Backoff.JitterPct < 0 || c.Backoff.JitterPct > 100 {
		return fmt.Errorf("backoff.jitter_pct must be between 0 and 100")
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0")
	}
	if c.RateLimit.MaxConcurrent <= 0 {
		return fmt.Errorf("rate_limit.max_concurrent must be > 0")
	}
	if len(c.Harvest.Provinces) == 0 {
		return fmt.Errorf("harvest.provinces must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Harvest.Provinces))
	for _, p := range c.Harvest.Provinces {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("harvest.provinces: name is required")
		}
		key := strings.ToLower(p.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("harvest.provinces: duplicate province %q", p.Name)
		}
		seen[key] = struct{}{}
	}
	if c.Harvest.ProvinceParam == "" {
		return fmt.Errorf("harvest.province_param is required")
	}
	if len(c.Harvest.IDFields) == 0 {
		return fmt.Errorf("harvest.id_fields must not be empty")
	}
	if c.Harvest.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be > 0")
	}
	if c.Harvest.StartPage <= 0 {
		return fmt.Errorf("harvest.start_page must be > 0")
	}
	if c.Harvest.EndPage < 0 {
		return fmt.Errorf("harvest.end_page must be >= 0")
	}
	if c.Harvest.EndPage > 0 && c.Harvest.EndPage < c.Harvest.StartPage {
		return fmt.Errorf("harvest.end_page must be >= harvest.start_page")
	}
	if c.Harvest.DelayMS < 0 || c.Harvest.ProvincePauseMS < 0 {
		return fmt.Errorf("harvest delays must be >= 0")
	}
	if d := strings.ToUpper(c.Harvest.SortingDirection); d != "ASC" && d != "DESC" {
		return fmt.Errorf("harvest.sorting_direction must be 'ASC' or 'DESC'")
	}
	if c.Harvest.MaxConsecutivePageFailures <= 0 {
		return fmt.Errorf("harvest.max_consecutive_page_failures must be > 0")
	}
	if _, err := c.MinInitiationDate(); err != nil {
		return err
	}
	if _, err := c.MaxInitiationDate(); err != nil {
		return err
	}
	if c.Documents.Concurrency <= 0 {
		return fmt.Errorf("documents.concurrency must be > 0")
	}
	if c.Documents.AttachmentsSubdir == "" || strings.ContainsAny(c.Documents.AttachmentsSubdir, `/\`) {
		return fmt.Errorf("documents.attachments_subdir must be a plain directory name")
	}
	if c.Paths.TendersDir == "" {
		return fmt.Errorf("paths.tenders_dir is required")
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("paths.output_dir is required")
	}
	if c.Filter.OutputFile == "" {
		return fmt.Errorf("filter.output_file is required")
	}
	switch c.History.Driver {
	case "none":
	case "sqlite", "mssql":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required when history.driver is %q", c.History.Driver)
		}
		if c.History.CommandTimeoutMS <= 0 {
			return fmt.Errorf("history.command_timeout_ms must be > 0")
		}
	default:
		return fmt.Errorf("history.driver must be 'sqlite', 'mssql' or 'none'")
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("observability.log_level is required")
	}
	return c.compilePatterns()
}

// Getters
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) GetTotalTimeout() time.Duration {
	return time.Duration(c.HTTP.TotalTimeoutMS) * time.Millisecond
}

func (c *Config) GetDownloadTimeout() time.Duration {
	return time.Duration(c.HTTP.DownloadTimeoutMS) * time.Millisecond
}

func (c *Config) GetIdleConnectionTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleConnectionTimeoutS) * time.Second
}

func (c *Config) GetBackoffMin() time.Duration {
	return time.Duration(c.Backoff.MinMS) * time.Millisecond
}

func (c *Config) GetBackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxMS) * time.Millisecond
}

func (c *Config) GetPageDelay() time.Duration {
	return time.Duration(c.Harvest.DelayMS) * time.Millisecond
}

func (c *Config) GetProvincePause() time.Duration {
	return time.Duration(c.Harvest.ProvincePauseMS) * time.Millisecond
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.History.CommandTimeoutMS) * time.Millisecond
}

// MinInitiationDate возвращает нижнюю границу даты или zero time, если не задана
func (c *Config) MinInitiationDate() (time.Time, error) {
	return parseFilterDate("harvest.filters.min_initiation_date", c.Harvest.Filters.MinInitiationDate)
}

func (c *Config) MaxInitiationDate() (time.Time, error) {
	return parseFilterDate("harvest.filters.max_initiation_date", c.Harvest.Filters.MaxInitiationDate)
}

func parseFilterDate(key, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}

// FindProvince ищет провинцию по имени без учёта регистра
func (c *Config) FindProvince(name string) (models.Province, bool) {
	for _, p := range c.Harvest.Provinces {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return models.Province{}, false
}
