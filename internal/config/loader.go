package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tender-harvester/internal/models"
)

// APIKeyEnv перекрывает api.api_key из файла
const APIKeyEnv = "TENDER_API_KEY"

// Default возвращает конфиг со значениями по умолчанию; YAML накладывается поверх
func Default() *Config {
	return &Config{
		API: APIConfig{
			Endpoints: EndpointsConfig{
				SearchTenders:      "/api/Search/SearchTenders",
				TenderDetails:      "/api/Search/GetTender",
				TenderDetailsParam: "tenderId",
				Documents:          "/api/tenders/{tenderId}/documents",
				DocumentsParam:     "tenderId",
			},
		},
		HTTP: HttpConfig{
			UserAgent:                 "tender-harvester/1.0",
			ConnectTimeoutMS:          10000,
			TotalTimeoutMS:            30000,
			DownloadTimeoutMS:         300000,
			MaxIdleConnections:        100,
			MaxIdleConnectionsPerHost: 10,
			IdleConnectionTimeoutS:    90,
		},
		Backoff: BackoffConfig{
			MaxAttempts: 4,
			MinMS:       500,
			MaxMS:       8000,
			JitterPct:   20,
		},
		RateLimit: RateLimitConfig{
			RPS:           5,
			Burst:         1,
			MaxConcurrent: 4,
		},
		Harvest: HarvestConfig{
			ProvinceParam:              "organizationProvince",
			IDFields:                   []string{"objectId", "id"},
			DateField:                  "initiationDate",
			PageSize:                   50,
			StartPage:                  1,
			DelayMS:                    500,
			ProvincePauseMS:            2500,
			SortingColumn:              "InitiationDate",
			SortingDirection:           "DESC",
			MaxConsecutivePageFailures: 3,
		},
		Documents: DocumentsConfig{
			Concurrency:       4,
			AttachmentsSubdir: "attachments",
		},
		Paths: PathsConfig{
			TendersDir: "data/tenders",
			OutputDir:  "data/output",
		},
		Filter: FilterConfig{
			OutputFile: "filtered_documents.txt",
		},
		History: HistoryConfig{
			Driver:           "sqlite",
			DSN:              "data/history.db",
			CommandTimeoutMS: 5000,
		},
		Observability: ObservabilityConfig{
			LogPath:  "logs/tender-harvester.log",
			LogLevel: "info",
			Console:  true,
		},
	}
}

// LoadConfig читает .env (если есть) и YAML конфиг, затем валидирует
func LoadConfig(filePath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("Warning: failed to close config file: %v", closeErr)
		}
	}()

	return Parse(file)
}

// Parse декодирует YAML поверх значений по умолчанию
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	// списки из YAML заменяют дефолтные, а не дописываются к ним
	cfg.Harvest.IDFields = nil

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Harvest.IDFields) == 0 {
		cfg.Harvest.IDFields = []string{"objectId", "id"}
	}

	if key := os.Getenv(APIKeyEnv); key != "" {
		cfg.API.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return cfg, nil
}

// SelectProvinces применяет выбор из CLI и ограничение количества
func (c *Config) SelectProvinces(names []string, max int) ([]models.Province, error) {
	provinces := c.Harvest.Provinces
	if len(names) > 0 {
		selected := make([]models.Province, 0, len(names))
		for _, name := range names {
			p, ok := c.FindProvince(name)
			if !ok {
				return nil, fmt.Errorf("unknown province: %s", name)
			}
			selected = append(selected, p)
		}
		provinces = selected
	}
	if max > 0 && len(provinces) > max {
		provinces = provinces[:max]
	}
	return provinces, nil
}
