package config

import (
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port         int           `yaml:"port" default:"8080"`
		Host         string        `yaml:"host" default:"0.0.0.0"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
		IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
	} `yaml:"server"`

	Queue struct {
		HotCapacity       int `yaml:"hot_capacity" default:"200"`
		WarmCapacity      int `yaml:"warm_capacity" default:"1000"`
		ColdCapacity      int `yaml:"cold_capacity" default:"5000"`
		MaxRetries        int `yaml:"max_retries" default:"3"`
		StatusBonusOwned  int `yaml:"status_bonus_owned" default:"30"`
		StatusBonusOrdered int `yaml:"status_bonus_ordered" default:"20"`
		StatusBonusWished int `yaml:"status_bonus_wished" default:"10"`
		SessionBonus      int `yaml:"session_bonus" default:"20"`
		PopularityUnit    int `yaml:"popularity_unit" default:"5"`
		PopularityCap     int `yaml:"popularity_cap" default:"20"`
		AgeCapMinutes     int `yaml:"age_cap_minutes" default:"10"`
		SelectionRetryInterval time.Duration `yaml:"selection_retry_interval" default:"5s"`
	} `yaml:"queue"`

	RateLimiter struct {
		BaseDelay             time.Duration `yaml:"base_delay" default:"2067ms"`
		MinDelay              time.Duration `yaml:"min_delay" default:"274ms"`
		MaxDelay              time.Duration `yaml:"max_delay" default:"180s"`
		BackoffMultiplier     float64       `yaml:"backoff_multiplier" default:"1.4"`
		RecoveryStreak        int           `yaml:"recovery_streak" default:"3"`
	} `yaml:"rate_limiter"`

	BrowserPool struct {
		MaxInstances       int           `yaml:"max_instances" default:"5"`
		MaxIdleTime        time.Duration `yaml:"max_idle_time" default:"5m"`
		AcquisitionTimeout time.Duration `yaml:"acquisition_timeout" default:"30s"`
		CleanupInterval    time.Duration `yaml:"cleanup_interval" default:"5m"`
		MaxBrowsers        int           `yaml:"max_browsers" default:"5"`
		MinBrowsers        int           `yaml:"min_browsers" default:"2"`
		HeadlessMode       bool          `yaml:"headless_mode" default:"true"`
		StealthMode        bool          `yaml:"stealth_mode" default:"true"`
		UserAgent          string        `yaml:"user_agent"`
		NavigationTimeout  time.Duration `yaml:"navigation_timeout" default:"30s"`
	} `yaml:"browser_pool"`

	Session struct {
		ValidationCacheTTL  time.Duration `yaml:"validation_cache_ttl" default:"10m"`
		AuthErrorThreshold  int           `yaml:"auth_error_threshold" default:"2"`
		PauseThreshold      int           `yaml:"pause_threshold" default:"3"`
		CooldownDuration    time.Duration `yaml:"cooldown_duration" default:"20s"`
		ProbeCacheTTL       time.Duration `yaml:"probe_cache_ttl" default:"60s"`
		ProbeTargetURL      string        `yaml:"probe_target_url"`
		MaxTrackedSessions  int           `yaml:"max_tracked_sessions" default:"100"`
	} `yaml:"session"`

	MFC struct {
		BaseDomain       string   `yaml:"base_domain" default:"myfigurecollection.net"`
		SessionCookie    string   `yaml:"session_cookie" default:"phpbb3_mfc_sid"`
		CookieAllowlist  []string `yaml:"cookie_allowlist"`
	} `yaml:"mfc"`

	Extractor struct {
		SettleTime           time.Duration `yaml:"settle_time" default:"1s"`
		MaxSettleTime        time.Duration `yaml:"max_settle_time" default:"5s"`
		ChallengeWaitTimeout time.Duration `yaml:"challenge_wait_timeout" default:"10s"`
	} `yaml:"extractor"`

	Webhook struct {
		URL        string        `yaml:"url"`
		Secret     string        `yaml:"secret"`
		Timeout    time.Duration `yaml:"timeout" default:"10s"`
		MaxRetries int           `yaml:"max_retries" default:"2"`
	} `yaml:"webhook"`

	Admin struct {
		Token      string `yaml:"token"`
		Production bool   `yaml:"production" default:"false"`
	} `yaml:"admin"`

	Sync struct {
		MaxConcurrentTasks int           `yaml:"max_concurrent_tasks" default:"10"`
		TaskTimeout        time.Duration `yaml:"task_timeout" default:"300s"`
		CleanupInterval    time.Duration `yaml:"cleanup_interval" default:"1h"`
		MaxTaskAge         time.Duration `yaml:"max_task_age" default:"24h"`
	} `yaml:"sync"`

	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`

		Adapters []struct {
			Name    string                 `yaml:"name"`
			Type    string                 `yaml:"type"`
			Enabled bool                   `yaml:"enabled"`
			Options map[string]interface{} `yaml:"options"`
		} `yaml:"adapters"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool          `yaml:"enabled" default:"false"`
		URL      string        `yaml:"url" default:"redis://localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db" default:"0"`
		Timeout  time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"redis"`
}

// expandEnvVars expands environment variables in a string using ${VAR} or $VAR syntax
func expandEnvVars(s string) string {
	// Expand ${VAR} syntax
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1] // Remove ${ and }
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if env var not found
	})

	// Expand $VAR syntax (but avoid replacing ${VAR} that was already processed)
	re2 := regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	s = re2.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:] // Remove $
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if env var not found
	})

	return s
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	config := &Config{}

	// Set defaults
	config.Server.Port = 8080
	config.Server.Host = "0.0.0.0"
	config.Server.ReadTimeout = 30 * time.Second
	config.Server.WriteTimeout = 30 * time.Second
	config.Server.IdleTimeout = 60 * time.Second

	config.Queue.HotCapacity = 200
	config.Queue.WarmCapacity = 1000
	config.Queue.ColdCapacity = 5000
	config.Queue.MaxRetries = 3
	config.Queue.StatusBonusOwned = 30
	config.Queue.StatusBonusOrdered = 20
	config.Queue.StatusBonusWished = 10
	config.Queue.SessionBonus = 20
	config.Queue.PopularityUnit = 5
	config.Queue.PopularityCap = 20
	config.Queue.AgeCapMinutes = 10
	config.Queue.SelectionRetryInterval = 5 * time.Second

	config.RateLimiter.BaseDelay = 2067 * time.Millisecond
	config.RateLimiter.MinDelay = 274 * time.Millisecond
	config.RateLimiter.MaxDelay = 180 * time.Second
	config.RateLimiter.BackoffMultiplier = 1.4
	config.RateLimiter.RecoveryStreak = 3

	config.BrowserPool.MaxInstances = 5
	config.BrowserPool.MaxIdleTime = 5 * time.Minute
	config.BrowserPool.AcquisitionTimeout = 30 * time.Second
	config.BrowserPool.CleanupInterval = 5 * time.Minute
	config.BrowserPool.MaxBrowsers = 5
	config.BrowserPool.MinBrowsers = 2
	config.BrowserPool.HeadlessMode = true
	config.BrowserPool.StealthMode = true
	config.BrowserPool.NavigationTimeout = 30 * time.Second
	config.BrowserPool.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	config.Session.ValidationCacheTTL = 10 * time.Minute
	config.Session.AuthErrorThreshold = 2
	config.Session.PauseThreshold = 3
	config.Session.CooldownDuration = 20 * time.Second
	config.Session.ProbeCacheTTL = 60 * time.Second
	config.Session.MaxTrackedSessions = 100

	config.MFC.BaseDomain = "myfigurecollection.net"
	config.MFC.SessionCookie = "phpbb3_mfc_sid"
	config.MFC.CookieAllowlist = []string{"phpbb3_mfc_sid", "phpbb3_mfc_u", "phpbb3_mfc_k"}

	config.Extractor.SettleTime = time.Second
	config.Extractor.MaxSettleTime = 5 * time.Second
	config.Extractor.ChallengeWaitTimeout = 10 * time.Second

	config.Webhook.Timeout = 10 * time.Second
	config.Webhook.MaxRetries = 2

	config.Admin.Production = false

	config.Sync.MaxConcurrentTasks = 10
	config.Sync.TaskTimeout = 300 * time.Second
	config.Sync.CleanupInterval = 1 * time.Hour
	config.Sync.MaxTaskAge = 24 * time.Hour

	config.Logging.Level = "info"
	config.Logging.Format = "json"
	config.Logging.Output = "stdout"

	config.Redis.Enabled = false
	config.Redis.URL = "redis://localhost:6379"
	config.Redis.DB = 0
	config.Redis.Timeout = 5 * time.Second

	// Load from YAML file if it exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			// Expand environment variables in the YAML content
			yamlContent := expandEnvVars(string(data))

			if err := yaml.Unmarshal([]byte(yamlContent), config); err != nil {
				return nil, err
			}
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	return config, nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	if redisEnabled := os.Getenv("REDIS_ENABLED"); redisEnabled != "" {
		c.Redis.Enabled = redisEnabled == "true" || redisEnabled == "1"
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.URL = redisURL
	}

	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}

	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			c.Redis.DB = db
		}
	}

	if redisTimeout := os.Getenv("REDIS_TIMEOUT"); redisTimeout != "" {
		if timeout, err := time.ParseDuration(redisTimeout); err == nil {
			c.Redis.Timeout = timeout
		}
	}

	// Handle Betterstack-derived webhook-sink adapter enabled/disabled via environment variable
	if webhookLogEnabled := os.Getenv("WEBHOOK_LOG_ENABLED"); webhookLogEnabled != "" {
		enabled := webhookLogEnabled == "true" || webhookLogEnabled == "1"
		for i := range c.Logging.Adapters {
			if c.Logging.Adapters[i].Name == "webhook" || c.Logging.Adapters[i].Type == "webhook" {
				c.Logging.Adapters[i].Enabled = enabled
				break
			}
		}
	}

	if webhookURL := os.Getenv("WEBHOOK_URL"); webhookURL != "" {
		c.Webhook.URL = webhookURL
	}

	if webhookSecret := os.Getenv("WEBHOOK_SECRET"); webhookSecret != "" {
		c.Webhook.Secret = webhookSecret
	}

	if adminToken := os.Getenv("ADMIN_TOKEN"); adminToken != "" {
		c.Admin.Token = adminToken
	}

	if production := os.Getenv("PRODUCTION"); production != "" {
		c.Admin.Production = production == "true" || production == "1"
	}

	if probeURL := os.Getenv("MFC_PROBE_TARGET_URL"); probeURL != "" {
		c.Session.ProbeTargetURL = probeURL
	}

	if baseDomain := os.Getenv("MFC_BASE_DOMAIN"); baseDomain != "" {
		c.MFC.BaseDomain = baseDomain
	}

	// Browser pool configuration
	if maxInstances := os.Getenv("BROWSER_POOL_MAX_INSTANCES"); maxInstances != "" {
		if instances, err := strconv.Atoi(maxInstances); err == nil {
			c.BrowserPool.MaxInstances = instances
		}
	}

	if maxIdleTime := os.Getenv("BROWSER_POOL_MAX_IDLE_TIME"); maxIdleTime != "" {
		if duration, err := time.ParseDuration(maxIdleTime); err == nil {
			c.BrowserPool.MaxIdleTime = duration
		}
	}

	if acquisitionTimeout := os.Getenv("BROWSER_POOL_ACQUISITION_TIMEOUT"); acquisitionTimeout != "" {
		if duration, err := time.ParseDuration(acquisitionTimeout); err == nil {
			c.BrowserPool.AcquisitionTimeout = duration
		}
	}

	if cleanupInterval := os.Getenv("BROWSER_POOL_CLEANUP_INTERVAL"); cleanupInterval != "" {
		if duration, err := time.ParseDuration(cleanupInterval); err == nil {
			c.BrowserPool.CleanupInterval = duration
		}
	}

	if maxBrowsers := os.Getenv("BROWSER_POOL_MAX_BROWSERS"); maxBrowsers != "" {
		if browsers, err := strconv.Atoi(maxBrowsers); err == nil {
			c.BrowserPool.MaxBrowsers = browsers
		}
	}

	if minBrowsers := os.Getenv("BROWSER_POOL_MIN_BROWSERS"); minBrowsers != "" {
		if browsers, err := strconv.Atoi(minBrowsers); err == nil {
			c.BrowserPool.MinBrowsers = browsers
		}
	}

	// Handle additional logging adapter options via environment variables
	c.loadLoggingAdapterEnvVars()
}

// loadLoggingAdapterEnvVars loads environment variables for logging adapters
func (c *Config) loadLoggingAdapterEnvVars() {
	for i := range c.Logging.Adapters {
		adapter := &c.Logging.Adapters[i]

		switch adapter.Type {
		case "webhook":
			if token := os.Getenv("WEBHOOK_LOG_SOURCE_TOKEN"); token != "" {
				if adapter.Options == nil {
					adapter.Options = make(map[string]interface{})
				}
				adapter.Options["source_token"] = token
			}

			if endpoint := os.Getenv("WEBHOOK_LOG_ENDPOINT"); endpoint != "" {
				if adapter.Options == nil {
					adapter.Options = make(map[string]interface{})
				}
				adapter.Options["endpoint"] = endpoint
			}

			if batchSize := os.Getenv("WEBHOOK_LOG_BATCH_SIZE"); batchSize != "" {
				if size, err := strconv.Atoi(batchSize); err == nil {
					if adapter.Options == nil {
						adapter.Options = make(map[string]interface{})
					}
					adapter.Options["batch_size"] = size
				}
			}

			if flushInterval := os.Getenv("WEBHOOK_LOG_FLUSH_INTERVAL"); flushInterval != "" {
				if adapter.Options == nil {
					adapter.Options = make(map[string]interface{})
				}
				adapter.Options["flush_interval"] = flushInterval
			}

			if maxRetries := os.Getenv("WEBHOOK_LOG_MAX_RETRIES"); maxRetries != "" {
				if retries, err := strconv.Atoi(maxRetries); err == nil {
					if adapter.Options == nil {
						adapter.Options = make(map[string]interface{})
					}
					adapter.Options["max_retries"] = retries
				}
			}

			if timeout := os.Getenv("WEBHOOK_LOG_TIMEOUT"); timeout != "" {
				if adapter.Options == nil {
					adapter.Options = make(map[string]interface{})
				}
				adapter.Options["timeout"] = timeout
			}
		}
	}
}
