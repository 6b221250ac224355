package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from a YAML file and the environment.
// Environment variables take precedence over file values, which take
// precedence over defaults. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	fileValues, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), fileValues); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// readFile parses a YAML document into a flat "section.key" -> value map.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	out := make(map[string]string)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			// explicit null leaves the key unset
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// loadStruct recursively populates struct fields from environment variables,
// falling back to file values and then to defaults.
func loadStruct(v reflect.Value, fileValues map[string]string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, fileValues); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		fileKey := field.Tag.Get("file")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate, then the config file
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}
		if value == "" && fileKey != "" {
			value = fileValues[fileKey]
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Upstream validation
	if c.Upstream.BaseURL == "" {
		errs = append(errs, "UPSTREAM_BASE_URL is required")
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("UPSTREAM_BASE_URL (%q) must be an absolute http(s) URL", c.Upstream.BaseURL))
	}
	if (c.Upstream.Username == "") != (c.Upstream.Password == "") {
		errs = append(errs, "UPSTREAM_USERNAME and UPSTREAM_PASSWORD must be set together")
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, "UPSTREAM_TIMEOUT must be positive")
	}
	if c.Upstream.RateLimit < 0 {
		errs = append(errs, "UPSTREAM_RATE_LIMIT must be non-negative")
	}
	if c.Upstream.RateBurst <= 0 {
		errs = append(errs, "UPSTREAM_RATE_BURST must be positive")
	}

	// Upload validation
	if c.Upload.ChunkSize <= 0 {
		errs = append(errs, "UPLOAD_CHUNK_SIZE must be positive")
	}
	if c.Upload.MaxFileSize < 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be non-negative")
	}
	if c.Upload.MaxConcurrent <= 0 {
		errs = append(errs, "UPLOAD_MAX_CONCURRENT must be positive")
	}
	if c.Upload.MaxWaitTime <= 0 {
		errs = append(errs, "UPLOAD_MAX_WAIT_TIME must be positive")
	}

	// Database validation
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials and database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Upstream: {BaseURL: %q, Username: %q, Password: %s, Timeout: %s}, ",
		c.Upstream.BaseURL, c.Upstream.Username, mask(c.Upstream.Password), c.Upstream.Timeout))
	b.WriteString(fmt.Sprintf("Upload: {ChunkSize: %d, MaxFileSize: %d, MaxConcurrent: %d, Validate: %v}, ",
		c.Upload.ChunkSize, c.Upload.MaxFileSize, c.Upload.MaxConcurrent, c.Upload.Validate))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return `""`
	}
	return "[MASKED]"
}
