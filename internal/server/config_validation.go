// config_validation.go - Startup validation of the SFX_ environment.
//
// Validates all environment variables at startup to fail fast with clear
// error messages rather than runtime failures.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ConfigValidationError represents a configuration validation error.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator collects configuration errors.
type ConfigValidator struct {
	errors []ConfigValidationError
}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{Field: field, Message: message})
}

func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *ConfigValidator) Errors() []ConfigValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configuration validation failed with %d error(s):\n", len(v.errors))
	for i, err := range v.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidateRequired validates that a required environment variable is set.
func (v *ConfigValidator) ValidateRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		v.AddError(key, "required environment variable not set")
	}
	return value
}

// ValidateListenAddr accepts ":port" and "host:port".
func (v *ConfigValidator) ValidateListenAddr(key, value string) {
	if value == "" {
		return
	}

	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(key, "must be host:port or :port")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}
	if port < 0 || port > 65535 {
		v.AddError(key, "port must be between 0 and 65535")
	}
}

// ValidateIntRange validates an integer within [lo, hi].
func (v *ConfigValidator) ValidateIntRange(key, value string, lo, hi int64) {
	if value == "" {
		return
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return
	}
	if num < lo || num > hi {
		v.AddError(key, fmt.Sprintf("must be between %d and %d (got %d)", lo, hi, num))
	}
}

// ValidatePositiveInt validates that a value is a positive integer.
func (v *ConfigValidator) ValidatePositiveInt(key, value string) {
	if value == "" {
		return
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return
	}
	if num <= 0 {
		v.AddError(key, "must be a positive integer")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *ConfigValidator) ValidateEnum(key, value string, allowed []string) {
	if value == "" {
		return
	}

	for _, opt := range allowed {
		if value == opt {
			return
		}
	}

	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidateBool accepts the forms strconv.ParseBool understands.
func (v *ConfigValidator) ValidateBool(key, value string) {
	if value == "" {
		return
	}
	if _, err := strconv.ParseBool(value); err != nil {
		v.AddError(key, "must be true or false")
	}
}

// ValidateOrigins checks a comma separated origin allow-list.
func (v *ConfigValidator) ValidateOrigins(key, value string) {
	for _, origin := range strings.Split(value, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		if _, ok := normalizeOrigin(origin); !ok {
			v.AddError(key, fmt.Sprintf("invalid origin %q (want scheme://host[:port])", origin))
		}
	}
}

// ValidateAllConfiguration performs comprehensive validation of all configuration.
func ValidateAllConfiguration() error {
	v := NewConfigValidator()

	v.ValidateListenAddr("SFX_ADDR", os.Getenv("SFX_ADDR"))
	v.ValidateBool("SFX_FLAT_ENABLED", os.Getenv("SFX_FLAT_ENABLED"))

	// Rooms
	v.ValidateIntRange("SFX_MIN_PASSWORD", os.Getenv("SFX_MIN_PASSWORD"), 1, 1024)
	v.ValidateIntRange("SFX_ROOM_ID_BYTES", os.Getenv("SFX_ROOM_ID_BYTES"), 3, 32)
	v.ValidateIntRange("SFX_BCRYPT_COST", os.Getenv("SFX_BCRYPT_COST"), 4, 31)
	v.ValidateIntRange("SFX_LOCKOUT_ATTEMPTS", os.Getenv("SFX_LOCKOUT_ATTEMPTS"), 0, 1000)
	v.ValidatePositiveInt("SFX_LOCKOUT_MINUTES", os.Getenv("SFX_LOCKOUT_MINUTES"))

	// HTTP limits
	v.ValidateIntRange("SFX_MAX_UPLOAD_BYTES", os.Getenv("SFX_MAX_UPLOAD_BYTES"), 0, 1<<62)
	v.ValidateIntRange("SFX_RATE_LIMIT_PER_MIN", os.Getenv("SFX_RATE_LIMIT_PER_MIN"), 0, 1_000_000)
	v.ValidateOrigins("SFX_ALLOWED_ORIGINS", os.Getenv("SFX_ALLOWED_ORIGINS"))
	if _, err := parseTrustedProxies(strings.Split(os.Getenv("SFX_TRUSTED_PROXIES"), ",")); err != nil {
		v.AddError("SFX_TRUSTED_PROXIES", err.Error())
	}

	// Storage backend
	backend := os.Getenv("SFX_STORAGE")
	v.ValidateEnum("SFX_STORAGE", backend, []string{"local", "minio"})
	if backend == "minio" {
		v.ValidateRequired("SFX_S3_ENDPOINT")
		v.ValidateRequired("SFX_S3_ACCESS_KEY")
		v.ValidateRequired("SFX_S3_SECRET_KEY")
		v.ValidateRequired("SFX_BUCKET")
	}

	// Optional audit database
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if !strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
			v.AddError("DATABASE_URL", "must be a valid PostgreSQL connection string")
		}
	}

	// Log configuration
	v.ValidateEnum("SFX_LOG_FORMAT", os.Getenv("SFX_LOG_FORMAT"), []string{"json", "text"})
	v.ValidateEnum("SFX_LOG_LEVEL", os.Getenv("SFX_LOG_LEVEL"), []string{"debug", "info", "warn", "error"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}

// WarnOnOptionalMissingConfig logs warnings for settings that weaken the
// deployment without being errors.
func WarnOnOptionalMissingConfig() {
	var warnings []string

	if os.Getenv("DATABASE_URL") == "" {
		warnings = append(warnings, "DATABASE_URL not set - audit events go to the log only")
	}
	if n, err := strconv.Atoi(os.Getenv("SFX_ROOM_ID_BYTES")); err == nil && n < 16 {
		warnings = append(warnings, "SFX_ROOM_ID_BYTES below 16 - room ids are guessable")
	}
	if os.Getenv("SFX_LOCKOUT_ATTEMPTS") == "0" {
		warnings = append(warnings, "SFX_LOCKOUT_ATTEMPTS is 0 - room passwords can be brute forced")
	}
	if os.Getenv("SFX_LOG_FORMAT") == "" {
		warnings = append(warnings, "SFX_LOG_FORMAT not set - using text format (consider 'json' for production)")
	}

	if len(warnings) > 0 {
		Info("configuration warnings", map[string]any{
			"count":    len(warnings),
			"warnings": warnings,
		})
	}
}
