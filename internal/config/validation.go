package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"portalauth/pkg/logging"
)

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors collects field errors.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add appends a field error.
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{Field: field, Value: val, Message: message})
}

// ValidateHTTPURL checks that value, when set, is an absolute http(s) URL.
func ValidateHTTPURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{Field: field, Value: value, Message: "must be an absolute http or https URL"}
	}
	return nil
}

// Validate checks the configuration and returns a *ConfigurationError
// listing every invalid field, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	for field, value := range map[string]string{
		"portal":      c.Portal,
		"server":      c.Server,
		"redirectUri": c.RedirectURI,
	} {
		if err := ValidateHTTPURL(field, value); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	}
	if c.Portal == "" && c.Server == "" {
		errs.Add("portal", "portal or server is required")
	}
	if c.RedirectURI != "" && c.ClientID == "" {
		errs.Add("clientId", "is required when redirectUri is set")
	}
	if c.TokenDuration <= 0 {
		errs.Add("tokenDuration", "must be a positive number of minutes", c.TokenDuration)
	}
	if c.HTTPTimeout <= 0 {
		errs.Add("httpTimeout", "must be positive", c.HTTPTimeout)
	}
	if c.RequestsPerSecond < 0 {
		errs.Add("requestsPerSecond", "must not be negative", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.RequestBurst < 1 {
		errs.Add("requestBurst", "must be at least 1 when rate limiting", c.RequestBurst)
	}
	if _, err := logging.ParseLogLevel(c.LogLevel); err != nil {
		errs.Add("logLevel", err.Error(), c.LogLevel)
	}
	if c.SessionDir == "" {
		errs.Add("sessionDir", "is required")
	}
	switch c.SessionBackend {
	case "file", "sqlite":
	default:
		errs.Add("sessionBackend", "must be file or sqlite", c.SessionBackend)
	}

	if !errs.HasErrors() {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return &ConfigurationError{
		ErrorType: "validation",
		Message:   "invalid configuration",
		Details:   errs.Error(),
		Fields:    errs,
	}
}
