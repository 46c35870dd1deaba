package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their yaml key so errors read like the
// config file ("webhdfs.max_retries") rather than the Go struct path.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks struct tag rules, then the cross-field rules tags cannot
// express. Every failure is reported, not only the first one.
//
// Log levels are accepted in either case; ApplyDefaults normalizes them.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return tagErrors(err)
	}

	var errs []error
	for _, check := range crossFieldChecks {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var crossFieldChecks = []func(*Config) error{
	checkBaseURLScheme,
	checkCACert,
	checkBadgerPath,
	checkMetricsPort,
}

func checkBaseURLScheme(cfg *Config) error {
	if cfg.WebHDFS.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(cfg.WebHDFS.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("webhdfs.base_url: must be an http or https URL, got %q", cfg.WebHDFS.BaseURL)
	}
	return nil
}

func checkCACert(cfg *Config) error {
	if cfg.WebHDFS.CACert == "" {
		return nil
	}
	if _, err := os.Stat(cfg.WebHDFS.CACert); err != nil {
		return fmt.Errorf("webhdfs.ca_cert: %w", err)
	}
	return nil
}

func checkBadgerPath(cfg *Config) error {
	if cfg.Handles.Journal.Type != "badger" {
		return nil
	}
	if path, _ := cfg.Handles.Journal.Badger["path"].(string); path == "" {
		return errors.New("handles.journal.badger.path: required when journal type is badger")
	}
	return nil
}

func checkMetricsPort(cfg *Config) error {
	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == 0 {
		return errors.New("server.metrics.port: required when metrics are enabled")
	}
	return nil
}

// tagErrors turns validator failures into one line per field.
func tagErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		// Drop the leading "Config." of the namespace.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		errs = append(errs, fmt.Errorf("%s: failed '%s' rule %s (value: %v)", field, fe.Tag(), rule, fe.Value()))
	}
	return errors.Join(errs...)
}
