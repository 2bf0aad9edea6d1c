package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dittostore/pkg/authz"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if err := cfg.Control.Validate(); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	// Port 0 asks the OS for a free port and never collides.
	ports := map[int]string{}
	claim := func(section string, port int) error {
		if port == 0 {
			return nil
		}
		if other, taken := ports[port]; taken {
			return fmt.Errorf("%s: port %d is already used by %s", section, port, other)
		}
		ports[port] = section
		return nil
	}
	if err := claim("control", cfg.Control.Port); err != nil {
		return err
	}
	if err := claim("storage", cfg.Storage.Port); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := claim("metrics", cfg.Metrics.Port); err != nil {
			return err
		}
	}

	if cfg.Engine.ReadBlockSize > 0 && cfg.Engine.ChunkSize > cfg.Engine.ReadBlockSize {
		return fmt.Errorf("engine: chunk_size %d exceeds read_block_size %d",
			cfg.Engine.ChunkSize, cfg.Engine.ReadBlockSize)
	}

	// Resolving the policy checks permission names and role references.
	if _, err := authz.NewStaticPolicy(cfg.Authorization); err != nil {
		return fmt.Errorf("authorization: %w", err)
	}

	if cfg.Content.Type == "s3" {
		if _, ok := cfg.Content.S3["bucket"]; !ok {
			return errors.New("content: s3 requires a bucket")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
