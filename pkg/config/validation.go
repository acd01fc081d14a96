package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags and the cross-field rules
// tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value: %v)", fe.Namespace(), fieldRule(fe), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	switch cfg.Cache.Type {
	case CacheTypeFS, CacheTypeBadger:
		if path, _ := cfg.Cache.Options["path"].(string); path == "" && !inMemoryBadger(cfg.Cache) {
			return fmt.Errorf("cache.options.path is required for cache type %q", cfg.Cache.Type)
		}
	case CacheTypeS3:
		if bucket, _ := cfg.Cache.Options["bucket"].(string); bucket == "" {
			return errors.New("cache.options.bucket is required for cache type \"s3\"")
		}
	}
	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func inMemoryBadger(cfg CacheConfig) bool {
	if cfg.Type != CacheTypeBadger {
		return false
	}
	switch v := cfg.Options["in_memory"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
