package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rickgao/tickhub/internal/instrument"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML path (feed.url, not Feed.URL).
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required fields are set and values are valid.
// Call it after defaults have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	if c.Feed.Enabled && !c.Feed.Insecure && c.Feed.AccessToken == "" && c.Feed.AccessTokenFile == "" {
		return errors.New("feed.access_token or feed.access_token_file is required")
	}
	if _, err := instrument.ParseAll(c.Feed.Watchlist); err != nil {
		return fmt.Errorf("feed.watchlist: %w", err)
	}

	if c.Database.Enabled && c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	return nil
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.feed.url"; drop the root type.
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}

	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s is required", path)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", path, fe.Param(), fmt.Sprint(fe.Value()))
	case "gte", "min":
		return fmt.Errorf("%s must be >= %s", path, fe.Param())
	case "gt":
		return fmt.Errorf("%s must be > %s", path, fe.Param())
	case "max":
		return fmt.Errorf("%s must be <= %s", path, fe.Param())
	case "gtefield":
		return fmt.Errorf("%s must be >= %s", path, fe.Param())
	default:
		return fmt.Errorf("%s failed %q validation", path, fe.Tag())
	}
}
