package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/gatewaysetup/pkg/config"
)

// ConfigurationCheck validates the struct tags of the loaded configuration.
// Each violation is reported by its file key path, e.g. aws.endpoint_url.
func ConfigurationCheck(cfg *config.Config) Check {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return NewCheck("configuration", func(_ context.Context) []Finding {
		err := validate.Struct(cfg)
		if err == nil {
			return []Finding{Pass("configuration", "configuration is well-formed")}
		}

		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []Finding{Fail("configuration", "config", fmt.Sprintf("validation error: %v", err), "")}
		}

		findings := make([]Finding, 0, len(verrs))
		for _, fe := range verrs {
			field := fieldPath(fe.Namespace())
			findings = append(findings, Fail("configuration", field,
				formatFieldError(field, fe),
				fmt.Sprintf("Set %s in %s", field, configName(cfg))))
		}
		return findings
	})
}

func formatFieldError(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", field, fe.Tag(), fe.Value())
	}
}

// fieldPath drops the root struct name: "Config.aws.region" -> "aws.region".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func configName(cfg *config.Config) string {
	if cfg.Path() != "" {
		return cfg.Path()
	}
	return "the configuration file"
}
