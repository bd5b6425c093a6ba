package config

import (
	"fmt"

	"github.com/sciencebuild/buildrules/pkg/errors"
	"github.com/sciencebuild/buildrules/pkg/types"
)

// validateBuildConfig checks required keys and value types before the typed
// decode. Errors carry the offending key path in their details.
func validateBuildConfig(raw map[string]interface{}, tool types.ToolKind) error {
	if raw == nil {
		return errors.New(errors.ErrConfigMissingKey, "build configuration is empty").
			WithDetail("key", "target_architecture")
	}

	if err := requireString(raw, "target_architecture"); err != nil {
		return err
	}

	switch tool {
	case types.ToolSpack:
		if err := requireSpecList(raw, "compilers"); err != nil {
			return err
		}
		if err := requireSpecList(raw, "packages"); err != nil {
			return err
		}
	case types.ToolSingularity:
		if err := requireSpecList(raw, "containers"); err != nil {
			return err
		}
	case types.ToolAnaconda:
		if err := requireSpecList(raw, "environments"); err != nil {
			return err
		}
	}

	return nil
}

func requireString(raw map[string]interface{}, key string) error {
	val, ok := raw[key]
	if !ok {
		return errors.Newf(errors.ErrConfigMissingKey, "required key %q is missing", key).
			WithDetail("key", key)
	}
	if _, ok := val.(string); !ok {
		return errors.Newf(errors.ErrConfigTypeMismatch, "key %q must be a string", key).
			WithDetail("key", key).
			WithDetail("got", typeName(val))
	}
	return nil
}

// requireSpecList checks that key holds a sequence of mappings, each with
// string name and version. All other spec keys default to empty.
func requireSpecList(raw map[string]interface{}, key string) error {
	val, ok := raw[key]
	if !ok {
		return errors.Newf(errors.ErrConfigMissingKey, "required key %q is missing", key).
			WithDetail("key", key)
	}

	seq, ok := val.([]interface{})
	if !ok {
		return errors.Newf(errors.ErrConfigTypeMismatch, "key %q must be a sequence of mappings", key).
			WithDetail("key", key).
			WithDetail("got", typeName(val))
	}

	for i, item := range seq {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return errors.Newf(errors.ErrConfigTypeMismatch, "%s[%d] must be a mapping", key, i).
				WithDetail("key", fmt.Sprintf("%s[%d]", key, i)).
				WithDetail("got", typeName(item))
		}
		for _, field := range []string{"name", "version"} {
			// Singularity containers use name+tag instead of name+version.
			if field == "version" && key == "containers" {
				field = "tag"
			}
			v, ok := entry[field]
			if !ok {
				return errors.Newf(errors.ErrConfigMissingKey, "%s[%d] is missing %q", key, i, field).
					WithDetail("key", fmt.Sprintf("%s[%d].%s", key, i, field))
			}
			if _, ok := v.(string); !ok {
				return errors.Newf(errors.ErrConfigTypeMismatch, "%s[%d].%s must be a string", key, i, field).
					WithDetail("key", fmt.Sprintf("%s[%d].%s", key, i, field)).
					WithDetail("got", typeName(v))
			}
		}
	}

	return nil
}

// validateDeploymentConfig checks the deploy-target list shape.
func validateDeploymentConfig(raw interface{}) error {
	if raw == nil {
		return nil
	}

	seq, ok := raw.([]interface{})
	if !ok {
		return errors.New(errors.ErrConfigTypeMismatch, "deployment configuration must be a sequence").
			WithDetail("got", typeName(raw))
	}

	for i, item := range seq {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return errors.Newf(errors.ErrConfigTypeMismatch, "deployment[%d] must be a mapping", i).
				WithDetail("key", fmt.Sprintf("deployment[%d]", i))
		}
		if err := requireString(entry, "method"); err != nil {
			return err
		}
		pairs, ok := entry["paths"]
		if !ok {
			return errors.Newf(errors.ErrConfigMissingKey, "deployment[%d] is missing \"paths\"", i).
				WithDetail("key", fmt.Sprintf("deployment[%d].paths", i))
		}
		pairSeq, ok := pairs.([]interface{})
		if !ok {
			return errors.Newf(errors.ErrConfigTypeMismatch, "deployment[%d].paths must be a sequence", i).
				WithDetail("key", fmt.Sprintf("deployment[%d].paths", i))
		}
		for j, p := range pairSeq {
			pair, ok := p.(map[string]interface{})
			if !ok {
				return errors.Newf(errors.ErrConfigTypeMismatch, "deployment[%d].paths[%d] must be a mapping", i, j).
					WithDetail("key", fmt.Sprintf("deployment[%d].paths[%d]", i, j))
			}
			for _, field := range []string{"source", "dest"} {
				if err := requireString(pair, field); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, float64:
		return "number"
	case []interface{}:
		return "sequence"
	case map[string]interface{}:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}
