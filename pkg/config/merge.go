package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeOverride merges the non-zero fields of src into dst, with src
// values taking precedence, matching the teacher's queue-config merge
// pattern: start from built-in defaults, then layer user overrides on top.
func mergeOverride(dst, src any) error {
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}
