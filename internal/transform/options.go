package transform

import (
	"fmt"
	"time"
)

func stringOption(options map[string]any, key, def string) (string, error) {
	v, ok := options[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %q must be a string, got %T", key, v)
	}
	return s, nil
}

func boolOption(options map[string]any, key string, def bool) (bool, error) {
	v, ok := options[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("option %q must be a boolean, got %T", key, v)
	}
	return b, nil
}

// stringsOption accepts both []string and the []any produced by YAML decoding.
func stringsOption(options map[string]any, key string) ([]string, error) {
	v, ok := options[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %q item %d must be a string, got %T", key, i, item)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %q must be a list of strings, got %T", key, v)
	}
}

// durationOption accepts a duration string ("30s") or a number of seconds.
func durationOption(options map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := options[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case time.Duration:
		return d, nil
	default:
		return 0, fmt.Errorf("option %q must be a duration, got %T", key, v)
	}
}
