package worker

import "time"

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// getNumber извлекает число из params.
func getNumber(m map[string]any, key string) (float64, bool) {
	return toNumber(m[key])
}

// toNumber приводит число из JSON (float64) или YAML (int) к float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// getStrings извлекает список строк; нестроковые элементы пропускаются.
func getStrings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// getTimeout извлекает timeout_sec из params.
func getTimeout(params map[string]any, def time.Duration) time.Duration {
	if v, ok := getNumber(params, "timeout_sec"); ok && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	return def
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
