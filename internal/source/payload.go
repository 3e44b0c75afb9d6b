package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// decodeRows extracts the row list from an upstream JSON body. Municipal
// endpoints are inconsistent about envelopes: some return a bare array,
// others wrap the rows in an object under an arbitrary key. A valid JSON
// object with no array-valued key decodes to zero rows, which callers
// treat as an exhausted page. Anything that is not valid JSON is a
// permanent failure.
func decodeRows(body []byte) ([]map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrPermanent, err)
	}
	switch v := payload.(type) {
	case []any:
		return castRows(v), nil
	case map[string]any:
		for _, val := range v {
			if list, ok := val.([]any); ok {
				return castRows(list), nil
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: response is neither array nor object", ErrPermanent)
	}
}

func castRows(list []any) []map[string]any {
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// firstString returns the first non-empty string found under keys,
// stringifying numeric values on the way. Upstream schemas drift between
// releases, so every field is looked up under its known aliases.
func firstString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		val, ok := row[key]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// firstInt returns the first value under keys that parses as an integer.
func firstInt(row map[string]any, keys ...string) int {
	for _, key := range keys {
		val, ok := row[key]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

// firstStringList returns the values under the first key holding a list,
// stringifying scalar entries and pulling an id-ish field out of object
// entries.
func firstStringList(row map[string]any, keys ...string) []string {
	for _, key := range keys {
		list, ok := row[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			switch v := item.(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					out = append(out, s)
				}
			case float64:
				out = append(out, strconv.FormatInt(int64(v), 10))
			case map[string]any:
				if id := firstString(v, "id", "codigo", "numero"); id != "" {
					out = append(out, id)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// dateLayouts covers the formats observed across municipal endpoints.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

// firstDate returns the first value under keys that looks like a date,
// normalized to ISO form (YYYY-MM-DD). Municipal APIs mix ISO and
// Brazilian day-first formats freely; values matching no known layout are
// returned as found so nothing is silently dropped.
func firstDate(row map[string]any, keys ...string) string {
	for _, key := range keys {
		raw := firstString(row, key)
		if raw == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Format("2006-01-02")
			}
		}
		return raw
	}
	return ""
}
