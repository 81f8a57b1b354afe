package vectorstore

import (
	"fmt"
	"strconv"
)

// convertMetadataToString converts metadata to chromem's string-only
// map. Integer values must format the same way here and in filters, or
// payload filtering silently matches nothing.
func convertMetadataToString(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	converted := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			converted[k] = val
		case int:
			converted[k] = strconv.FormatInt(int64(val), 10)
		case int64:
			converted[k] = strconv.FormatInt(val, 10)
		case float64:
			converted[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			converted[k] = strconv.FormatBool(val)
		default:
			converted[k] = fmt.Sprintf("%v", val)
		}
	}
	return converted
}

// convertMetadataFromString restores typed metadata from chromem's
// string map. Integers come back as int64, everything else stays a
// string; that is enough for the payload keys this store writes.
func convertMetadataFromString(metadata map[string]string) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	converted := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			converted[k] = n
			continue
		}
		converted[k] = v
	}
	return converted
}
