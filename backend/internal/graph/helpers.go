package graph

import (
	"encoding/json"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Helper Functions
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	return toInt64(val)
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	return toTime(val)
}

func getStringFromMap(m map[string]interface{}, key string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64PtrFromMap(m map[string]interface{}, key string) *int64 {
	val, ok := m[key]
	if !ok || val == nil {
		return nil
	}
	i := toInt64(val)
	return &i
}

func getInt64SliceFromMap(m map[string]interface{}, key string) []int64 {
	val, ok := m[key]
	if !ok || val == nil {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}
	result := make([]int64, 0, len(slice))
	for _, v := range slice {
		result = append(result, toInt64(v))
	}
	return result
}

func toInt64(val interface{}) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func toTime(val interface{}) time.Time {
	// Neo4j datetime values come as time.Time
	switch v := val.(type) {
	case time.Time:
		return v
	case neo4j.LocalDateTime:
		return v.Time()
	}
	return time.Time{}
}

// metadataJSON flattens metadata for storage; Neo4j properties cannot hold maps
func metadataJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func parseMetadata(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func citationsJSON(cs []Citation) string {
	if len(cs) == 0 {
		return "[]"
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func parseCitations(raw string) []Citation {
	if raw == "" {
		return nil
	}
	var cs []Citation
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		return nil
	}
	return cs
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
