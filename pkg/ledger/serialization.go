package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// slices and maps are JSON-encoded into single hash fields. This provides a
// balance between queryability (individual fields) and flexibility (complex
// structures).

// ItemToHash converts a ContentItem struct to a Redis hash format.
// Slice and map fields are JSON-encoded.
func ItemToHash(i *ContentItem) (map[string]interface{}, error) {
	platformsJSON, err := json.Marshal(i.Platforms)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal platforms: %w", err)
	}

	attemptsJSON, err := json.Marshal(i.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attempts: %w", err)
	}

	hash := map[string]interface{}{
		"hash":                i.Hash,
		"source_ref":          i.SourceRef,
		"title":               i.Title,
		"state":               string(i.State),
		"raw_artifact":        i.RawArtifact,
		"normalized_artifact": i.NormalizedArtifact,
		"current_article":     i.CurrentArticle,
		"article_version":     i.ArticleVersion,
		"platforms":           string(platformsJSON),
		"attempts":            string(attemptsJSON),
		"collected_at_ms":     i.CollectedAtMs,
		"updated_at_ms":       i.UpdatedAtMs,
	}

	if i.LastError != nil {
		lastErrorJSON, err := json.Marshal(i.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal last_error: %w", err)
		}
		hash["last_error"] = string(lastErrorJSON)
	} else {
		hash["last_error"] = ""
	}

	return hash, nil
}

// HashToItem converts a Redis hash to a ContentItem struct.
// JSON fields are decoded back to Go types.
func HashToItem(hash map[string]string) (*ContentItem, error) {
	var platforms []string
	if platformsJSON := hash["platforms"]; platformsJSON != "" {
		if err := json.Unmarshal([]byte(platformsJSON), &platforms); err != nil {
			return nil, fmt.Errorf("failed to unmarshal platforms: %w", err)
		}
	}
	if platforms == nil {
		platforms = []string{}
	}

	attempts := make(map[Stage]int)
	if attemptsJSON := hash["attempts"]; attemptsJSON != "" {
		if err := json.Unmarshal([]byte(attemptsJSON), &attempts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempts: %w", err)
		}
	}

	var lastError *StageError
	if lastErrorJSON := hash["last_error"]; lastErrorJSON != "" {
		lastError = &StageError{}
		if err := json.Unmarshal([]byte(lastErrorJSON), lastError); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last_error: %w", err)
		}
	}

	articleVersion, _ := strconv.Atoi(hash["article_version"])
	collectedAtMs, _ := strconv.ParseInt(hash["collected_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	item := &ContentItem{
		Hash:               hash["hash"],
		SourceRef:          hash["source_ref"],
		Title:              hash["title"],
		State:              ItemState(hash["state"]),
		RawArtifact:        hash["raw_artifact"],
		NormalizedArtifact: hash["normalized_artifact"],
		CurrentArticle:     hash["current_article"],
		ArticleVersion:     articleVersion,
		Platforms:          platforms,
		Attempts:           attempts,
		LastError:          lastError,
		CollectedAtMs:      collectedAtMs,
		UpdatedAtMs:        updatedAtMs,
	}

	return item, nil
}
