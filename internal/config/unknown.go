package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid top-level keys in the config file.
var knownKeys = map[string]bool{
	"UPLOAD_DIR": true, "STATIC_DIR": true, "HOST": true, "PORT": true,
	"SESSION_TIMEOUT": true, "SESSION_TIMEOUT_MINUTES": true,
	"VALID_CREDENTIALS": true, "SECRET_KEY": true,
	"MAX_UPLOAD_SIZE": true, "BANDWIDTH_LIMIT": true,
	"AUDIT_DB": true, "WATCH_EVENTS": true, "PID_FILE": true,
	"LOG_LEVEL": true, "LOG_FORMAT": true,
}

// knownKeysList is the sorted slice form of knownKeys. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys returns an error with "did you mean?" suggestions for
// every key that is not a known config key.
func checkUnknownKeys(keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var errs []error

	for _, key := range sorted {
		if knownKeys[key] {
			continue
		}

		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

// buildKeyError describes an unknown key, suggesting the closest known key.
// Matching is done on the upper-cased key so "port" suggests "PORT".
func buildKeyError(key string) error {
	suggestion := closestMatch(strings.ToUpper(key), knownKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", key, suggestion)
	}

	return fmt.Errorf("unknown config key %q", key)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using two
// rolling rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
