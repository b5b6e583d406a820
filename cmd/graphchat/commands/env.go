package commands

import (
	"os"
	"strconv"
	"strings"
)

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses the named variable as an int, returning fallback when it
// is unset or malformed.
func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

// getEnvFloat parses the named variable as a float64, returning fallback when
// it is unset or malformed.
func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return v
}

// getEnvBool parses the named variable as a bool, returning false when it is
// unset or malformed.
func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}
