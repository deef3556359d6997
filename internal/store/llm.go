package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LLMExchange is a prompt/response pair dumped for debugging
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	PostID    string    `json:"post_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// SaveLLMExchange writes an exchange as JSON under dir and returns the file path
func SaveLLMExchange(dir string, exchange LLMExchange) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	// Concurrent analyses share a second, so the post id and nanos disambiguate
	name := fmt.Sprintf("%s-%s-%09d.json",
		exchange.Timestamp.Format("2006-01-02T15-04-05"), exchange.PostID, exchange.Timestamp.Nanosecond())
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(exchange, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}

	return path, nil
}
