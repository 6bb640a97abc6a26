package repository

import (
	"encoding/json"
	"fmt"

	"qr-attendance/backend/internal/audit/domain"
)

// encodeSnapshot returns the JSON text of s, or "" for nil.
func encodeSnapshot(s *domain.Snapshot) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("audit: encoding snapshot: %w", err)
	}
	return string(b), nil
}

func decodeSnapshot(text string) (*domain.Snapshot, error) {
	if text == "" {
		return nil, nil
	}
	var s domain.Snapshot
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("audit: decoding snapshot: %w", err)
	}
	return &s, nil
}
