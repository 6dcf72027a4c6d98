package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditStatusIsValid(t *testing.T) {
	tests := []struct {
		name   string
		status AuditStatus
		valid  bool
	}{
		{"success", AuditStatusSuccess, true},
		{"error", AuditStatusError, true},
		{"warning", AuditStatusWarning, true},
		{"unknown", AuditStatus("pending"), false},
		{"empty", AuditStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
		})
	}
}
