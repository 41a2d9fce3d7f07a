package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scenergy/scenesync/internal/models"
)

func TestTokenInfo_IsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{
			name:      "not expired",
			expiresAt: now.Add(time.Hour),
			want:      false,
		},
		{
			name:      "expired",
			expiresAt: now.Add(-time.Hour),
			want:      true,
		},
		{
			name:      "just expired",
			expiresAt: now.Add(-time.Second),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := &models.TokenInfo{
				Token:     "test-token",
				ExpiresAt: tt.expiresAt,
				Email:     "test@example.com",
			}

			got := token.IsExpired()
			assert.Equal(t, tt.want, got)
		})
	}
}
