package interfaces

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateHref(t *testing.T) {
	tests := []struct {
		ident string
		keep  bool
	}{
		{"abc", true},
		{"event-1_2.x+y", true},
		{"ünïcödé", true},
		{"", false},
		{"a/b", false},
		{"with space", false},
		{"semi;colon", false},
	}
	for _, tt := range tests {
		t.Run(tt.ident, func(t *testing.T) {
			href := GenerateHref(tt.ident)
			if tt.keep {
				assert.Equal(t, tt.ident, href)
				return
			}
			_, err := uuid.Parse(href)
			require.NoError(t, err)
		})
	}
}
