package bounce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnfold(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "empty",
			text:     "",
			expected: []string{""},
		},
		{
			name:     "LF",
			text:     "Action: failed\nStatus: 5.1.1",
			expected: []string{"Action: failed", "Status: 5.1.1"},
		},
		{
			name:     "CRLF and CR",
			text:     "Action: failed\r\nStatus: 5.1.1\rSubject: hi",
			expected: []string{"Action: failed", "Status: 5.1.1", "Subject: hi"},
		},
		{
			name:     "space continuation",
			text:     "Subject: Undeliverable\n   mail returned  \nAction: failed",
			expected: []string{"Subject: Undeliverable mail returned", "Action: failed"},
		},
		{
			name:     "tab continuation",
			text:     "Diagnostic-Code: smtp;\n\t550 5.1.1 user unknown",
			expected: []string{"Diagnostic-Code: smtp; 550 5.1.1 user unknown"},
		},
		{
			name:     "leading continuation starts a line",
			text:     "  Action: failed\n Status: 5.1.1",
			expected: []string{"Action: failed Status: 5.1.1"},
		},
		{
			name:     "trailing whitespace trimmed",
			text:     "Action: failed   ",
			expected: []string{"Action: failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Unfold(tt.text))
		})
	}
}
