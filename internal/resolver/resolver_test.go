package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		bot    string
		want   string
		wantOK bool
	}{
		{
			name:   "skips bot mention case-insensitively",
			text:   "hey @truthkwaMasses check @alice123 out",
			bot:    "truthkwamasses",
			want:   "alice123",
			wantOK: true,
		},
		{
			name:   "first non-bot handle wins",
			text:   "@carol and @dave are both suspicious",
			bot:    "truthkwamasses",
			want:   "carol",
			wantOK: true,
		},
		{
			name:   "trailing punctuation dropped",
			text:   "@TruthkwaMasses look at @Eve_99, please",
			bot:    "@TruthKwaMasses",
			want:   "Eve_99",
			wantOK: true,
		},
		{
			name:   "only the bot is mentioned",
			text:   "@truthkwamasses what do you think?",
			bot:    "truthkwamasses",
			wantOK: false,
		},
		{
			name:   "bare sigil ignored",
			text:   "email me @ home about @frank",
			bot:    "truthkwamasses",
			want:   "frank",
			wantOK: true,
		},
		{
			name:   "no mentions",
			text:   "nothing to see here",
			bot:    "truthkwamasses",
			wantOK: false,
		},
		{
			name:   "mid-token sigil is not a mention",
			text:   "mail@example.com",
			bot:    "truthkwamasses",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.text, tt.bot)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
