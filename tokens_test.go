package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{" \n\t", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"hello, world", 5},
		{"it's 42!", 5},
		{"supercalifragilistic", 5},
		{"你好", 2},
		{"hi 你好", 3},
		{"ok👍", 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EstimateTokens(tc.text), "%q", tc.text)
	}
}

func TestMessageTokens(t *testing.T) {
	m := NewMessage(SenderUser, "hello, world", time.Now())
	assert.Equal(t, 5, m.Tokens())

	// Records written before token counting fall back to the estimate.
	assert.Equal(t, 2, ChatMessage{Text: "abcdefgh"}.Tokens())
	assert.Equal(t, 7, ChatMessage{Text: "abcdefgh", TokenCount: 7}.Tokens())
}
