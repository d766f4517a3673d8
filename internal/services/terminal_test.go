package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/models"
)

func TestTerminalServiceUnavailable(t *testing.T) {
	s := NewTerminalService("/definitely-not-tmux", "claude", events.NewBus())

	assert.False(t, s.Available())
	assert.False(t, s.Exists("abc12345"))
	assert.Empty(t, s.All())

	_, err := s.Create("/tmp/repo")
	require.Error(t, err)
	assert.Equal(t, models.ErrMultiplexerUnavailable, models.KindOf(err))

	err = s.SendText("abc12345", "hello")
	require.Error(t, err)
	assert.Equal(t, models.ErrMultiplexerUnavailable, models.KindOf(err))
}

func TestSendKeyRejectsUnknownToken(t *testing.T) {
	s := NewTerminalService("/definitely-not-tmux", "", events.NewBus())
	s.available = true // bypass the binary check; lookup fails first anyway

	err := s.SendKey("abc12345", "M-F4")
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidArgument, models.KindOf(err))
}

func TestEscapeKeystrokes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "hello world", "hello world"},
		{"tab preserved", "a\tb", "a\tb"},
		{"newline stripped", "line1\nline2", "line1line2"},
		{"carriage return stripped", "a\rb", "ab"},
		{"escape stripped", "\x1b[31mred", "[31mred"},
		{"delete stripped", "a\x7fb", "ab"},
		{"null stripped", "a\x00b", "ab"},
		{"leading dash shielded", "-rf /", " -rf /"},
		{"inner dash untouched", "git log --oneline", "git log --oneline"},
		{"unicode preserved", "héllo → wörld", "héllo → wörld"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EscapeKeystrokes(tt.input))
		})
	}
}

func TestQuoteCommand(t *testing.T) {
	assert.Equal(t, "claude", QuoteCommand("claude"))
	assert.Equal(t, "claude --resume 'my session'", QuoteCommand("claude", "--resume", "my session"))
	assert.Equal(t, `echo '$(whoami)'`, QuoteCommand("echo", "$(whoami)"))
}

func TestSpecialKeys(t *testing.T) {
	// Shift-Tab must translate to the multiplexer's back-tab token
	assert.Equal(t, "BTab", specialKeys["S-Tab"])
	assert.Equal(t, "Enter", specialKeys["Enter"])
	assert.Equal(t, "C-c", specialKeys["C-c"])
	assert.Equal(t, "Escape", specialKeys["Escape"])

	_, ok := specialKeys["M-x"]
	assert.False(t, ok)
}

func TestAgentCommandParsing(t *testing.T) {
	// The configured command is split shell-style at construction and
	// reassembled quote-safe when typed into a new window
	s := NewTerminalService("/definitely-not-tmux", `claude --resume "my session"`, events.NewBus())
	assert.Equal(t, []string{"claude", "--resume", "my session"}, s.agentArgv)
	assert.Equal(t, "claude --resume 'my session'", QuoteCommand(s.agentArgv...))

	s = NewTerminalService("/definitely-not-tmux", "", events.NewBus())
	assert.Empty(t, s.agentArgv)

	// Unbalanced quoting falls back to the raw string instead of
	// silently dropping the command
	s = NewTerminalService("/definitely-not-tmux", `claude "unclosed`, events.NewBus())
	assert.Equal(t, []string{`claude "unclosed`}, s.agentArgv)
}

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sid := generateSessionID()
		assert.Len(t, sid, sidLength)
		for _, r := range sid {
			assert.True(t, strings.ContainsRune(sidAlphabet, r), "unexpected rune %q in %q", r, sid)
		}
		seen[sid] = true
	}
	// 100 draws from a 62^8 space must not collide
	assert.Len(t, seen, 100)
}
