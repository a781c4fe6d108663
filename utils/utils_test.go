package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecorateText(t *testing.T) {
	msg := "training finished"

	assert.True(t, strings.HasPrefix(DecorateText(msg, SuccessMessage), SuccessColor))
	assert.True(t, strings.HasPrefix(DecorateText(msg, ErrorMessage), ErrorColor))
	assert.True(t, strings.HasPrefix(DecorateText(msg, StatusMessage), StatusColor))
	assert.True(t, strings.HasSuffix(DecorateText(msg, ErrorMessage), DefaultColor))
	assert.Contains(t, DecorateText(msg, StatusMessage), msg)

	// Unknown message types pass the text through untouched.
	assert.Equal(t, msg, DecorateText(msg, MessageType(42)))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "1.50s", FormatTime(1500*time.Millisecond))
	assert.Equal(t, "2m 5.00s", FormatTime(125*time.Second))
	assert.Equal(t, "1h 1m 1.00s", FormatTime(time.Hour+time.Minute+time.Second))
	assert.Equal(t, "1d 2h 0m 0.00s", FormatTime(26*time.Hour))
}

func TestMinMaxAbs(t *testing.T) {
	assert.Equal(t, 2, Min(2, 7))
	assert.Equal(t, 2, Min(7, 2))
	assert.Equal(t, 7, Max(2, 7))
	assert.Equal(t, 7, Max(7, 2))
	assert.Equal(t, 1.5, Min(1.5, 2.5))
	assert.Equal(t, 2.5, Max(1.5, 2.5))

	assert.Equal(t, 3, Abs(-3))
	assert.Equal(t, 3, Abs(3))
	assert.Equal(t, 0.5, Abs(-0.5))
}
