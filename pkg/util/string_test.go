package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentPrefix(t *testing.T) {
	assert.Equal(t, "Hello world", ContentPrefix("  Hello\n\tworld  ", 0))
	assert.Equal(t, "Hello", ContentPrefix("Hello world", 5))
	assert.Equal(t, "你好", ContentPrefix("你好世界", 2))
	assert.Equal(t, "", ContentPrefix("   ", 10))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "你好世...", Truncate("你好世界你好啊", 6))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestContentPrefixTrimsCut(t *testing.T) {
	assert.Equal(t, "Hello world", ContentPrefix("Hello world and more", 12))
}
