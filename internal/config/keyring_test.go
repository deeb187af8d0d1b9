package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testItem = "test-llm-api-key"

func TestKeyringManager_SetGetDelete(t *testing.T) {
	km := NewKeyringManager()

	// Headless CI has no secret service
	if !km.IsAvailable() {
		t.Skip("Keychain not available, skipping test")
	}
	defer km.Delete(testItem)

	require.NoError(t, km.Set(testItem, "sk-test123456789"))

	got, err := km.Get(testItem)
	require.NoError(t, err)
	assert.Equal(t, "sk-test123456789", got)

	require.NoError(t, km.Delete(testItem))
	got, err = km.Get(testItem)
	require.NoError(t, err)
	assert.Empty(t, got)

	// deleting twice is fine
	assert.NoError(t, km.Delete(testItem))
}

func TestKeyringManager_RejectsEmpty(t *testing.T) {
	km := NewKeyringManager()
	assert.Error(t, km.Set(testItem, ""))
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(not set)"},
		{"short", "***"},
		{"sk-proj-abcdefghijkl1234", "sk-proj...1234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskAPIKey(tt.in))
	}
}
