package types

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "classifier-key-12345"

func TestSecretString_Redacted(t *testing.T) {
	s := SecretString(testSecret)

	assert.Equal(t, redactedPlaceholder, s.String())
	assert.NotContains(t, fmt.Sprintf("key=%s %v", s, s), testSecret)
}

func TestSecretString_JSONInStruct(t *testing.T) {
	payload := struct {
		Key SecretString `json:"key"`
	}{Key: SecretString(testSecret)}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"***REDACTED***"}`, string(data))
}

func TestSecretString_Unmask(t *testing.T) {
	assert.Equal(t, testSecret, SecretString(testSecret).Unmask())
	assert.True(t, SecretString("").IsZero())
	assert.False(t, SecretString(testSecret).IsZero())
}
