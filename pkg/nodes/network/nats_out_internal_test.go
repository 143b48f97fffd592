package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"string is sent raw", "hello", "hello"},
		{"buffer is sent raw", []byte{0x01, 0x02}, "\x01\x02"},
		{"number as json", float64(42), "42"},
		{"object as json", map[string]any{"a": true}, `{"a":true}`},
		{"nil as json", nil, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodePayload(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestEncodePayloadRejectsUnencodable(t *testing.T) {
	_, err := encodePayload(make(chan int))
	require.Error(t, err)
}
