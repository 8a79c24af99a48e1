package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Source  string `json:"source" validate:"required"`
	Port    string `json:"port" validate:"oneof=text|private"`
	Text    string `json:"text" validate:"max=8"`
	Payload []byte `json:"payload" validate:"max=4"`
	Note    string
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		msg     message
		wantErr string
	}{
		{"valid", message{Source: "!0000abcd", Port: "text", Text: "hello"}, ""},
		{"port optional", message{Source: "!0000abcd"}, ""},
		{"missing source", message{Port: "text"}, "source: field is required"},
		{"bad port", message{Source: "a", Port: "telemetry"}, "port: must be one of text, private"},
		{"text too long", message{Source: "a", Text: "far too long"}, "text: maximum length is 8"},
		{"payload too long", message{Source: "a", Payload: []byte{1, 2, 3, 4, 5}}, "payload: maximum length is 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.msg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_NotStruct(t *testing.T) {
	assert.Error(t, NewValidator().Validate("text"))
}
