package feederr

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	var xmlTarget struct{}
	xmlErr := xml.Unmarshal([]byte("<a>"), &xmlTarget)
	var jsonTarget map[string]any
	jsonErr := json.Unmarshal([]byte("{"), &jsonTarget)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: Unknown},
		{name: "classified", err: New(Conflict, "create folder", nil), want: Conflict},
		{name: "wrapped classified", err: fmt.Errorf("outer: %w", New(NotFound, "delete", nil)), want: NotFound},
		{name: "url error", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("dial")}, want: Network},
		{name: "xml syntax", err: xmlErr, want: Parse},
		{name: "json syntax", err: jsonErr, want: Parse},
		{name: "status 422", err: &StatusError{Code: http.StatusUnprocessableEntity}, want: Format},
		{name: "status 503", err: &StatusError{Code: http.StatusServiceUnavailable}, want: Network},
		{name: "plain", err: errors.New("boom"), want: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestFromStatus(t *testing.T) {
	err := FromStatus("rename folder", http.StatusConflict, "409 Conflict")
	assert.Equal(t, Conflict, err.Kind)
	assert.True(t, Is(err, Conflict))
	assert.True(t, strings.Contains(err.Error(), "rename folder"))

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap("op", nil))
}
