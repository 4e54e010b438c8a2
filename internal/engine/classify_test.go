package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{"auth beats network", "Unauthorized", "rtspsrc: 401 from server", ErrCategoryAuth},
		{"codec", "Internal data stream error.", "streaming stopped, reason not-negotiated (not negotiated)", ErrCategoryCodec},
		{"missing plugin", "Your GStreamer installation is missing a plug-in.", "missing plugin: h265", ErrCategoryCodec},
		{"network", "Could not open resource for reading and writing.", "Failed to connect. (Generic error)", ErrCategoryNetwork},
		{"timeout", "Timeout while waiting for server response", "", ErrCategoryNetwork},
		{"unknown", "Something odd happened", "", ErrCategoryUnknown},
		{"empty", "", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message, tt.debug))
		})
	}
}

func TestErrorCategory_String(t *testing.T) {
	names := make([]string, 0, len(Categories()))
	for _, c := range Categories() {
		names = append(names, c.String())
	}
	assert.Equal(t, []string{"network", "codec", "auth", "recording", "unknown"}, names)
	assert.Equal(t, "unknown", ErrorCategory(42).String())
}
