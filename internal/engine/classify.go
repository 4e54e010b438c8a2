package engine

import "strings"

// ErrorCategory represents the classification of engine errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryRecording indicates failures in the file branch (mux, write)
	ErrCategoryRecording
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Categories lists every category, in label order for metrics.
func Categories() []ErrorCategory {
	return []ErrorCategory{
		ErrCategoryNetwork,
		ErrCategoryCodec,
		ErrCategoryAuth,
		ErrCategoryRecording,
		ErrCategoryUnknown,
	}
}

var (
	authKeywords = []string{
		"unauthorized",
		"401",
		"403",
		"forbidden",
		"authentication",
		"credentials",
		"password",
		"username",
	}

	codecKeywords = []string{
		"codec",
		"decode",
		"encode",
		"format",
		"negotiation",
		"caps",
		"h264",
		"h265",
		"mjpeg",
		"jpeg",
		"not negotiated",
		"no decoder",
		"missing plugin",
	}

	networkKeywords = []string{
		"connection",
		"timeout",
		"timed out",
		"unreachable",
		"network",
		"dns",
		"resolve",
		"socket",
		"tcp",
		"udp",
		"rtsp",
		"not found",
		"could not connect",
		"failed to connect",
		"could not open resource",
	}
)

// Classify categorizes an engine error from its message and debug detail.
//
// Auth is checked first (most specific), then codec, then network. Recording
// is never inferred from text; engines attribute it by source element.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message) + " " + strings.ToLower(debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
