package domain

import "unicode"

const (
	// MaxDeviceNameLen is the longest accepted device name.
	MaxDeviceNameLen = 64
	// MaxSignTaskNameLen is the longest accepted sign/decrypt request name.
	MaxSignTaskNameLen = 256
	// MaxTaskDataLen bounds the payload size of a sign/decrypt request.
	MaxTaskDataLen = 8 * 1024 * 1024
)

// isASCIIPunctOrSymbol reports whether r is one of the ASCII printable,
// non-alphanumeric characters (the four contiguous ranges between '!' and
// '~'). unicode.IsPunct alone misses characters like + = < > | ~ $ ^ `,
// which Unicode classifies as symbols rather than punctuation.
func isASCIIPunctOrSymbol(r rune) bool {
	return (r >= 0x21 && r <= 0x2F) ||
		(r >= 0x3A && r <= 0x40) ||
		(r >= 0x5B && r <= 0x60) ||
		(r >= 0x7B && r <= 0x7E)
}

// ValidDeviceName enforces the device-name boundary rule: at most
// MaxDeviceNameLen runes, no ASCII punctuation, no control characters.
func ValidDeviceName(name string) bool {
	if name == "" || len([]rune(name)) > MaxDeviceNameLen {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
		if isASCIIPunctOrSymbol(r) {
			return false
		}
	}
	return true
}

// ValidTaskName enforces the sign/decrypt request-name boundary rule.
func ValidTaskName(name string) bool {
	if name == "" || len([]rune(name)) > MaxSignTaskNameLen {
		return false
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// ValidTaskData enforces the 8 MiB payload cap.
func ValidTaskData(data []byte) bool {
	return len(data) > 0 && len(data) <= MaxTaskDataLen
}

// ValidIdentifier rejects the empty identifier, the one value disallowed
// for both Device and Group identifiers.
func ValidIdentifier(id []byte) bool {
	return len(id) > 0
}

// ValidThreshold enforces 1 <= threshold <= numDevices.
func ValidThreshold(threshold, numDevices int) bool {
	return threshold >= 1 && threshold <= numDevices
}
