// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

const redactedValue = "<redacted>"

// RedactString replaces a stored secret with a placeholder for JSON output.
// Empty secrets stay empty so clients can distinguish "unset" from "set".
func RedactString(s string) string {
	if s == "" {
		return ""
	}
	return redactedValue
}

// IsRedactedString reports whether an incoming value is the redaction
// placeholder and must not overwrite the stored secret.
func IsRedactedString(s string) bool {
	return s == redactedValue
}
