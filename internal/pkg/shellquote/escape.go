// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package shellquote quotes argument vectors for the `sh -c` launch path
// spawnproc uses when a group's LOCAL parameter is "shell".
package shellquote

import "strings"

// ArgsQuoted concatenates a, double-quoting and escaping each element,
// suitable for splicing into a single `sh -c "..."` command line.
func ArgsQuoted(a []string) string {
	var b strings.Builder
	for i, val := range a {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		b.WriteString(Escape(val))
		b.WriteByte('"')
	}
	return b.String()
}

// Escape backslash-escapes double quotes, backticks and $ so val can sit
// safely inside a double-quoted shell word. It does not escape single
// quotes.
func Escape(val string) string {
	escaped := strings.ReplaceAll(val, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")
	escaped = strings.ReplaceAll(escaped, `$`, `\$`)
	return escaped
}
