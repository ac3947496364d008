// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import "strings"

// EmbedPlaceholder stands in for a non-text insert (image, formula). Rich
// editors give embeds a length of one, so the placeholder keeps offsets
// aligned with the editor's own positions.
const EmbedPlaceholder = '\uFFFC'

// Op is one operation of a structured document: an insert of text or of an
// embed, with optional formatting attributes.
type Op struct {
	// Insert is a string for text, or any other JSON value for an embed.
	Insert     any            `json:"insert"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Delta is the structured representation of a rich-text document.
type Delta struct {
	Ops []Op `json:"ops"`
}

// Snapshot extracts the plain text of a structured document.
//
// Text inserts are concatenated in order. Each embed contributes a single
// EmbedPlaceholder. Formatting attributes are ignored.
func Snapshot(d Delta) string {
	var b strings.Builder
	for _, op := range d.Ops {
		switch insert := op.Insert.(type) {
		case string:
			b.WriteString(insert)
		case nil:
		default:
			b.WriteRune(EmbedPlaceholder)
		}
	}
	return b.String()
}
