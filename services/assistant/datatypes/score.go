// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Score is a readability score. Most metrics are numeric; text_standard is a
// grade label such as "8th and 9th grade", so both forms decode.
type Score struct {
	Value float64
	Label string
}

// IsLabel reports whether the score was reported as text.
func (s Score) IsLabel() bool {
	return s.Label != ""
}

// String renders the score for display.
func (s Score) String() string {
	if s.IsLabel() {
		return s.Label
	}
	return strconv.FormatFloat(s.Value, 'f', -1, 64)
}

// MarshalJSON writes the label as a string and numbers as numbers.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.IsLabel() {
		return json.Marshal(s.Label)
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON accepts a number, a string, or null.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Score{}
		return nil
	}
	if data[0] == '"' {
		var label string
		if err := json.Unmarshal(data, &label); err != nil {
			return fmt.Errorf("decode score label: %w", err)
		}
		*s = Score{Label: label}
		return nil
	}
	var value float64
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode score value: %w", err)
	}
	*s = Score{Value: value}
	return nil
}
