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
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageBytes is the largest text accepted in a single request.
	MaxMessageBytes = 256 * 1024
)

// ErrMalformedResponse is returned when a payload is missing expected fields
// or carries values outside their documented range.
var ErrMalformedResponse = errors.New("malformed analysis payload")

// ErrInvalidRequest is returned when an outgoing or incoming request fails
// validation.
var ErrInvalidRequest = errors.New("invalid analysis request")

// =============================================================================
// Shared Validator Instance
// =============================================================================

// analysisValidate is the validator instance for analysis datatypes.
var analysisValidate *validator.Validate

func init() {
	analysisValidate = validator.New()
	_ = analysisValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

// =============================================================================
// Validation Entry Points
// =============================================================================

// ValidateRequest checks an analysis request before it is sent or served.
func ValidateRequest(req *AnalysisRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := analysisValidate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// ValidateResponse checks that a response carries statistics and that every
// issue has a rule, a non-negative offset and a positive length.
//
// It does not check issue bounds against any text; that is the offset index's
// job because only it knows the live text length.
func ValidateResponse(resp *AnalysisResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrMalformedResponse)
	}
	if err := analysisValidate.Struct(resp); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ValidateHello checks a hello payload.
func ValidateHello(h *Hello) error {
	if h == nil {
		return fmt.Errorf("%w: nil hello", ErrMalformedResponse)
	}
	if err := analysisValidate.Struct(h); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
