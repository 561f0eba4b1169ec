// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

// requireFields checks name/value pairs and fails on the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if govalidator.IsNull(strings.TrimSpace(pairs[i+1])) {
			return fmt.Errorf("%w: %s", ErrMissingField, pairs[i])
		}
	}
	return nil
}

// requirePositive fails when a numeric field is zero or negative.
func requirePositive(name string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrMissingField, name)
	}
	return nil
}
