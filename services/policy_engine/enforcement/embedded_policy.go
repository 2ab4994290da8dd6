// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package enforcement carries the classification rules compiled into the
// binary. Changing them requires a rebuild.
package enforcement

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
)

// DataClassificationPatterns is the raw data_classification_patterns.yaml.
//
//go:embed data_classification_patterns.yaml
var DataClassificationPatterns []byte

// PolicyHash identifies the compiled-in rule set. It is reported by
// /v1/config so operators can tell which rules a running server enforces.
func PolicyHash() string {
	sum := sha256.Sum256(DataClassificationPatterns)
	return hex.EncodeToString(sum[:])
}
