// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package utils holds small OS helpers shared by the commands.
package utils

import (
	"io"
	"os"
	"path/filepath"
)

// ReadFile reads file content for a given file location, following symlinks
// so mounted config files resolve to their real target.
func ReadFile(path string) ([]byte, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
