// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UsernamePlaceholder in a protected path is replaced by the invoking user's
// name when the policy is loaded, so one policy can be shared between users.
const UsernamePlaceholder = "USERNAME"

// Parse decodes a YAML policy document. Unknown keys are rejected so typos do
// not silently weaken a policy.
func Parse(r io.Reader) (*Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return &def, nil
		}
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &def, nil
}

// ExpandUsername replaces every UsernamePlaceholder in the protected paths.
func (d *Definition) ExpandUsername(username string) {
	if username == "" {
		return
	}
	for i, path := range d.ProtectedFiles {
		d.ProtectedFiles[i] = strings.ReplaceAll(path, UsernamePlaceholder, username)
	}
}

// Load reads, expands and validates the policy file at path.
func Load(path, username string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	def, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	def.Source = path
	def.ExpandUsername(username)

	return New(*def)
}
