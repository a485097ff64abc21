// Package validation provides input validation for Contrapull.
package validation

import (
	"errors"
	"path"
	"strings"
)

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}

// NormalizeAddress lowercases an address so two casings of the same address
// share one identity (and one output directory)
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidateRelPath validates a relative file path taken from an untrusted
// source bundle before it is joined under an output directory
func ValidateRelPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("path cannot be empty")
	}
	if strings.Contains(p, "\\") {
		return errors.New("invalid path: backslashes are not allowed")
	}
	if path.IsAbs(p) {
		return errors.New("invalid path: must be relative")
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return errors.New("invalid path: escapes the output directory")
	}
	return nil
}
