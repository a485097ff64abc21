// Package addrfile loads contract address lists from files.
package addrfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contrapull/internal/validation"
)

// Load reads an address list from path. The format is chosen by
// extension: .json expects a JSON array of strings, .yaml/.yml a YAML
// list, anything else one address per line with #-comments. Addresses
// are normalized, validated, and deduplicated preserving order.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var addrs []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &addrs)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &addrs)
	default:
		addrs = parseLines(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cleaned, err := clean(addrs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("no addresses in %s", path)
	}
	return cleaned, nil
}

func parseLines(data []byte) []string {
	var addrs []string
	for _, line := range strings.Split(string(data), "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		addrs = append(addrs, line)
	}
	return addrs
}

func clean(addrs []string) ([]string, error) {
	seen := make(map[string]bool, len(addrs))
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		norm := validation.NormalizeAddress(addr)
		if norm == "" {
			continue
		}
		if err := validation.ValidateAddress(norm); err != nil {
			return nil, fmt.Errorf("address %q: %w", addr, err)
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true
		result = append(result, norm)
	}
	return result, nil
}
