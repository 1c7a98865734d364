package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadGenesis reads, normalises and validates the genesis file at path.
func LoadGenesis(path string) (*Genesis, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path must be provided")
	}
	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis %q: unknown field %s", path, undecoded[0].String())
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis %q: %w", path, err)
	}
	return g, nil
}

// SaveGenesis writes g to path as TOML, creating the parent directory.
func SaveGenesis(path string, g *Genesis) error {
	return persist(path, g)
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}
