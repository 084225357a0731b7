package connection

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"querydeck/internal/engine"
)

// Profile is a named connection target.
type Profile struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

type profilesFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML file of the form
//
//	profiles:
//	  local:
//	    driver: postgres
//	    dsn: postgres://localhost/app
//
// An empty path yields no profiles.
func LoadProfiles(path string) (map[string]Profile, error) {
	if path == "" {
		return map[string]Profile{}, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	out := make(map[string]Profile, len(f.Profiles))
	for name, p := range f.Profiles {
		driver, err := engine.NormalizeDriver(p.Driver)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		if strings.TrimSpace(p.DSN) == "" {
			return nil, fmt.Errorf("profile %q: dsn is required", name)
		}
		out[name] = Profile{Driver: driver, DSN: p.DSN}
	}
	return out, nil
}
