package overclock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultProfileDir holds user-authored custom profiles.
const DefaultProfileDir = "/etc/overkill/profiles"

var profileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,29}$`)

// reservedNames collide with the built-in ladder or internal snapshots
var reservedNames = map[string]bool{
	"stock": true, "mild": true, "moderate": true,
	"aggressive": true, "extreme": true, "original": true,
}

// Store persists custom overclock profiles as JSON files in a directory
type Store struct {
	Dir string
}

// NewStore creates a profile store, creating the directory if needed
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultProfileDir
	}
	os.MkdirAll(dir, 0755)
	return &Store{Dir: dir}
}

// ValidateName checks a profile name against the slug rule and the reserved
// built-in names
func ValidateName(name string) error {
	if !profileNamePattern.MatchString(name) {
		return fmt.Errorf("profile name must start with a letter/number and contain only letters, numbers, dash, underscore")
	}
	if reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("profile name %q is reserved", name)
	}
	return nil
}

// Save validates and writes a custom profile
func (s *Store) Save(p Profile) error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if ok, message := Validate(p); !ok {
		return fmt.Errorf("invalid profile: %s", message)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	path := filepath.Join(s.Dir, p.Name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save profile %q: %w", p.Name, err)
	}
	return nil
}

// Load reads one custom profile by name
func (s *Store) Load(name string) (Profile, error) {
	var p Profile
	if err := ValidateName(name); err != nil {
		return p, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, name+".json"))
	if err != nil {
		return p, fmt.Errorf("read profile %q: %w", name, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile %q: %w", name, err)
	}
	return p, nil
}

// List returns all saved custom profiles. Unreadable or malformed entries
// are skipped.
func (s *Store) List() []Profile {
	var profiles []Profile

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return profiles
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			continue
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// Delete removes a custom profile
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.Dir, name+".json")); err != nil {
		return fmt.Errorf("delete profile %q: %w", name, err)
	}
	return nil
}
