package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds the settings that may be overridden from a YAML file.
type Profile struct {
	Mirror         string   `yaml:"mirror"`
	SecurityMirror string   `yaml:"security_mirror"`
	Components     []string `yaml:"components"`
	Packages       []string `yaml:"packages"`
	Hostname       string   `yaml:"hostname"`
	Interface      string   `yaml:"interface"`
	Console        string   `yaml:"console"`
	Baud           int      `yaml:"baud"`
	Shell          bool     `yaml:"shell"`
}

// DefaultProfile returns the built-in settings.
func DefaultProfile() Profile {
	return Profile{
		Mirror:         DefaultMirror,
		SecurityMirror: DefaultSecurityMirror,
		Components:     append([]string(nil), DefaultComponents...),
		Packages:       append([]string(nil), DefaultPackages...),
		Hostname:       DefaultHostname,
		Interface:      DefaultInterface,
		Console:        DefaultConsole,
		Baud:           DefaultBaud,
		Shell:          true,
	}
}

// LoadProfile reads path on top of the defaults. An empty path yields the defaults.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("read profile: %w", err)
	}
	if err := decodeProfile(data, &profile); err != nil {
		return profile, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return profile, nil
}

func decodeProfile(data []byte, profile *Profile) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(profile); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if len(profile.Packages) == 0 {
		return errors.New("packages must not be empty")
	}
	if len(profile.Components) == 0 {
		return errors.New("components must not be empty")
	}
	return nil
}
