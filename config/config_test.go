package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/rootstrap/arch"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfileDefaults(t *testing.T) {
	t.Parallel()

	profile, err := LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile(), profile)
	assert.Equal(t, "http://deb.debian.org/debian", profile.Mirror)
	assert.True(t, profile.Shell)
}

func TestLoadProfileOverridesOnlyGivenKeys(t *testing.T) {
	t.Parallel()

	path := writeProfile(t, `
hostname: router
baud: 9600
components: [main, contrib]
shell: false
`)
	profile, err := LoadProfile(path)
	require.NoError(t, err)

	assert.Equal(t, "router", profile.Hostname)
	assert.Equal(t, 9600, profile.Baud)
	assert.Equal(t, []string{"main", "contrib"}, profile.Components)
	assert.False(t, profile.Shell)
	assert.Equal(t, DefaultMirror, profile.Mirror)
	assert.Equal(t, DefaultPackages, profile.Packages)
	assert.Equal(t, DefaultConsole, profile.Console)
}

func TestLoadProfileEmptyFile(t *testing.T) {
	t.Parallel()

	profile, err := LoadProfile(writeProfile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile(), profile)
}

func TestLoadProfileRejectsInvalidContent(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown key":    "hostnme: typo\n",
		"wrong type":     "baud: fast\n",
		"empty packages": "packages: []\n",
	}
	for name, content := range tests {
		_, err := LoadProfile(writeProfile(t, content))
		assert.Error(t, err, name)
	}

	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOptionsRequestTakesPrecedence(t *testing.T) {
	t.Parallel()

	profile := DefaultProfile()
	profile.Mirror = "http://profile.example/debian"

	opts := Options(profile, Request{
		Architecture:  arch.MIPS,
		Distribution:  "wheezy",
		Target:        "out.tar.bz2",
		Archive:       true,
		ExtraPackages: []string{"vim"},
		Mirror:        "http://cli.example/debian",
		NoShell:       true,
	})

	assert.Equal(t, "http://cli.example/debian", opts.Mirror)
	assert.False(t, opts.Shell)
	assert.Equal(t, []string{"vim"}, opts.ExtraPackages)
	assert.Equal(t, DefaultPackages, opts.Packages)
	require.NoError(t, opts.Validate())

	opts = Options(profile, Request{Architecture: arch.MIPS, Distribution: "wheezy", Target: "/srv/rootfs"})
	assert.Equal(t, "http://profile.example/debian", opts.Mirror)
	assert.True(t, opts.Shell)
}

func TestNewServiceIsComplete(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	assert.NotNil(t, service.Checker)
	assert.NotNil(t, service.EnvironmentPreparer)
	assert.NotNil(t, service.Driver)
	assert.NotNil(t, service.Configurator)
	assert.NotNil(t, service.Shell)
	assert.NotNil(t, service.Archiver)
}
