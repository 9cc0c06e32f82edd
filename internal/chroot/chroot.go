// Package chroot builds commands that execute inside a target root filesystem
// with a fixed, prompt-free environment.
package chroot

import (
	"os"
	"path/filepath"

	"github.com/cochaviz/rootstrap/internal/command"
)

// SearchPath is the PATH seen by every program run inside the target.
const SearchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Env returns the environment for commands inside the target. Non-interactive
// commands additionally get the debconf variables that suppress prompts.
func Env(interactive bool) []string {
	env := []string{
		"PATH=" + SearchPath,
		"LC_ALL=C",
		"LANGUAGE=C",
		"LANG=C",
		"HOME=/root",
	}
	if interactive {
		if term := os.Getenv("TERM"); term != "" {
			env = append(env, "TERM="+term)
		}
		return env
	}
	return append(env,
		"DEBIAN_FRONTEND=noninteractive",
		"DEBCONF_NONINTERACTIVE_SEEN=true",
	)
}

// Command returns a non-interactive command executed inside root.
func Command(root, path string, args ...string) command.Command {
	return command.Command{
		Path: path,
		Args: args,
		Env:  Env(false),
		Root: root,
	}
}

// Interactive returns a command executed inside root attached to the operator's terminal.
func Interactive(root, path string, args ...string) command.Command {
	return command.Command{
		Path:        path,
		Args:        args,
		Env:         Env(true),
		Root:        root,
		Interactive: true,
	}
}

// Shell returns the best interactive shell available inside root.
func Shell(root string) string {
	for _, candidate := range []string{"/bin/bash", "/bin/sh"} {
		if info, err := os.Stat(filepath.Join(root, candidate)); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return "/bin/sh"
}
