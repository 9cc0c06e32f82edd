package targetconf

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// RollingDistributions carry no -updates suite and no security support.
var RollingDistributions = []string{"sid", "unstable", "experimental", "rc-buggy"}

// legacySecurity are the releases whose security suite is "<dist>/updates".
// Debian switched to "<dist>-security" with bullseye.
var legacySecurity = []string{
	"buzz", "rex", "bo", "hamm", "slink", "potato", "woody", "sarge",
	"etch", "lenny", "squeeze", "wheezy", "jessie", "stretch", "buster",
}

// Sources describes the APT source list of the target.
type Sources struct {
	Mirror         string
	SecurityMirror string
	Distribution   string
	Components     []string
}

// IsRolling reports whether dist is a rolling or unstable alias.
func IsRolling(dist string) bool {
	return slices.Contains(RollingDistributions, strings.ToLower(strings.TrimSpace(dist)))
}

// SecuritySuite returns the suite name on the security mirror for dist.
func SecuritySuite(dist string) string {
	if slices.Contains(legacySecurity, strings.ToLower(dist)) {
		return dist + "/updates"
	}
	return dist + "-security"
}

// Lines renders the sources.list entries, one per suite.
func (s Sources) Lines() ([]string, error) {
	mirror := strings.TrimSpace(s.Mirror)
	dist := strings.TrimSpace(s.Distribution)
	if mirror == "" {
		return nil, errors.New("mirror is required")
	}
	if dist == "" {
		return nil, errors.New("distribution is required")
	}
	components := strings.Join(s.Components, " ")
	if components == "" {
		components = "main"
	}

	lines := []string{fmt.Sprintf("deb %s %s %s", mirror, dist, components)}
	if IsRolling(dist) {
		return lines, nil
	}

	security := strings.TrimSpace(s.SecurityMirror)
	if security == "" {
		return nil, errors.New("security mirror is required")
	}
	lines = append(lines,
		fmt.Sprintf("deb %s %s-updates %s", mirror, dist, components),
		fmt.Sprintf("deb %s %s %s", security, SecuritySuite(dist), components),
	)
	return lines, nil
}
