package validate

import (
	"fmt"
	"regexp"
)

// labelRe matches DNS-label-style names: 1-63 lowercase alphanumeric or
// hyphens, starting and ending with alphanumeric. This keeps workspace IDs
// and topic names safe for use in rendezvous namespaces, DNS-SD service
// types, and gossipsub topic strings.
var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// WorkspaceID checks that a workspace identifier is DNS-label safe.
func WorkspaceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidWorkspaceID)
	}
	if !labelRe.MatchString(id) {
		return fmt.Errorf("%w: %q must be 1-63 lowercase alphanumeric characters or hyphens, starting and ending with alphanumeric", ErrInvalidWorkspaceID, id)
	}
	return nil
}

// Topic checks that a gossip topic name is DNS-label safe.
func Topic(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidTopic)
	}
	if !labelRe.MatchString(name) {
		return fmt.Errorf("%w: %q must be 1-63 lowercase alphanumeric characters or hyphens, starting and ending with alphanumeric", ErrInvalidTopic, name)
	}
	return nil
}
