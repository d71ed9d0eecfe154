package validate

import "errors"

var (
	// ErrInvalidWorkspaceID is returned when a workspace ID does not match
	// the DNS-label format (1-63 lowercase alphanumeric + hyphens).
	ErrInvalidWorkspaceID = errors.New("invalid workspace id")

	// ErrInvalidTopic is returned when a gossip topic name does not match
	// the DNS-label format (1-63 lowercase alphanumeric + hyphens).
	ErrInvalidTopic = errors.New("invalid topic")
)
