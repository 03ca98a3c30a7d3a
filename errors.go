package qlink

import "errors"

// Link error taxonomy. Every one of these is recovered at the connection
// boundary; none of them stops the process.
var (
	ErrMalformed      = errors.New("malformed frame")
	ErrBadPayload     = errors.New("bad payload encoding")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrTeleportFailed = errors.New("teleportation failed")
	ErrLinkLost       = errors.New("link lost")
)

// ErrServerRunning is returned by Server.Run while another Run is active.
var ErrServerRunning = errors.New("link server already running")
