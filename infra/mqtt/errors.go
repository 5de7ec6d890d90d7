package mqtt

import "errors"

var (
	errMissingAgent  = errors.New("telemetry has no agent id")
	errAgentMismatch = errors.New("telemetry agent id does not match topic")
)
