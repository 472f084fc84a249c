package gate

import (
	"encoding/json"
	"io"
)

// Decision actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Decision is the binary gate verdict for one action.
type Decision struct {
	Action string
	Reason string
}

// denyPrefix is the fixed lead-in of every deny reason. The stderr tail
// of the failed run follows it.
const denyPrefix = "Action blocked: `make test` failed. Please fix tests before proceeding.\n\nStderr:\n"

// Decide converts a test outcome into the gate decision. Deny happens
// if and only if the tests ran to completion with a non-zero exit code.
// Skipped and error outcomes allow the action: failing to run tests is
// not the same signal as tests failing.
func Decide(o *Outcome) Decision {
	if o == nil || o.Status != StatusCompleted || o.ExitCode == 0 {
		return Decision{Action: ActionAllow}
	}

	stderr := o.Stderr
	if stderr == "" {
		stderr = "(no stderr)"
	}
	return Decision{
		Action: ActionDeny,
		Reason: denyPrefix + stderr,
	}
}

// Response is the deny document the hook prints to stdout. Allow emits
// nothing — silent success signals permission granted to the caller.
type Response struct {
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason"`
}

// WriteDeny emits the deny response as a single JSON line on w.
func WriteDeny(w io.Writer, reason string) error {
	return json.NewEncoder(w).Encode(Response{
		PermissionDecision:       "denied",
		PermissionDecisionReason: reason,
	})
}
