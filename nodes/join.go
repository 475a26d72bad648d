package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/orkacore/orka-go/core"
)

// Join is the barrier closing a fork group (type tag "join").
//
// Config:
//
//	group:   the fork node id whose group to wait for (required)
//	timeout: seconds to wait before JoinTimeout (default 60)
//
// The join blocks until every branch leaf of the matching group has an
// output in the run context, then merges them into a map from leaf id to
// result. With require_all (the fork's default) any failed leaf fails
// the join; otherwise failed or missing leaves carry an error marker and
// the join succeeds.
type Join struct {
	id      string
	group   string
	timeout time.Duration
}

// NewJoin parses the join's typed config.
func NewJoin(id string, cfg core.Config) (*Join, error) {
	group := cfg.GetString("group", "")
	if group == "" {
		return nil, fmt.Errorf("join %s: group is required", id)
	}
	return &Join{
		id:      id,
		group:   group,
		timeout: cfg.GetDuration("timeout", 60*time.Second),
	}, nil
}

// Group returns the referenced fork id, for validation.
func (j *Join) Group() string { return j.group }

// ID implements core.Agent.
func (j *Join) ID() string { return j.id }

// Describe implements core.Agent.
func (j *Join) Describe() core.AgentInfo {
	return core.AgentInfo{Type: "join", ControlFlow: true}
}

// Run implements core.Agent.
func (j *Join) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	group, ok := in.Dispatcher.ForkGroup(j.group)
	if !ok {
		return core.Failuref(core.KindJoinTimeout,
			"join %s: no open fork group for %q", j.id, j.group)
	}

	select {
	case <-group.Done:
	case <-time.After(j.timeout):
		return core.Failuref(core.KindJoinTimeout,
			"join %s: fork group %s incomplete after %v", j.id, group.GroupID, j.timeout)
	case <-ctx.Done():
		return core.Failure(core.Wrap(core.KindCancelled, "join", ctx.Err()))
	}

	merged := make(map[string]interface{}, len(group.Leaves))
	var failures []string
	for _, leaf := range group.Leaves {
		out, present := in.Dispatcher.Output(leaf)
		switch {
		case !present:
			failures = append(failures, leaf)
			merged[leaf] = map[string]interface{}{"error": "missing output"}
		case out.Status == core.StatusFailed:
			failures = append(failures, leaf)
			msg := "failed"
			if out.Error != nil {
				msg = out.Error.Message
			}
			merged[leaf] = map[string]interface{}{"error": msg}
		default:
			merged[leaf] = out.Result
		}
	}

	if len(failures) > 0 && group.RequireAll {
		return core.Failuref(core.KindAgentFailed,
			"join %s: branches failed: %v", j.id, failures)
	}
	in.Dispatcher.Emit("join_complete", j.id, map[string]interface{}{
		"fork_group": group.GroupID,
		"leaves":     len(group.Leaves),
		"failures":   len(failures),
	})
	return core.Success(merged)
}
