package gm

import (
	"fmt"

	"github.com/ShayCichocki/maestro/internal/exec"
	"github.com/ShayCichocki/maestro/internal/hub"
	"github.com/ShayCichocki/maestro/internal/state"
	"github.com/ShayCichocki/maestro/pkg/models"
)

const (
	// maxRepairCycles caps the automatic fix attempts per phase.
	maxRepairCycles = 3
	// outputTailBytes bounds the captured command output.
	outputTailBytes = 4096
)

type commandPhase int

const (
	phaseBuild commandPhase = iota
	phaseTest
)

func (c commandPhase) name() string {
	if c == phaseBuild {
		return "build"
	}
	return "test"
}

// runCommandPhase runs the build or test command, looping through the
// decision gate and a repair agent on failure. A rejected decision or
// exhausted repair budget fails the pipeline.
func (p *pipeline) runCommandPhase(kind commandPhase) error {
	command := p.req.BuildCommand
	if kind == phaseTest {
		command = p.req.TestCommand
	}

	attempt := 0
	for {
		if p.cancelled() {
			return p.ctx.Err()
		}
		attempt++
		p.recordAttempt(kind, attempt)
		p.publishStarted(kind)

		out, err := p.m.shell.RunShell(p.ctx, p.req.RepoPath, command)
		tail := exec.Tail(out, outputTailBytes)
		success := err == nil && !p.cancelled()
		p.dbg.Log("project %s: %s attempt %d success=%v", p.projectID, kind.name(), attempt, success)
		p.publishResult(kind, success, tail)

		if success {
			return nil
		}
		if p.cancelled() {
			return p.ctx.Err()
		}
		if attempt > maxRepairCycles {
			return fmt.Errorf("%s failed after %d attempts", kind.name(), attempt)
		}

		decisionKind := state.DecisionBuildFailure
		if kind == phaseTest {
			decisionKind = state.DecisionTestFailure
		}
		status, derr := p.m.gate.Request(p.ctx, &state.Decision{
			DecisionID:     models.NewID(),
			ProjectID:      p.projectID,
			Kind:           decisionKind,
			Description:    fmt.Sprintf("%s command failed (attempt %d)", kind.name(), attempt),
			ProposedAction: fmt.Sprintf("run a repair agent to make the %s pass", kind.name()),
			Context:        tail,
		})
		if derr != nil {
			return derr
		}
		if status != state.DecisionApproved {
			return fmt.Errorf("%s failed, fix rejected", kind.name())
		}

		p.publishFixAttempt(kind, attempt)
		prompt := repairPrompt(kind.name(), command, tail)
		if _, err := p.m.backend.RunOnce(p.ctx, p.req.RepoPath, prompt, repairTimeout); err != nil {
			p.log("error", fmt.Sprintf("%s repair agent: %v", kind.name(), err))
		}
	}
}

func (p *pipeline) recordAttempt(kind commandPhase, attempt int) {
	progress := state.GMProgress{}
	if kind == phaseBuild {
		progress.BuildAttempts = &attempt
	} else {
		progress.TestAttempts = &attempt
	}
	p.m.store.UpdateGMProjectProgress(p.projectID, progress)
}

func (p *pipeline) publishStarted(kind commandPhase) {
	if kind == phaseBuild {
		p.m.events.Publish(hub.ChannelGM, hub.BuildStarted{ProjectID: p.projectID})
	} else {
		p.m.events.Publish(hub.ChannelGM, hub.TestStarted{ProjectID: p.projectID})
	}
}

func (p *pipeline) publishResult(kind commandPhase, success bool, tail string) {
	if kind == phaseBuild {
		p.m.events.Publish(hub.ChannelGM, hub.BuildResult{
			ProjectID:  p.projectID,
			Success:    success,
			OutputTail: tail,
		})
	} else {
		p.m.events.Publish(hub.ChannelGM, hub.TestResult{
			ProjectID:  p.projectID,
			Success:    success,
			OutputTail: tail,
		})
	}
}

func (p *pipeline) publishFixAttempt(kind commandPhase, attempt int) {
	if kind == phaseBuild {
		p.m.events.Publish(hub.ChannelGM, hub.BuildFixAttempt{ProjectID: p.projectID, Attempt: attempt})
	} else {
		p.m.events.Publish(hub.ChannelGM, hub.TestFixAttempt{ProjectID: p.projectID, Attempt: attempt})
	}
}

func repairPrompt(kind, command, tail string) string {
	return fmt.Sprintf(
		"The %s command `%s` is failing. Recent output:\n\n%s\n\n"+
			"Fix the code so the command succeeds, then commit your changes.",
		kind, command, tail)
}
