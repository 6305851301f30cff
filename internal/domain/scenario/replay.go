package scenario

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/diag"
	"github.com/NicolasMoreauCPage/MedDataBridge/internal/platform/hl7v2"
)

// ReplayOptions steer one run.
type ReplayOptions struct {
	MaterializeOptions
	EndpointID  *uuid.UUID
	DryRun      bool
	StopOnError bool
}

// Replay materializes a template and drives it through the transport,
// step by step on the scheduled timeline. A cancelled context marks the
// remaining steps skipped; the final run status aggregates the steps.
func (s *Service) Replay(ctx context.Context, key string, opts ReplayOptions) (*Run, error) {
	tmpl, err := s.repo.FindTemplateByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, diag.New(diag.TemplateNotFound, "template %q does not exist", key)
	}
	if opts.Timeplan == (Timeplan{}) && tmpl.TimeConfig != nil {
		opts.Timeplan = *tmpl.TimeConfig
	}

	mat, err := s.Materialize(ctx, tmpl, opts.MaterializeOptions)
	if err != nil {
		return nil, err
	}

	run := &Run{
		TemplateKey: key,
		EndpointID:  opts.EndpointID,
		Status:      RunRunning,
		DryRun:      opts.DryRun,
		StopOnError: opts.StopOnError,
		IPP:         mat.IPP.Value,
		NDA:         mat.NDA.Value,
		VN:          mat.VN.Value,
		StartedAt:   s.now(),
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	for _, ms := range mat.Steps {
		rs := &RunStep{
			RunID:       run.ID,
			Sequence:    ms.Sequence,
			Trigger:     ms.Trigger,
			ControlID:   ms.ControlID,
			ScheduledAt: ms.ScheduledAt,
			Status:      StepPending,
		}
		if err := s.repo.AddRunStep(ctx, rs); err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, rs)
	}

	cancelled := false
	aborted := false
	for i, ms := range mat.Steps {
		rs := run.Steps[i]

		if cancelled || aborted {
			rs.Status = StepSkipped
			if cancelled {
				rs.ErrorKind = string(diag.RunCancelled)
			}
			s.updateStep(ctx, rs)
			continue
		}

		if err := s.waitUntil(ctx, ms.ScheduledAt); err != nil {
			cancelled = true
			rs.Status = StepSkipped
			rs.ErrorKind = string(diag.RunCancelled)
			s.updateStep(ctx, rs)
			continue
		}

		s.runStep(ctx, rs, ms.Raw, tmpl.Protocol, opts)
		if rs.Status == StepError && opts.StopOnError {
			aborted = true
		}
	}

	run.Status = finalStatus(run.Steps, cancelled)
	done := s.now()
	run.FinishedAt = &done
	if err := s.repo.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID.String()).
		Str("template", key).
		Str("status", string(run.Status)).
		Bool("dry_run", run.DryRun).
		Msg("replay finished")
	return run, nil
}

// Cancel moves a still-pending run to cancelled. Running steps finish;
// the replay loop observes the context, not this flag.
func (s *Service) Cancel(ctx context.Context, runID uuid.UUID) error {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != RunPending && run.Status != RunRunning {
		return diag.New(diag.RunCancelled, "run %s already finished as %s", runID, run.Status)
	}
	run.Status = RunCancelled
	done := s.now()
	run.FinishedAt = &done
	return s.repo.UpdateRun(ctx, run)
}

func (s *Service) runStep(ctx context.Context, rs *RunStep, raw []byte, protocol string, opts ReplayOptions) {
	sent := s.now()
	rs.SentAt = &sent

	if opts.DryRun {
		rs.Status = StepSuccess
		rs.Message = "dry-run, not transmitted"
		s.updateStep(ctx, rs)
		return
	}

	resp, err := s.transmit.Transmit(ctx, opts.EndpointID, raw)
	if err != nil {
		rs.Status = StepError
		rs.ErrorKind = string(errKind(err))
		rs.Message = err.Error()
		s.updateStep(ctx, rs)
		return
	}

	if protocol == ProtocolHL7 {
		s.classifyACK(rs, resp)
	} else {
		rs.Status = StepSuccess
	}
	s.updateStep(ctx, rs)
}

// classifyACK reads MSA-1 of the peer's answer.
func (s *Service) classifyACK(rs *RunStep, raw []byte) {
	ack, err := hl7v2.Parse(raw)
	if err != nil {
		rs.Status = StepError
		rs.ErrorKind = string(diag.ACKError)
		rs.Message = "unparsable ACK"
		return
	}
	msa := ack.GetSegment("MSA")
	code := ""
	if msa != nil {
		code = msa.GetField(1)
	}
	switch code {
	case hl7v2.ACKAccept:
		rs.Status = StepSuccess
	case hl7v2.ACKReject:
		rs.Status = StepError
		rs.ErrorKind = string(diag.ACKRejected)
		rs.Message = "peer rejected with AR"
	default:
		rs.Status = StepError
		rs.ErrorKind = string(diag.ACKError)
		rs.Message = "peer answered " + code
	}
}

func (s *Service) updateStep(ctx context.Context, rs *RunStep) {
	if err := s.repo.UpdateRunStep(ctx, rs); err != nil {
		s.log.Error().Err(err).
			Str("run_id", rs.RunID.String()).
			Int("sequence", rs.Sequence).
			Msg("run step update failed")
	}
}

func (s *Service) waitUntil(ctx context.Context, at time.Time) error {
	return s.sleep(ctx, at.Sub(s.now()))
}

func errKind(err error) diag.Code {
	if code := diag.CodeOf(err); code != "" {
		return code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return diag.ReadTimeout
	}
	return diag.Internal
}

// finalStatus aggregates: success when every step succeeded, error when
// none did, partial otherwise. A cancelled run stays cancelled.
func finalStatus(steps []*RunStep, cancelled bool) RunStatus {
	if cancelled {
		return RunCancelled
	}
	success, failures := 0, 0
	for _, rs := range steps {
		switch rs.Status {
		case StepSuccess:
			success++
		default:
			failures++
		}
	}
	switch {
	case failures == 0:
		return RunSuccess
	case success == 0:
		return RunError
	default:
		return RunPartial
	}
}
