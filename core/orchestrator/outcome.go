package orchestrator

import (
	"release-orchestrator/core/errs"
	"release-orchestrator/core/models"
)

// Summary groups platforms by terminal status
type Summary struct {
	Succeeded      []models.PlatformID `json:"succeeded"`
	Failed         []models.PlatformID `json:"failed"`
	Skipped        []models.PlatformID `json:"skipped"`
	NotImplemented []models.PlatformID `json:"not_implemented"`
}

// Summarize groups results by status, keeping input order
func Summarize(results []models.JobResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case models.JobStatusSucceeded:
			s.Succeeded = append(s.Succeeded, r.PlatformID)
		case models.JobStatusFailed:
			s.Failed = append(s.Failed, r.PlatformID)
		case models.JobStatusSkipped:
			s.Skipped = append(s.Skipped, r.PlatformID)
		case models.JobStatusNotImplemented:
			s.NotImplemented = append(s.NotImplemented, r.PlatformID)
		}
	}
	return s
}

// Outcome is the overall verdict of a run
type Outcome struct {
	Status   models.RunStatus
	Summary  Summary
	Failures []errs.PlatformFailure
}

// Succeeded reports whether the run released
func (o Outcome) Succeeded() bool {
	return o.Status == models.RunStatusReleased
}

// Decide computes the run outcome: released only when at least one platform
// succeeded and the manifest was published (publishErr == nil).
func Decide(results []models.JobResult, publishErr error) Outcome {
	out := Outcome{Summary: Summarize(results), Failures: Failures(results)}
	if len(out.Summary.Succeeded) > 0 && publishErr == nil {
		out.Status = models.RunStatusReleased
	} else {
		out.Status = models.RunStatusFailed
	}
	return out
}

// Failures lists every platform that did not succeed, with its cause
func Failures(results []models.JobResult) []errs.PlatformFailure {
	var out []errs.PlatformFailure
	for _, r := range results {
		if r.Succeeded() {
			continue
		}
		f := errs.PlatformFailure{Platform: string(r.PlatformID), Status: string(r.Status)}
		if r.Error != nil {
			f.Stage = string(r.Error.Stage)
			f.Code = errs.ErrorCode(r.Error.Code)
			f.Message = r.Error.Message
		}
		out = append(out, f)
	}
	return out
}
