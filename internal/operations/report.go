package operations

import (
	"encoding/json"
	"time"
)

// RunStatus is the outcome of a pipeline run
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StageStatus is the outcome of a single stage
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageReport records one stage of a run
type StageReport struct {
	Name      string
	Operation string
	Status    StageStatus
	Inputs    Params
	Result    Result
	Error     *StageError
	Reason    string
	Attempts  int
	StartedAt time.Time
	Elapsed   time.Duration
}

type stageReportJSON struct {
	Name      string      `json:"name"`
	Operation string      `json:"operation"`
	Status    StageStatus `json:"status"`
	Inputs    Params      `json:"inputs,omitempty"`
	Result    Result      `json:"result,omitempty"`
	Error     *StageError `json:"error,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	ElapsedMS int64       `json:"elapsed_ms"`
}

// MarshalJSON renders elapsed time in milliseconds
func (s StageReport) MarshalJSON() ([]byte, error) {
	out := stageReportJSON{
		Name:      s.Name,
		Operation: s.Operation,
		Status:    s.Status,
		Inputs:    s.Inputs,
		Result:    s.Result,
		Error:     s.Error,
		Reason:    s.Reason,
		Attempts:  s.Attempts,
		ElapsedMS: s.Elapsed.Milliseconds(),
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		out.StartedAt = &started
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a stage entry from its serialized form
func (s *StageReport) UnmarshalJSON(data []byte) error {
	var in stageReportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = StageReport{
		Name:      in.Name,
		Operation: in.Operation,
		Status:    in.Status,
		Inputs:    in.Inputs,
		Result:    in.Result,
		Error:     in.Error,
		Reason:    in.Reason,
		Attempts:  in.Attempts,
		Elapsed:   time.Duration(in.ElapsedMS) * time.Millisecond,
	}
	if in.StartedAt != nil {
		s.StartedAt = *in.StartedAt
	}
	return nil
}

// RunReport is the outcome of one execution. The executor seals it before
// returning; a sealed report is never modified and may be read concurrently.
type RunReport struct {
	ID         string
	Target     string
	Pipeline   string
	Policy     FailurePolicy
	Status     RunStatus
	Error      *StageError
	Stages     []StageReport
	StartedAt  time.Time
	FinishedAt time.Time

	sealed bool
}

type runReportJSON struct {
	ID         string        `json:"id"`
	Target     string        `json:"target,omitempty"`
	Pipeline   string        `json:"pipeline,omitempty"`
	Policy     FailurePolicy `json:"policy,omitempty"`
	Status     RunStatus     `json:"status"`
	Error      *StageError   `json:"error,omitempty"`
	Stages     []StageReport `json:"stages"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	ElapsedMS  int64         `json:"elapsed_ms"`
}

func newRunReport(id, target string, def *Definition, started time.Time) *RunReport {
	return &RunReport{
		ID:        id,
		Target:    target,
		Pipeline:  def.Name(),
		Policy:    def.Policy(),
		Stages:    make([]StageReport, 0, def.Len()),
		StartedAt: started,
	}
}

// MarshalJSON renders the report as {status, stages: [...]} plus run metadata
func (r *RunReport) MarshalJSON() ([]byte, error) {
	stages := r.Stages
	if stages == nil {
		stages = []StageReport{}
	}
	return json.Marshal(runReportJSON{
		ID:         r.ID,
		Target:     r.Target,
		Pipeline:   r.Pipeline,
		Policy:     r.Policy,
		Status:     r.Status,
		Error:      r.Error,
		Stages:     stages,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		ElapsedMS:  r.Elapsed().Milliseconds(),
	})
}

// UnmarshalJSON restores a report. Decoded reports are sealed.
func (r *RunReport) UnmarshalJSON(data []byte) error {
	var in runReportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = RunReport{
		ID:         in.ID,
		Target:     in.Target,
		Pipeline:   in.Pipeline,
		Policy:     in.Policy,
		Status:     in.Status,
		Error:      in.Error,
		Stages:     in.Stages,
		StartedAt:  in.StartedAt,
		FinishedAt: in.FinishedAt,
		sealed:     true,
	}
	return nil
}

// Sealed reports whether the run has finished
func (r *RunReport) Sealed() bool { return r.sealed }

// Elapsed returns the wall time of the run
func (r *RunReport) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Stage returns a copy of the named stage entry
func (r *RunReport) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s.clone(), true
		}
	}
	return StageReport{}, false
}

// Failure returns the error that ended an unsuccessful run: the run-level
// error when there is one, else the first failed stage's error
func (r *RunReport) Failure() *StageError {
	if r.Error != nil {
		return r.Error
	}
	if r.Status == RunSucceeded {
		return nil
	}
	for _, s := range r.Stages {
		if s.Status == StageFailed && s.Error != nil {
			return s.Error
		}
	}
	return nil
}

// Counts returns the number of stages per status
func (r *RunReport) Counts() map[StageStatus]int {
	counts := make(map[StageStatus]int, 3)
	for _, s := range r.Stages {
		counts[s.Status]++
	}
	return counts
}

// Clone returns a deep copy of the report
func (r *RunReport) Clone() *RunReport {
	clone := *r
	clone.Stages = make([]StageReport, len(r.Stages))
	for i, s := range r.Stages {
		clone.Stages[i] = s.clone()
	}
	if r.Error != nil {
		e := *r.Error
		clone.Error = &e
	}
	return &clone
}

func (s StageReport) clone() StageReport {
	s.Inputs = s.Inputs.Clone()
	s.Result = s.Result.Clone()
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}

func (r *RunReport) seal(finished time.Time) {
	r.FinishedAt = finished
	r.sealed = true
}
