package state

import (
	"time"

	"github.com/google/uuid"
)

// ExperimentVariables are the study conditions an experiment records.
type ExperimentVariables struct {
	WireType   string `json:"wireType"`
	LesionType string `json:"lesionType"`
	Operator   string `json:"operator"`
	Notes      string `json:"notes,omitempty"`
}

// Experiment labels a session for later comparison.
type Experiment struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Variables ExperimentVariables `json:"variables"`
	CreatedAt time.Time           `json:"createdAt"`
}

// CreateExperiment starts a new experiment and attaches it to the session,
// replacing any previous one.
func (s *ProcedureState) CreateExperiment(name string, vars ExperimentVariables) Experiment {
	exp := Experiment{
		ID:        uuid.NewString(),
		Name:      name,
		Variables: vars,
		CreatedAt: s.now(),
	}
	s.mu.Lock()
	s.experiment = &exp
	s.mu.Unlock()
	return exp
}

// ClearExperiment detaches the current experiment.
func (s *ProcedureState) ClearExperiment() {
	s.mu.Lock()
	s.experiment = nil
	s.mu.Unlock()
}
