package terraform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

// ErrNoEstimate is returned when no cost estimate can be produced. Callers
// treat this as "gate degrades to a warning", not as a failure.
var ErrNoEstimate = errors.New("no cost estimate available")

// CostEstimator produces a monthly cost estimate for a phase module.
// The arithmetic itself lives in the external tool; this layer only carries
// the number to the budget gate.
type CostEstimator interface {
	EstimateMonthly(ctx context.Context, moduleDir string) (float64, error)
}

// InfracostEstimator shells out to infracost when it is installed.
type InfracostEstimator struct {
	proc process.Manager
}

func NewInfracostEstimator(proc process.Manager) *InfracostEstimator {
	return &InfracostEstimator{proc: proc}
}

func (e *InfracostEstimator) EstimateMonthly(ctx context.Context, moduleDir string) (float64, error) {
	if _, err := e.proc.LookPath("infracost"); err != nil {
		return 0, ErrNoEstimate
	}
	stdout, _, code, err := e.proc.RunInDir(ctx, moduleDir, nil,
		"infracost", "breakdown", "--path", ".", "--format", "json")
	if err != nil || code != 0 {
		return 0, fmt.Errorf("%w: infracost exited %d", ErrNoEstimate, code)
	}
	var doc struct {
		TotalMonthlyCost string `json:"totalMonthlyCost"`
	}
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoEstimate, err)
	}
	cost, err := strconv.ParseFloat(doc.TotalMonthlyCost, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable total %q", ErrNoEstimate, doc.TotalMonthlyCost)
	}
	return cost, nil
}

var _ CostEstimator = (*InfracostEstimator)(nil)
