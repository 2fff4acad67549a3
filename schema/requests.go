package schema

import "time"

// ServiceConfig defines survey service behavior.
type ServiceConfig struct {
	// ClaimTTL is how long a claim holds before it goes stale. Zero keeps claims forever.
	ClaimTTL time.Duration
}

// DefaultClaimTTL is the claim lifetime used when none is configured.
const DefaultClaimTTL = 30 * time.Minute

// NormalizeServiceConfig validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.ClaimTTL < 0 {
		return ServiceConfig{}, ErrInvalidClaimTTL
	}
	return cfg, nil
}

// GetPatientRequest asks for one full row.
type GetPatientRequest struct {
	Row       Row
	Email     Email
	IncludeMy bool
}

// ClaimRequest asks to lock a row for a reviewer. PrevRow, when set,
// is released first if the same reviewer holds it.
type ClaimRequest struct {
	Row     Row
	PrevRow Row
	Email   Email
}

// ReleaseRequest asks to drop a reviewer's claim.
type ReleaseRequest struct {
	Row   Row
	Email Email
}

// SubmitRequest carries a prediction and its author.
type SubmitRequest struct {
	User       User
	Prediction Prediction
}

// NextRequest asks for the next workable row after After.
type NextRequest struct {
	Email Email
	After *Row
}

// ImportResponse reports an import.
type ImportResponse struct {
	Rows    int
	Columns int
}
