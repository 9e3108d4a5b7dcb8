package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisRun records one engine pass over an input pack.
type AnalysisRun struct {
	ID                  int64
	Utility             string
	RateCode            string
	Confidence          decimal.Decimal
	DeterminantsVersion string
	TouVersion          string
	LoadVersion         string
	MeterCount          int
	CreatedAt           time.Time
}

// DeterminantRow is a persisted cycle determinant. Physical values go into
// NUMERIC columns via decimal so stored audit values do not drift.
type DeterminantRow struct {
	ID              int64
	RunID           int64
	MeterID         string
	CycleLabel      string
	CycleStart      time.Time
	CycleEnd        time.Time
	EnergyKWh       *decimal.Decimal
	DemandMaxKW     *decimal.Decimal
	BillingDemandKW *decimal.Decimal
	CoveragePct     decimal.Decimal
	Confidence      decimal.Decimal
	Trail           json.RawMessage
	CreatedAt       time.Time
}

// MatchRow is a persisted reconciliation comparison.
type MatchRow struct {
	ID             int64
	RunID          int64
	MeterID        string
	CycleLabel     string
	IsReconcilable bool
	SkipReason     *string
	Selected       bool
	DeltaDemandPct *decimal.Decimal
	DeltaEnergyPct *decimal.Decimal
	CreatedAt      time.Time
}
