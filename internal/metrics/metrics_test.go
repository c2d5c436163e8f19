package metrics

import (
	"testing"
	"time"
)

func TestInit_Idempotent(t *testing.T) {
	Init()
	Init()

	// Recording against registered collectors must not panic.
	IncJob("done")
	IncItem("ok")
	IncItem("blocked")
	ObserveFetchDuration("http", 120*time.Millisecond)
	IncEscalation()
	IncProfileUpsert("changed")
	ObserveRateLimitDelay("example.com", 50*time.Millisecond)
	JobStarted()
	JobFinished()
	IncRetryAttempt()
	IncBlockedFetch("example.com")
}

func TestRecorders_NoopBeforeInit(t *testing.T) {
	// The nil guards make every recorder safe even if Init was never
	// called; exercised implicitly by packages that only log.
	IncJob("failed")
}
