package rotationengine

import (
	"time"

	"github.com/systmms/signctl/internal/policy"
)

// CanaryResult is one asset's outcome from the CanaryTesting phase.
type CanaryResult struct {
	URL      string
	OldSig   []byte
	NewSig   []byte
	Verified bool
	TimingMS int64
	Error    string
}

// CutoverMetrics records timing observed during the atomic cutover.
type CutoverMetrics struct {
	CutoverDurationMS int64
}

// Context is the live, transient state of one rotation in flight: the
// "Rotation context" of spec.md §3. The engine owns Context values
// exclusively, keyed by RotationID, behind active's RWMutex (spec.md §5).
// Only Phase is durable across a process restart (via store.RotationRecord);
// everything else here is safely re-derived if a crash forces resumption
// from a fresh Context at the persisted phase.
type Context struct {
	RotationID    string
	TenantID      string
	ScheduledTime time.Time
	Emergency     bool

	Phase Phase

	OldKeyHandle string
	NewKeyHandle string

	CSRPEM     string
	NewCertPEM string
	CertChain  []string

	CanaryResults []CanaryResult

	CutoverMetrics CutoverMetrics

	Error string

	CreatedAt time.Time
	UpdatedAt time.Time

	// previousKey snapshots the key slot being rotated away from, captured
	// just before CuttingOver mutates the policy in place, so
	// PostCutoverValidation can restore it exactly on rollback.
	previousKey policy.KeyRef
}

func (c *Context) touch() {
	c.UpdatedAt = time.Now()
}
