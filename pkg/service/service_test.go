package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrust/auditchain/pkg/compliance"
	"github.com/caretrust/auditchain/pkg/compliance/gdpr"
	"github.com/caretrust/auditchain/pkg/compliance/hipaa"
	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/crypto"
	"github.com/caretrust/auditchain/pkg/ledger"
	"github.com/caretrust/auditchain/pkg/ledger/store"
)

func newService(t *testing.T, consents *gdpr.ConsentStore) *Service {
	t.Helper()

	seed, err := crypto.DeriveSeed([]byte("test-master-secret"), "key-1")
	require.NoError(t, err)
	signer := crypto.NewMLDSASignerFromSeed(seed, "key-1")

	ring := crypto.NewKeyRing()
	ring.Add("key-1", signer.PublicKey())

	l, err := ledger.Open(context.Background(), store.NewMemoryStore(), signer, ring, nil)
	require.NoError(t, err)

	reg := compliance.NewRegistry(nil)
	reg.Register(hipaa.New())
	reg.Register(gdpr.New(consents))

	l.RegisterHandler(func(e ledger.Entry) {
		_ = consents.Apply(e.Action)
	})

	return New(l, reg, nil, nil)
}

func TestCompliantAccessIsRecordedWithVerdicts(t *testing.T) {
	consents := gdpr.NewConsentStore()
	consents.Grant("patient-7", gdpr.PurposeHealthcare, nil)
	svc := newService(t, consents)

	action := contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
	action.ActorRole = "physician"
	action.Purpose = "lab_results"

	entry, err := svc.Record(context.Background(), action)
	require.NoError(t, err)
	require.Len(t, entry.Verdicts, 2)
	for _, v := range entry.Verdicts {
		assert.Equal(t, contracts.OutcomeCompliant, v.Outcome)
	}
	assert.Equal(t, uint64(1), entry.Sequence)
}

func TestViolatingActionIsStillRecorded(t *testing.T) {
	svc := newService(t, gdpr.NewConsentStore())

	// No consent on file and admins may not read lab results: both
	// jurisdictions object, yet the action lands on the chain.
	action := contracts.NewAction("admin-9", "patient-7", contracts.KindExport, nil)
	action.ActorRole = "admin"
	action.Purpose = "lab_results"

	entry, err := svc.Record(context.Background(), action)
	require.NoError(t, err)
	require.Len(t, entry.Verdicts, 2)
	for _, v := range entry.Verdicts {
		assert.Equal(t, contracts.OutcomeViolation, v.Outcome)
	}
	assert.Equal(t, contracts.SeverityCritical, contracts.MaxSeverity(entry.Verdicts))
}

func TestRecordedConsentEnablesSubsequentAccess(t *testing.T) {
	svc := newService(t, gdpr.NewConsentStore())

	access := contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
	access.ActorRole = "physician"
	access.Purpose = "lab_results"

	entry, err := svc.Record(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityCritical, contracts.MaxSeverity(entry.Verdicts),
		"access before any consent is a critical violation")

	grant := contracts.NewAction("patient-7", "patient-7", contracts.KindConsent,
		[]byte(`{"op":"grant","purpose":"HEALTHCARE"}`))
	_, err = svc.Record(context.Background(), grant)
	require.NoError(t, err)

	access = contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
	access.ActorRole = "physician"
	access.Purpose = "lab_results"

	entry, err = svc.Record(context.Background(), access)
	require.NoError(t, err)
	for _, v := range entry.Verdicts {
		assert.Equal(t, contracts.OutcomeCompliant, v.Outcome)
	}

	withdraw := contracts.NewAction("patient-7", "patient-7", contracts.KindConsent,
		[]byte(`{"op":"withdraw","purpose":"HEALTHCARE"}`))
	_, err = svc.Record(context.Background(), withdraw)
	require.NoError(t, err)

	access = contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
	access.ActorRole = "physician"
	access.Purpose = "lab_results"

	entry, err = svc.Record(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityCritical, contracts.MaxSeverity(entry.Verdicts),
		"access after withdrawal is a critical violation again")
}

func TestRecordRejectsMalformedActions(t *testing.T) {
	svc := newService(t, gdpr.NewConsentStore())

	missingActor := contracts.NewAction("", "patient-7", contracts.KindAccess, nil)
	_, err := svc.Record(context.Background(), missingActor)
	assert.ErrorIs(t, err, ErrInvalidAction)

	badKind := contracts.NewAction("dr-chen", "patient-7", contracts.ActionKind("DELETE"), nil)
	_, err = svc.Record(context.Background(), badKind)
	assert.ErrorIs(t, err, ErrInvalidAction)

	seq, _ := svc.Head()
	assert.Equal(t, uint64(0), seq, "rejected actions must not reach the chain")
}

func TestVerifyReportsIntactChain(t *testing.T) {
	consents := gdpr.NewConsentStore()
	consents.Grant("patient-7", gdpr.PurposeHealthcare, nil)
	svc := newService(t, consents)

	for i := 0; i < 5; i++ {
		action := contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
		action.ActorRole = "physician"
		action.Purpose = "vital_signs"
		_, err := svc.Record(context.Background(), action)
		require.NoError(t, err)
	}

	report, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, report.Intact)
	assert.Equal(t, uint64(5), report.HeadSequence)
	assert.Nil(t, report.Violation)
}

func TestVerifySurfacesTamperedEntry(t *testing.T) {
	consents := gdpr.NewConsentStore()
	consents.Grant("patient-7", gdpr.PurposeHealthcare, nil)

	seed, err := crypto.DeriveSeed([]byte("test-master-secret"), "key-1")
	require.NoError(t, err)
	signer := crypto.NewMLDSASignerFromSeed(seed, "key-1")
	ring := crypto.NewKeyRing()
	ring.Add("key-1", signer.PublicKey())

	mem := store.NewMemoryStore()
	l, err := ledger.Open(context.Background(), mem, signer, ring, nil)
	require.NoError(t, err)

	reg := compliance.NewRegistry(nil)
	reg.Register(hipaa.New())
	reg.Register(gdpr.New(consents))
	svc := New(l, reg, nil, nil)

	for i := 0; i < 3; i++ {
		action := contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
		action.ActorRole = "physician"
		action.Purpose = "vital_signs"
		_, err := svc.Record(context.Background(), action)
		require.NoError(t, err)
	}

	require.True(t, mem.Tamper(2, func(e *ledger.Entry) {
		e.Action.ActorID = "intruder"
	}))

	report, err := svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.False(t, report.Intact)
	require.NotNil(t, report.Violation)
	assert.Equal(t, uint64(2), report.Violation.Sequence)
}

// sweepRecorder captures verification sweep outcomes.
type sweepRecorder struct {
	sweeps []bool
}

func (r *sweepRecorder) RecordVerify(_ context.Context, intact bool) {
	r.sweeps = append(r.sweeps, intact)
}

func TestVerifySweepsAreCounted(t *testing.T) {
	consents := gdpr.NewConsentStore()
	consents.Grant("patient-7", gdpr.PurposeHealthcare, nil)

	seed, err := crypto.DeriveSeed([]byte("test-master-secret"), "key-1")
	require.NoError(t, err)
	signer := crypto.NewMLDSASignerFromSeed(seed, "key-1")
	ring := crypto.NewKeyRing()
	ring.Add("key-1", signer.PublicKey())

	mem := store.NewMemoryStore()
	l, err := ledger.Open(context.Background(), mem, signer, ring, nil)
	require.NoError(t, err)

	reg := compliance.NewRegistry(nil)
	reg.Register(hipaa.New())
	reg.Register(gdpr.New(consents))

	recorder := &sweepRecorder{}
	svc := New(l, reg, recorder, nil)

	action := contracts.NewAction("dr-chen", "patient-7", contracts.KindAccess, nil)
	action.ActorRole = "physician"
	action.Purpose = "vital_signs"
	_, err = svc.Record(context.Background(), action)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)

	require.True(t, mem.Tamper(1, func(e *ledger.Entry) {
		e.Action.ActorID = "intruder"
	}))
	_, err = svc.Verify(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []bool{true, false}, recorder.sweeps)
}
