package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrust/auditchain/pkg/alert"
	"github.com/caretrust/auditchain/pkg/auth"
	"github.com/caretrust/auditchain/pkg/compliance"
	"github.com/caretrust/auditchain/pkg/compliance/gdpr"
	"github.com/caretrust/auditchain/pkg/compliance/hipaa"
	"github.com/caretrust/auditchain/pkg/crypto"
	"github.com/caretrust/auditchain/pkg/ledger"
	"github.com/caretrust/auditchain/pkg/ledger/store"
	"github.com/caretrust/auditchain/pkg/service"
)

var testSecret = []byte("api-test-secret")

type harness struct {
	handler http.Handler
	ledger  *ledger.Ledger
	dist    *alert.Distributor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	seed, err := crypto.DeriveSeed([]byte("api-test-master"), "key-1")
	require.NoError(t, err)
	signer := crypto.NewMLDSASignerFromSeed(seed, "key-1")
	ring := crypto.NewKeyRing()
	ring.Add("key-1", signer.PublicKey())

	l, err := ledger.Open(context.Background(), store.NewMemoryStore(), signer, ring, nil)
	require.NoError(t, err)

	consents := gdpr.NewConsentStore()
	consents.Grant("patient-7", gdpr.PurposeHealthcare, nil)
	reg := compliance.NewRegistry(nil)
	reg.Register(hipaa.New())
	reg.Register(gdpr.New(consents))
	l.RegisterHandler(func(e ledger.Entry) {
		_ = consents.Apply(e.Action)
	})

	svc := service.New(l, reg, nil, nil)
	dist := alert.NewDistributor(l, nil, alert.Config{}, nil)
	l.RegisterHandler(dist.HandleEntry)

	srv := NewServer(svc, dist, nil)
	return &harness{
		handler: srv.Routes(auth.NewValidator(testSecret), nil),
		ledger:  l,
		dist:    dist,
	}
}

func bearer(t *testing.T, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	})
	s, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + s
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	r.Header.Set("Authorization", bearer(t, "dr-chen", "physician"))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	return rec
}

func submitBody(actor, role, subject, kind, purpose string) string {
	return fmt.Sprintf(`{"actor_id":%q,"actor_role":%q,"subject_id":%q,"kind":%q,"purpose":%q}`,
		actor, role, subject, kind, purpose)
}

func TestSubmitRecordsAction(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/actions",
		submitBody("dr-chen", "physician", "patient-7", "ACCESS", "lab_results"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Sequence)
	assert.True(t, strings.HasPrefix(resp.Digest, "sha256:"))
	assert.Len(t, resp.Verdicts, 2)
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/actions",
		submitBody("dr-chen", "physician", "patient-7", "DELETE", "lab_results"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/actions", `{"actor_id":"dr-chen","kind":"ACCESS"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitDuplicateIDConflicts(t *testing.T) {
	h := newHarness(t)

	body := `{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","actor_id":"dr-chen","actor_role":"physician","subject_id":"patient-7","kind":"ACCESS","purpose":"lab_results"}`
	rec := h.do(t, http.MethodPost, "/v1/actions", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/actions", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusConflict, problem.Status)
}

func TestLedgerListsEntries(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		rec := h.do(t, http.MethodPost, "/v1/actions",
			submitBody("dr-chen", "physician", "patient-7", "ACCESS", "vital_signs"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := h.do(t, http.MethodGet, "/v1/ledger?from=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ledgerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(3), resp.HeadSequence)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, uint64(2), resp.Entries[0].Sequence)
}

func TestLedgerRejectsBadRange(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/v1/ledger?from=5&to=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyReportsIntact(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/actions",
		submitBody("dr-chen", "physician", "patient-7", "ACCESS", "vital_signs"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/ledger/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.VerifyReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Intact)
	assert.Equal(t, uint64(1), report.HeadSequence)
}

func TestExportProducesVerifiableZip(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/actions",
		submitBody("dr-chen", "physician", "patient-7", "ACCESS", "vital_signs"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/ledger/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Content-Checksum"), "sha256:"))

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["entries.json"])
	assert.True(t, names["manifest.json"])
	assert.True(t, names["README.txt"])
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	h := newHarness(t)

	r := httptest.NewRequest(http.MethodGet, "/v1/ledger", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	h := newHarness(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitKicksIn(t *testing.T) {
	h := newHarness(t)
	limiter := NewGlobalRateLimiter(1, 2)
	limited := limiter.Middleware(h.handler)

	var last int
	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		r.RemoteAddr = "10.0.0.1:4444"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, r)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
