package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalzero/core/internal/domain"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	userID := uuid.New()

	token, err := mgr.Issue(userID.String(), domain.TierPro)
	require.NoError(t, err)

	claims, err := mgr.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.Equal(t, string(domain.TierPro), claims.Tier)
}

func TestResolveFallsBackToAnonymousWhenAuthNotRequired(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)

	id, err := Resolve(r, mgr, false)
	require.NoError(t, err)
	assert.Nil(t, id.UserID)
	assert.Equal(t, domain.TierPublic, id.Tier)
}

func TestResolveRejectsMissingCredentialsWhenRequired(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	r := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)

	_, err := Resolve(r, mgr, true)
	assert.Error(t, err)
}

func TestResolveAcceptsTokenFromQueryParam(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	userID := uuid.New()
	token, err := mgr.Issue(userID.String(), domain.TierFree)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v1/analyses/123/stream?token="+token, nil)
	id, err := Resolve(r, mgr, true)
	require.NoError(t, err)
	require.NotNil(t, id.UserID)
	assert.Equal(t, userID, *id.UserID)
	assert.Equal(t, domain.TierFree, id.Tier)
}

func TestResolveAcceptsBearerHeader(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	userID := uuid.New()
	token, err := mgr.Issue(userID.String(), domain.TierBusiness)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v1/analyses", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	id, err := Resolve(r, mgr, true)
	require.NoError(t, err)
	assert.Equal(t, domain.TierBusiness, id.Tier)
}
