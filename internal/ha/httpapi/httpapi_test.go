package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.brokerha.dev/internal/ha/types"
)

func TestStatus_NilPrimaryReportsStandalone(t *testing.T) {
	h := NewHandler(nil)
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/ha/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var view StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "standalone", view.Role)
	assert.False(t, view.Active)
}

func TestBackups_NilPrimaryReturnsEmptyList(t *testing.T) {
	h := NewHandler(nil)
	rec := httptest.NewRecorder()
	h.Backups(rec, httptest.NewRequest(http.MethodGet, "/ha/backups", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

type fakeMembershipReader struct {
	infos []types.BrokerInfo
	err   error
}

func (f fakeMembershipReader) All(ctx context.Context) ([]types.BrokerInfo, error) {
	return f.infos, f.err
}

func TestMembers_NoReaderReturnsEmptyList(t *testing.T) {
	h := NewHandler(nil)
	rec := httptest.NewRecorder()
	h.Members(rec, httptest.NewRequest(http.MethodGet, "/ha/members", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMembers_ReaderReturnsSnapshot(t *testing.T) {
	id := uuid.New()
	h := NewHandler(nil).WithMembershipReader(fakeMembershipReader{
		infos: []types.BrokerInfo{{SystemID: id, Name: "b1"}},
	})
	rec := httptest.NewRecorder()
	h.Members(rec, httptest.NewRequest(http.MethodGet, "/ha/members", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var infos []types.BrokerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].SystemID)
}

func TestMembers_ReaderErrorReturns503(t *testing.T) {
	h := NewHandler(nil).WithMembershipReader(fakeMembershipReader{err: errors.New("redis unreachable")})
	rec := httptest.NewRecorder()
	h.Members(rec, httptest.NewRequest(http.MethodGet, "/ha/members", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
