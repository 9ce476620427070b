//go:build !integration

package http_test

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"blobsubnet/internal/domain/ledger"
	httpapi "blobsubnet/internal/infra/http"
	"blobsubnet/internal/usecase"
)

func newTestServer(t *testing.T) (*httpapi.Server, *httpapi.AdminAuth) {
	t.Helper()
	st := ledger.New(big.NewInt(1_000_000), big.NewInt(1))
	logger := zerolog.Nop()
	uc := usecase.NewLedgerUseCase(st, nil, nil, &logger)
	admin := httpapi.NewAdminAuth("test-secret", time.Minute)
	return httpapi.NewServer(uc, admin, &logger), admin
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_Healthz(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doJSON(t, s.Router(), http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestServer_BuyCreditThenGetAccount(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	addr := "0000000000000000000000000000000000000000000000000000000000000001"
	rr := doJSON(t, router, http.MethodPost, "/v1/accounts/"+addr+"/credit", map[string]any{
		"amount": "100",
		"epoch":  int64(1),
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("buy credit: want 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/v1/accounts/"+addr, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get account: want 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_GetAccount_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	addr := "0000000000000000000000000000000000000000000000000000000000000099"
	rr := doJSON(t, s.Router(), http.MethodGet, "/v1/accounts/"+addr, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_BuyCredit_InvalidAddress(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doJSON(t, s.Router(), http.MethodPost, "/v1/accounts/not-an-address/credit", map[string]any{
		"amount": "100",
		"epoch":  int64(1),
	}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_AdminRoute_RequiresToken(t *testing.T) {
	s, admin := newTestServer(t)
	router := s.Router()
	hash := "00000000000000000000000000000000000000000000000000000000000000aa"

	rr := doJSON(t, router, http.MethodPost, "/v1/admin/blobs/"+hash+"/pending", map[string]any{
		"subscriber": "0000000000000000000000000000000000000000000000000000000000000001",
		"epoch":      int64(1),
	}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without token, got %d body=%s", rr.Code, rr.Body.String())
	}

	tok, err := admin.Mint()
	if err != nil {
		t.Fatalf("mint admin token: %v", err)
	}
	rr = doJSON(t, router, http.MethodPost, "/v1/admin/blobs/"+hash+"/pending", map[string]any{
		"subscriber": "0000000000000000000000000000000000000000000000000000000000000001",
		"epoch":      int64(1),
	}, tok)
	// the blob doesn't exist yet; the important assertion is that auth let
	// the request past the middleware instead of short-circuiting with 401.
	if rr.Code == http.StatusUnauthorized {
		t.Fatalf("valid admin token was rejected: %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestServer_ApproveCredit_CallerAllowlistExpandsToOnePerCaller(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	from := "0000000000000000000000000000000000000000000000000000000000000001"
	to := "0000000000000000000000000000000000000000000000000000000000000002"
	callerA := "0000000000000000000000000000000000000000000000000000000000000003"
	callerB := "0000000000000000000000000000000000000000000000000000000000000004"

	rr := doJSON(t, router, http.MethodPost, "/v1/credit/approve", map[string]any{
		"from":             from,
		"to":               to,
		"caller_allowlist": []string{callerA, callerB},
		"epoch":            int64(1),
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("approve credit: want 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var approvals []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &approvals); err != nil {
		t.Fatalf("decode approvals: %v body=%s", err, rr.Body.String())
	}
	if len(approvals) != 2 {
		t.Fatalf("want 2 approvals (one per listed caller), got %d", len(approvals))
	}
}

func TestServer_GetStats(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doJSON(t, s.Router(), http.MethodGet, "/v1/stats", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}
