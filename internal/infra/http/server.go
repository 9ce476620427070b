// File: internal/infra/http/server.go
package http

import (
	"encoding/json"
	"fmt"
	"math/big"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"blobsubnet/internal/domain"
	"blobsubnet/internal/domain/ledger"
	"blobsubnet/internal/domain/model"
	"blobsubnet/internal/infra/api"
	red "blobsubnet/internal/infra/redis"
	"blobsubnet/internal/usecase"
)

// Server exposes every spec.md §6 ledger operation as a chi-routed JSON
// API, dual to the Go method surface on usecase.LedgerUseCase.
type Server struct {
	uc         *usecase.LedgerUseCase
	admin      *AdminAuth
	logger     *zerolog.Logger
	statsCache *red.StatsCache
}

func NewServer(uc *usecase.LedgerUseCase, admin *AdminAuth, logger *zerolog.Logger) *Server {
	return &Server{uc: uc, admin: admin, logger: logger}
}

// WithStatsCache enables a short-TTL read-through cache in front of
// GetStats, sparing the ledger mutex from a flood of polling
// dashboards/metrics scrapers.
func (s *Server) WithStatsCache(cache *red.StatsCache) *Server {
	s.statsCache = cache
	return s
}

// Router builds the full route tree, wrapped in the teacher's
// trace/log/recover/timeout middleware chain.
func (s *Server) Router() stdhttp.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts/{addr}/credit", s.handleBuyCredit)
		r.Post("/credit/approve", s.handleApproveCredit)
		r.Post("/credit/revoke", s.handleRevokeCredit)
		r.Post("/credit/sponsor", s.handleSetCreditSponsor)
		r.Post("/credit/update", s.handleUpdateCredit)

		r.Get("/accounts/{addr}", s.handleGetAccount)
		r.Get("/accounts/{from}/approvals/{to}", s.handleGetCreditApproval)
		r.Get("/accounts/{addr}/allowance", s.handleGetCreditAllowance)

		r.Post("/blobs", s.handleAddBlob)
		r.Post("/blobs/{hash}/renew", s.handleRenewBlob)
		r.Post("/blobs/{hash}/overwrite", s.handleOverwriteBlob)
		r.Delete("/blobs/{hash}", s.handleDeleteBlob)
		r.Get("/blobs/added", s.handleGetAddedBlobs)
		r.Get("/blobs/pending", s.handleGetPendingBlobs)
		r.Get("/blobs/{hash}", s.handleGetBlob)
		r.Get("/blobs/{hash}/status", s.handleGetBlobStatus)

		r.Get("/stats", s.handleGetStats)

		r.Group(func(r chi.Router) {
			r.Use(s.admin.RequireAdmin)
			r.Post("/admin/blobs/{hash}/pending", s.handleSetBlobPending)
			r.Post("/admin/blobs/{hash}/finalize", s.handleFinalizeBlob)
			r.Post("/admin/accounts/{addr}/ttl", s.handleSetAccountTTL)
		})
	})

	return api.Chain(r,
		api.TraceID(),
		api.Recover(s.logger),
		api.RequestLog(s.logger),
		api.Timeout(10*time.Second),
	)
}

func (s *Server) handleHealthz(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	writeJSON(w, stdhttp.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *stdhttp.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func subIDFromString(s string) model.SubscriptionID {
	if s == "" {
		return model.DefaultSubscriptionID
	}
	return model.NewSubscriptionID([]byte(s))
}

func (s *Server) handleBuyCredit(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	recipient, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req buyCreditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := s.uc.BuyCredit(r.Context(), recipient, amount, req.Epoch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toAccountDTO(account))
}

func (s *Server) handleApproveCredit(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req approveCreditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	var limit *big.Int
	if req.Limit != nil {
		v, err := parseAmount(*req.Limit)
		if err != nil {
			writeError(w, err)
			return
		}
		limit = v
	}

	if len(req.CallerAllowlist) > 0 {
		callers := make([]model.Address, 0, len(req.CallerAllowlist))
		for _, raw := range req.CallerAllowlist {
			c, err := parseAddress(raw)
			if err != nil {
				writeError(w, err)
				return
			}
			callers = append(callers, c)
		}
		approvals, err := s.uc.ApproveCreditAllowlist(r.Context(), from, to, callers, req.Epoch, limit, req.TTL)
		if err != nil {
			writeError(w, err)
			return
		}
		dtos := make([]approvalDTO, len(approvals))
		for i, appr := range approvals {
			dtos[i] = toApprovalDTO(appr)
		}
		writeJSON(w, stdhttp.StatusOK, dtos)
		return
	}

	var requireCaller *model.Address
	if req.RequireCaller != nil {
		c, err := parseAddress(*req.RequireCaller)
		if err != nil {
			writeError(w, err)
			return
		}
		requireCaller = &c
	}
	appr, err := s.uc.ApproveCredit(r.Context(), from, to, requireCaller, req.Epoch, limit, req.TTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toApprovalDTO(appr))
}

func (s *Server) handleRevokeCredit(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req revokeCreditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	var forCaller *model.Address
	if req.ForCaller != nil {
		c, err := parseAddress(*req.ForCaller)
		if err != nil {
			writeError(w, err)
			return
		}
		forCaller = &c
	}
	if err := s.uc.RevokeCredit(r.Context(), from, to, forCaller, req.Epoch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusNoContent, nil)
}

func (s *Server) handleSetCreditSponsor(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req setCreditSponsorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	var sponsor *model.Address
	if req.Sponsor != nil {
		sp, err := parseAddress(*req.Sponsor)
		if err != nil {
			writeError(w, err)
			return
		}
		sponsor = &sp
	}
	if err := s.uc.SetCreditSponsor(r.Context(), from, sponsor, req.Epoch); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusNoContent, nil)
}

func (s *Server) handleUpdateCredit(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req updateCreditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, err)
		return
	}
	sponsor, err := parseAddress(req.Sponsor)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.AddAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	isAdmin := isAdminRequest(r)
	if hdr := r.Header.Get("Authorization"); !isAdmin && s.admin != nil && strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		_, perr := s.admin.parse(strings.TrimSpace(hdr[7:]))
		isAdmin = perr == nil
	}
	account, err := s.uc.UpdateCredit(r.Context(), from, &sponsor, amount, isAdmin, req.Epoch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toAccountDTO(account))
}

func (s *Server) handleGetAccount(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, ok := s.uc.GetAccount(r.Context(), addr)
	if !ok {
		writeError(w, errNotFoundAccount)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toAccountDTO(account))
}

func (s *Server) handleGetCreditApproval(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	from, err := parseAddress(chi.URLParam(r, "from"))
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(chi.URLParam(r, "to"))
	if err != nil {
		writeError(w, err)
		return
	}
	appr, ok := s.uc.GetCreditApproval(r.Context(), from, to)
	if !ok {
		writeError(w, errNotFoundApproval)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toApprovalDTO(appr))
}

func (s *Server) handleGetCreditAllowance(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	allowance, err := s.uc.GetCreditAllowance(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toCreditAllowanceDTO(allowance))
}

func (s *Server) handleAddBlob(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req addBlobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	origin, err := parseAddress(req.Origin)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(req.Subscriber)
	if err != nil {
		writeError(w, err)
		return
	}
	hash, err := parseHash(req.Hash)
	if err != nil {
		writeError(w, err)
		return
	}
	metadataHash, err := parseHash(req.MetadataHash)
	if err != nil {
		writeError(w, err)
		return
	}
	var source model.PublicKey
	if req.Source != "" {
		pk, err := parseAddress(req.Source)
		if err != nil {
			writeError(w, err)
			return
		}
		source = model.PublicKey(pk)
	}
	tokensReceived, err := parseAmount(req.TokensReceived)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.uc.AddBlob(r.Context(), ledger.AddBlobParams{
		Origin:         origin,
		Caller:         caller,
		Subscriber:     subscriber,
		Epoch:          req.Epoch,
		Hash:           hash,
		MetadataHash:   metadataHash,
		ID:             subIDFromString(req.SubscriptionID),
		Size:           req.Size,
		TTL:            req.TTL,
		Source:         source,
		TokensReceived: tokensReceived,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusCreated, map[string]any{
		"subscription":   toSubscriptionDTO(res.Subscription),
		"tokens_unspent": res.TokensUnspent.String(),
	})
}

func (s *Server) handleRenewBlob(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req renewBlobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(req.Subscriber)
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.uc.RenewBlob(r.Context(), subscriber, req.Epoch, hash, subIDFromString(req.SubscriptionID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toSubscriptionDTO(*sub))
}

func (s *Server) handleOverwriteBlob(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	oldHash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req addBlobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	origin, err := parseAddress(req.Origin)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(req.Subscriber)
	if err != nil {
		writeError(w, err)
		return
	}
	hash, err := parseHash(req.Hash)
	if err != nil {
		writeError(w, err)
		return
	}
	metadataHash, err := parseHash(req.MetadataHash)
	if err != nil {
		writeError(w, err)
		return
	}
	tokensReceived, err := parseAmount(req.TokensReceived)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.uc.OverwriteBlob(r.Context(), oldHash, ledger.AddBlobParams{
		Origin:         origin,
		Caller:         caller,
		Subscriber:     subscriber,
		Epoch:          req.Epoch,
		Hash:           hash,
		MetadataHash:   metadataHash,
		ID:             subIDFromString(req.SubscriptionID),
		Size:           req.Size,
		TTL:            req.TTL,
		TokensReceived: tokensReceived,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, map[string]any{
		"subscription":   toSubscriptionDTO(res.Subscription),
		"tokens_unspent": res.TokensUnspent.String(),
	})
}

func (s *Server) handleDeleteBlob(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req deleteBlobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	origin, err := parseAddress(req.Origin)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(req.Subscriber)
	if err != nil {
		writeError(w, err)
		return
	}
	removed, err := s.uc.DeleteBlob(r.Context(), origin, caller, subscriber, req.Epoch, hash, subIDFromString(req.SubscriptionID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, map[string]bool{"blob_removed": removed})
}

func (s *Server) handleGetBlob(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	blob, ok := s.uc.GetBlob(r.Context(), hash)
	if !ok {
		writeError(w, errNotFoundBlob)
		return
	}
	writeJSON(w, stdhttp.StatusOK, toBlobDTO(blob))
}

func (s *Server) handleGetBlobStatus(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(r.URL.Query().Get("subscriber"))
	if err != nil {
		writeError(w, err)
		return
	}
	id := subIDFromString(r.URL.Query().Get("subscription_id"))
	status, err := s.uc.GetBlobStatus(r.Context(), subscriber, hash, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleGetAddedBlobs(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	n := queryLimit(r, 100)
	hashes := s.uc.GetAddedBlobs(r.Context(), n)
	writeJSON(w, stdhttp.StatusOK, map[string]any{"hashes": hashStrings(hashes)})
}

func (s *Server) handleGetPendingBlobs(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	n := queryLimit(r, 100)
	hashes := s.uc.GetPendingBlobs(r.Context(), n)
	writeJSON(w, stdhttp.StatusOK, map[string]any{"hashes": hashStrings(hashes)})
}

func (s *Server) handleGetStats(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if s.statsCache != nil {
		if cached, ok := s.statsCache.Get(r.Context()); ok {
			writeJSON(w, stdhttp.StatusOK, toStatsDTO(*cached))
			return
		}
	}
	stats := s.uc.GetStats(r.Context())
	if s.statsCache != nil {
		_ = s.statsCache.Set(r.Context(), stats)
	}
	writeJSON(w, stdhttp.StatusOK, toStatsDTO(stats))
}

func (s *Server) handleSetBlobPending(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req setBlobPendingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(req.Subscriber)
	if err != nil {
		writeError(w, err)
		return
	}
	var source model.PublicKey
	if req.Source != "" {
		pk, err := parseAddress(req.Source)
		if err != nil {
			writeError(w, err)
			return
		}
		source = model.PublicKey(pk)
	}
	if err := s.uc.SetBlobPending(r.Context(), req.Epoch, subscriber, hash, subIDFromString(req.SubscriptionID), source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusNoContent, nil)
}

func (s *Server) handleFinalizeBlob(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req finalizeBlobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	subscriber, err := parseAddress(req.Subscriber)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.uc.FinalizeBlob(r.Context(), subscriber, req.Epoch, hash, subIDFromString(req.SubscriptionID), model.BlobStatus(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusNoContent, nil)
}

func (s *Server) handleSetAccountTTL(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req setAccountTTLRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.uc.SetAccountBlobTtlStatus(r.Context(), req.Epoch, addr, model.TtlStatus(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stdhttp.StatusNoContent, nil)
}

func queryLimit(r *stdhttp.Request, def int) int {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func hashStrings(hashes []model.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}

var (
	errNotFoundAccount  = fmt.Errorf("%w: account", domain.ErrNotFound)
	errNotFoundApproval = fmt.Errorf("%w: approval", domain.ErrNotFound)
	errNotFoundBlob     = fmt.Errorf("%w: blob", domain.ErrNotFound)
)
