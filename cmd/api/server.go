package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/agreement"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/auth"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/dispute"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/distribution"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/ledger"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/observability"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/resource"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/separation"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/team"
	"github.com/Blessedbiello/RiseOfFoundersv1-sub003/vote"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

type disputeService interface {
	InitiateDispute(ctx context.Context, params dispute.InitiateParams) (dispute.InitiateResult, error)
	VoteOnDispute(ctx context.Context, disputeID string, userID team.UserID, choice vote.Choice, comments string) (dispute.VoteResult, error)
	GetDispute(ctx context.Context, id string) (dispute.Detail, error)
	ListDisputes(ctx context.Context, teamID team.TeamID) ([]dispute.Dispute, error)
}

type separationService interface {
	ProposeSeparation(ctx context.Context, params separation.ProposeParams) (separation.ProposeResult, error)
	VoteOnSeparation(ctx context.Context, separationID string, userID team.UserID, choice vote.Choice, comments string) (separation.VoteResult, error)
	GetProposal(ctx context.Context, id string) (separation.Detail, error)
}

type separationExecutor interface {
	ExecuteSeparation(ctx context.Context, separationID string) (separation.ExecutionResult, error)
}

type assetCalculator interface {
	CalculateTeamAssets(ctx context.Context, teamID team.TeamID) ledger.TeamAssets
}

type templateCatalog interface {
	Templates() []agreement.Template
}

type membership interface {
	ActiveMember(ctx context.Context, teamID team.TeamID, userID team.UserID) (team.Member, error)
}

type tokenVerifier interface {
	Verify(token string) (team.UserID, error)
}

// Server is the HTTP adapter over the governance services.
type Server struct {
	disputeService    disputeService
	separationService separationService
	executor          separationExecutor
	assets            assetCalculator
	templates         templateCatalog
	members           membership
	tokens            tokenVerifier
	logger            zerolog.Logger
	requestTimeout    time.Duration
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	if s.requestTimeout > 0 {
		r.Use(middleware.Timeout(s.requestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/agreement-templates", s.handleTemplates)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/teams/{teamID}", func(r chi.Router) {
			r.Post("/disputes", s.handleInitiateDispute)
			r.Get("/disputes", s.handleListDisputes)
			r.Post("/separations", s.handleProposeSeparation)
			r.Get("/assets", s.handleTeamAssets)
		})
		r.Route("/disputes/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDispute)
			r.Post("/votes", s.handleDisputeVote)
		})
		r.Route("/separations/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSeparation)
			r.Post("/votes", s.handleSeparationVote)
			r.Post("/execute", s.handleExecuteSeparation)
		})
	})

	return r
}

// instrument logs each request and records its latency under the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(r.Method, route, status, elapsed)
		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, userID)))
	})
}

func callerID(r *http.Request) (team.UserID, bool) {
	id, ok := r.Context().Value(ctxKeyUserID).(team.UserID)
	return id, ok && id != ""
}

type initiateDisputeRequest struct {
	DisputeType        string   `json:"disputeType"`
	Description        string   `json:"description"`
	ProposedResolution string   `json:"proposedResolution"`
	EvidenceURLs       []string `json:"evidenceUrls"`
	AffectedMembers    []string `json:"affectedMembers"`
}

func (s *Server) handleInitiateDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	teamID, err := team.ParseTeamID(chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid team id")
		return
	}

	var req initiateDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	affected, err := parseUserIDs(req.AffectedMembers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.disputeService.InitiateDispute(r.Context(), dispute.InitiateParams{
		TeamID:             teamID,
		InitiatorID:        userID,
		Type:               dispute.Type(req.DisputeType),
		Description:        req.Description,
		ProposedResolution: req.ProposedResolution,
		EvidenceURLs:       req.EvidenceURLs,
		AffectedMembers:    affected,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	items, err := s.disputeService.ListDisputes(r.Context(), teamID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []dispute.Dispute{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	detail, err := s.disputeService.GetDispute(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if _, err := s.members.ActiveMember(r.Context(), detail.Dispute.TeamID, userID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type voteRequest struct {
	Vote     string `json:"vote"`
	Comments string `json:"comments"`
}

func (s *Server) handleDisputeVote(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	userID, choice, comments, ok := decodeVote(w, r)
	if !ok {
		return
	}
	result, err := s.disputeService.VoteOnDispute(r.Context(), id, userID, choice, comments)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type proposeSeparationRequest struct {
	SeparationType   string                  `json:"separationType"`
	Distribution     separation.Distribution `json:"assetDistribution"`
	Timeline         int                     `json:"timeline"`
	VotingDeadline   *time.Time              `json:"votingDeadline"`
	TermsAcceptance  map[team.UserID]bool    `json:"termsAcceptance"`
	DepartingMembers []string                `json:"departingMembers"`
	SuccessorFounder string                  `json:"successorFounder"`
}

func (s *Server) handleProposeSeparation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	teamID, err := team.ParseTeamID(chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid team id")
		return
	}

	var req proposeSeparationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	departing, err := parseUserIDs(req.DepartingMembers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := separation.ProposeParams{
		TeamID:           teamID,
		ProposedBy:       userID,
		Type:             separation.Type(req.SeparationType),
		Distribution:     req.Distribution,
		TimelineDays:     req.Timeline,
		TermsAcceptance:  req.TermsAcceptance,
		DepartingMembers: departing,
	}
	if req.VotingDeadline != nil {
		params.VotingDeadline = *req.VotingDeadline
	}
	if req.SuccessorFounder != "" {
		successor, err := team.ParseUserID(req.SuccessorFounder)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.SuccessorFounder = &successor
	}

	result, err := s.separationService.ProposeSeparation(r.Context(), params)
	if err != nil {
		if errors.Is(err, distribution.ErrExecutionPartialFailure) {
			s.logger.Error().Err(err).Str("separation_id", result.Proposal.ID).Msg("auto-approved separation failed to execute")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "execution failed", "result": result})
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetSeparation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	detail, err := s.separationService.GetProposal(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if _, err := s.members.ActiveMember(r.Context(), detail.Proposal.TeamID, userID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSeparationVote(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	userID, choice, comments, ok := decodeVote(w, r)
	if !ok {
		return
	}
	result, err := s.separationService.VoteOnSeparation(r.Context(), id, userID, choice, comments)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecuteSeparation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	detail, err := s.separationService.GetProposal(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if _, err := s.members.ActiveMember(r.Context(), detail.Proposal.TeamID, userID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	result, err := s.executor.ExecuteSeparation(r.Context(), id)
	if err != nil {
		if errors.Is(err, distribution.ErrExecutionPartialFailure) {
			s.logger.Error().Err(err).Str("separation_id", id).Msg("separation execution failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "execution failed", "result": result})
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type contributionResponse struct {
	XPEarned          int64              `json:"xpEarned"`
	Resources         resource.Inventory `json:"resources"`
	MissionsCompleted int                `json:"missionsCompleted"`
	TimeInTeamDays    int                `json:"timeInTeam"`
	PerformanceScore  float64            `json:"performanceScore"`
}

type assetsResponse struct {
	TotalXP        int64                                `json:"totalXP"`
	TotalResources resource.Inventory                   `json:"totalResources"`
	TotalTokens    float64                              `json:"totalTokens"`
	Contributions  map[team.UserID]contributionResponse `json:"memberContributions"`
}

func (s *Server) handleTeamAssets(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	assets := s.assets.CalculateTeamAssets(r.Context(), teamID)

	resp := assetsResponse{
		TotalXP:        assets.TotalXP,
		TotalResources: assets.TotalResources,
		TotalTokens:    assets.TotalTokens,
		Contributions:  make(map[team.UserID]contributionResponse, len(assets.Contributions)),
	}
	for id, c := range assets.Contributions {
		resp.Contributions[id] = contributionResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.templates.Templates()})
}

func (s *Server) requireMember(w http.ResponseWriter, r *http.Request) (team.TeamID, bool) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	teamID, err := team.ParseTeamID(chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid team id")
		return "", false
	}
	if _, err := s.members.ActiveMember(r.Context(), teamID, userID); err != nil {
		s.writeServiceError(w, err)
		return "", false
	}
	return teamID, true
}

// recordID reads the {id} path segment, which must be a uuid.
func recordID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id.String(), true
}

func decodeVote(w http.ResponseWriter, r *http.Request) (team.UserID, vote.Choice, string, bool) {
	userID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", "", false
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", "", "", false
	}
	choice, err := vote.ParseChoice(req.Vote)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return "", "", "", false
	}
	return userID, choice, req.Comments, true
}

func parseUserIDs(raw []string) ([]team.UserID, error) {
	out := make([]team.UserID, 0, len(raw))
	for _, r := range raw {
		id, err := team.ParseUserID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, team.ErrNotATeamMember):
		return http.StatusForbidden
	case errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, separation.ErrNotFound),
		errors.Is(err, team.ErrNotFound),
		errors.Is(err, agreement.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispute.ErrDisputeClosed),
		errors.Is(err, separation.ErrProposalClosed),
		errors.Is(err, distribution.ErrAlreadyExecuted),
		errors.Is(err, distribution.ErrNotApproved):
		return http.StatusConflict
	case errors.Is(err, dispute.ErrInvalidDispute),
		errors.Is(err, separation.ErrInvalidProposal),
		errors.Is(err, ledger.ErrInvalidDistribution),
		errors.Is(err, resource.ErrInvalidType),
		errors.Is(err, vote.ErrInvalidChoice):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
