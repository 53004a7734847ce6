package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/talentmesh/milestones-api/internal/negotiation"
	"github.com/talentmesh/milestones-api/internal/notify"
	"github.com/talentmesh/milestones-api/internal/parties"
	"github.com/talentmesh/milestones-api/internal/pdf"
)

const (
	partyIDContextKey  = "milestones_party_id"
	eventLongPollLimit = 25 * time.Second
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingNegotiations  = errors.New("negotiation service dependency required")
	errMissingRoleResolver  = errors.New("role resolver dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager is the auth surface the router consumes: it validates bearer
// tokens issued by the marketplace application.
type TokenManager interface {
	ValidateToken(token string) (string, error)
}

// TokenIssuer mints party tokens for the optional dev endpoint.
type TokenIssuer interface {
	IssuePartyToken(ctx context.Context, partyID string) (string, int64, error)
}

// Dependencies wires the HTTP layer to the services behind it.
type Dependencies struct {
	TokenManager   TokenManager
	DevTokenIssuer TokenIssuer
	Negotiations   *negotiation.Service
	Roles          negotiation.RoleResolver
	Dispatcher     *notify.Dispatcher
	Schedule       *pdf.ScheduleGenerator
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin handler for the negotiation API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Negotiations == nil {
		return nil, errMissingNegotiations
	}
	if deps.Roles == nil {
		return nil, errMissingRoleResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule := deps.Schedule
	if schedule == nil {
		schedule = pdf.NewScheduleGenerator()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		devIssuer:    deps.DevTokenIssuer,
		negotiations: deps.Negotiations,
		roles:        deps.Roles,
		dispatcher:   deps.Dispatcher,
		schedule:     schedule,
		logger:       logger,
	}

	if deps.DevTokenIssuer != nil {
		router.POST("/auth/token", handler.handleDevToken)
	}

	protected := router.Group("/contracts/:contractID/negotiation")
	protected.Use(handler.authorizeRequest)
	protected.POST("", handler.handleInitialize)
	protected.GET("", handler.handleOpen)
	protected.PUT("/draft", handler.handleSaveDraft)
	protected.POST("/submit", handler.handleSubmit)
	protected.POST("/approve", handler.handleApprove)
	protected.POST("/request-changes", handler.handleRequestChanges)
	protected.GET("/schedule.pdf", handler.handleSchedulePDF)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens       TokenManager
	devIssuer    TokenIssuer
	negotiations *negotiation.Service
	roles        negotiation.RoleResolver
	dispatcher   *notify.Dispatcher
	schedule     *pdf.ScheduleGenerator
	logger       *zap.Logger
}

type milestonePayload struct {
	ClientID    string   `json:"client_id"`
	Title       string   `json:"title"`
	AmountMinor *int64   `json:"amount_minor,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
	Criteria    string   `json:"acceptance_criteria"`
	Position    int      `json:"position"`
}

func (p milestonePayload) toMilestone() negotiation.Milestone {
	amount := int64(0)
	if p.AmountMinor != nil {
		amount = *p.AmountMinor
	} else if p.Amount != nil {
		// Decimal entry is converted to minor units exactly once, here.
		amount = negotiation.MinorFromDecimal(*p.Amount)
	}
	return negotiation.Milestone{
		ClientID:    strings.TrimSpace(p.ClientID),
		Title:       p.Title,
		AmountMinor: amount,
		Criteria:    p.Criteria,
		Position:    p.Position,
	}
}

func toMilestones(payloads []milestonePayload) []negotiation.Milestone {
	items := make([]negotiation.Milestone, 0, len(payloads))
	for _, payload := range payloads {
		items = append(items, payload.toMilestone())
	}
	return items
}

func fromMilestone(item negotiation.Milestone) milestonePayload {
	amount := item.AmountMinor
	return milestonePayload{
		ClientID:    item.ClientID,
		Title:       item.Title,
		AmountMinor: &amount,
		Criteria:    item.Criteria,
		Position:    item.Position,
	}
}

func fromMilestones(items []negotiation.Milestone) []milestonePayload {
	payloads := make([]milestonePayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, fromMilestone(item))
	}
	return payloads
}

type headerPayload struct {
	ContractID              string `json:"contract_id"`
	State                   string `json:"state"`
	AgreedTotalMinor        int64  `json:"agreed_total_minor"`
	CurrentVersionID        string `json:"current_version_id,omitempty"`
	ReviewVersionID         string `json:"review_version_id,omitempty"`
	CompanyChangesVersionID string `json:"company_changes_version_id,omitempty"`
	LockVersion             int64  `json:"lock_version"`
	LastTransitionAtSeconds int64  `json:"last_transition_at_s"`
}

func fromHeader(header *negotiation.Header) headerPayload {
	return headerPayload{
		ContractID:              header.ContractID,
		State:                   string(header.State),
		AgreedTotalMinor:        header.AgreedTotalMinor,
		CurrentVersionID:        header.CurrentVersionID,
		ReviewVersionID:         header.ReviewVersionID,
		CompanyChangesVersionID: header.CompanyChangesVersionID,
		LockVersion:             header.LockVersion,
		LastTransitionAtSeconds: header.LastTransitionAtSeconds,
	}
}

type diffEntryPayload struct {
	Status   string            `json:"status"`
	ClientID string            `json:"client_id"`
	Current  *milestonePayload `json:"current,omitempty"`
	Base     *milestonePayload `json:"base,omitempty"`
}

func fromDiff(entries []negotiation.DiffEntry) []diffEntryPayload {
	payloads := make([]diffEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload := diffEntryPayload{
			Status:   string(entry.Status),
			ClientID: entry.ClientID(),
		}
		if entry.Current != nil {
			current := fromMilestone(*entry.Current)
			payload.Current = &current
		}
		if entry.Base != nil {
			base := fromMilestone(*entry.Base)
			payload.Base = &base
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

type devTokenRequest struct {
	PartyID string `json:"party_id"`
}

func (h *httpHandler) handleDevToken(c *gin.Context) {
	var request devTokenRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PartyID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.devIssuer.IssuePartyToken(c.Request.Context(), strings.TrimSpace(request.PartyID))
	if err != nil {
		h.logger.Error("failed to issue dev token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	})
}

type initializeRequest struct {
	AgreedTotalMinor int64 `json:"agreed_total_minor"`
}

func (h *httpHandler) handleInitialize(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}
	var request initializeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	header, err := h.negotiations.Initialize(c.Request.Context(), contractID, partyID, request.AgreedTotalMinor)
	if err != nil {
		h.respondError(c, "initialize", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"header": fromHeader(header)})
}

func (h *httpHandler) handleOpen(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}

	view, err := h.negotiations.Open(c.Request.Context(), contractID, partyID)
	if err != nil {
		h.respondError(c, "open", err)
		return
	}

	response := gin.H{
		"header": fromHeader(view.Header),
		"role":   string(view.Role),
		"mode":   string(view.Mode),
		"items":  fromMilestones(view.Items),
	}
	if view.Diff != nil {
		response["diff"] = fromDiff(view.Diff)
	}
	c.JSON(http.StatusOK, response)
}

type draftRequest struct {
	Items []milestonePayload `json:"items"`
}

func (h *httpHandler) handleSaveDraft(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}
	var request draftRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	versionID, err := h.negotiations.SaveDraft(c.Request.Context(), contractID, partyID, toMilestones(request.Items))
	if err != nil {
		h.respondError(c, "save_draft", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version_id": versionID})
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}
	var request draftRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	header, err := h.negotiations.Submit(c.Request.Context(), contractID, partyID, toMilestones(request.Items))
	if err != nil {
		h.respondError(c, "submit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"header": fromHeader(header)})
}

func (h *httpHandler) handleApprove(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}

	header, err := h.negotiations.Approve(c.Request.Context(), contractID, partyID)
	var activationErr *negotiation.DownstreamActivationError
	if errors.As(err, &activationErr) {
		// The approval itself committed; report the downstream failure as a
		// warning, not an error status.
		c.JSON(http.StatusOK, gin.H{
			"header":  fromHeader(header),
			"warning": "activation_failed",
		})
		return
	}
	if err != nil {
		h.respondError(c, "approve", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"header": fromHeader(header)})
}

func (h *httpHandler) handleRequestChanges(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}

	header, err := h.negotiations.RequestChanges(c.Request.Context(), contractID, partyID)
	if err != nil {
		h.respondError(c, "request_changes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"header": fromHeader(header)})
}

func (h *httpHandler) handleSchedulePDF(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}

	view, err := h.negotiations.Open(c.Request.Context(), contractID, partyID)
	if err != nil {
		h.respondError(c, "schedule_pdf", err)
		return
	}

	document, err := h.schedule.Generate(view.Header, view.Items)
	if errors.Is(err, pdf.ErrNotApproved) {
		c.JSON(http.StatusConflict, gin.H{"error": "not_approved"})
		return
	}
	if err != nil {
		h.logger.Error("schedule pdf generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pdf_failed"})
		return
	}
	c.Data(http.StatusOK, "application/pdf", document)
}

// handleEvents long-polls the in-process dispatcher for the next workflow
// event on the contract. Only participants may listen; event summaries carry
// negotiation amounts. Returns 204 when nothing happens within the window.
func (h *httpHandler) handleEvents(c *gin.Context) {
	contractID, partyID, ok := h.requestIdentifiers(c)
	if !ok {
		return
	}
	if _, err := h.roles.RoleFor(c.Request.Context(), contractID.String(), partyID.String()); err != nil {
		h.respondError(c, "events", err)
		return
	}
	if h.dispatcher == nil {
		c.Status(http.StatusNoContent)
		return
	}

	stream, cancel := h.dispatcher.Subscribe(c.Request.Context(), contractID.String())
	defer cancel()

	timer := time.NewTimer(eventLongPollLimit)
	defer timer.Stop()

	select {
	case event, open := <-stream:
		if !open {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"contract_id": event.ContractID,
			"actor":       string(event.Actor),
			"action":      string(event.Action),
			"summary":     event.Summary,
			"occurred_at": event.OccurredAt.UTC().Unix(),
		})
	case <-c.Request.Context().Done():
		c.Status(http.StatusNoContent)
	case <-timer.C:
		c.Status(http.StatusNoContent)
	}
}

func (h *httpHandler) requestIdentifiers(c *gin.Context) (negotiation.ContractID, negotiation.PartyID, bool) {
	contractID, err := negotiation.NewContractID(c.Param("contractID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contract_id"})
		return "", "", false
	}
	partyID, err := negotiation.NewPartyID(c.GetString(partyIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	return contractID, partyID, true
}

// respondError maps the negotiation error taxonomy onto HTTP statuses with
// actionable error codes; expected workflow failures never collapse into a
// generic 500.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var budgetErr *negotiation.BudgetMismatchError
	switch {
	case errors.As(err, &budgetErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "budget_mismatch",
			"delta_minor": budgetErr.DeltaMinor,
		})
	case errors.Is(err, negotiation.ErrEmptyDraft):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "empty_draft"})
	case errors.Is(err, negotiation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, negotiation.ErrNotYourTurn):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_your_turn"})
	case errors.Is(err, parties.ErrUnknownParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_participant"})
	case errors.Is(err, negotiation.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
	case errors.Is(err, negotiation.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_modification"})
	case errors.Is(err, negotiation.ErrInvalidTotal),
		errors.Is(err, negotiation.ErrInvalidAmount),
		errors.Is(err, negotiation.ErrDuplicateClientID),
		errors.Is(err, negotiation.ErrUnknownMilestone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("negotiation request failed",
			zap.String("operation", operation),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(partyIDContextKey, subject)
	c.Next()
}
