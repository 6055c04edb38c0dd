package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roofline/internal/auth"
	"roofline/internal/calllist"
	"roofline/internal/dialer"
	"roofline/internal/journal"
	"roofline/internal/tenant"
	"roofline/internal/voiceagent"
	"roofline/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Dialer  *dialer.Manager
	Journal journal.Repo
	Tenants *tenant.Store
}

// session resolves (or creates) the caller's dialer session from identity in
// the request context.
func (h Handlers) session(c *gin.Context) (*dialer.Session, bool) {
	ctx := c.Request.Context()
	userID, err := auth.UserID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return nil, false
	}
	tenantID, _ := auth.TenantID(ctx)
	bearer, err := auth.Bearer(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
		return nil, false
	}

	s, err := h.Dialer.Session(ctx, userID, tenantID, bearer)
	if err != nil {
		if errors.Is(err, dialer.ErrSessionElsewhere) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "dialer session active elsewhere"})
			return nil, false
		}
		logger.FromGin(c).Error("session create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return nil, false
	}
	return s, true
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues an access token.
//
// NOTE: Local-development endpoint; production deployments verify credentials
// in the identity service and this route is disabled.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	tok, err := h.Auth.IssueAccess(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Dialer ---

type dialerStateResponse struct {
	Phase         string          `json:"phase"`
	Active        bool            `json:"active"`
	Cursor        int             `json:"cursor"`
	UserStopped   bool            `json:"user_stopped"`
	ListenEnabled bool            `json:"listen_enabled"`
	CanEndCall    bool            `json:"can_end_call"`
	Call          *activeCallView `json:"call,omitempty"`
	Audio         audioView       `json:"audio"`
	List          []calllist.Item `json:"call_list"`
}

type activeCallView struct {
	CallID     string `json:"call_id"`
	ProjectID  string `json:"project_id,omitempty"`
	Status     string `json:"status"`
	Provider   string `json:"provider,omitempty"`
	ListenURL  string `json:"listen_url,omitempty"`
	ControlURL string `json:"control_url,omitempty"`
}

type audioView struct {
	Connected bool    `json:"connected"`
	Volume    float64 `json:"volume"`
}

func stateResponse(s *dialer.Session) dialerStateResponse {
	st := s.Snapshot()
	out := dialerStateResponse{
		Phase:         string(st.Phase),
		Active:        st.Active,
		Cursor:        st.Cursor,
		UserStopped:   st.UserStopped,
		ListenEnabled: st.ListenEnabled,
		CanEndCall:    st.CanEndCall(),
		Audio:         audioView{Connected: s.AudioConnected(), Volume: s.AudioVolume()},
		List:          st.List,
	}
	if st.HasActiveCall() {
		out.Call = &activeCallView{
			CallID:     st.ActiveCallID,
			ProjectID:  st.ActiveProjectID,
			Status:     string(st.CallStatus),
			Provider:   string(st.Provider),
			ListenURL:  st.ListenURL,
			ControlURL: st.ControlURL,
		}
	}
	return out
}

func (h Handlers) StartDialer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.StartDialer(c.Request.Context()); err != nil {
		h.upstreamError(c, err, "dialer start failed")
		return
	}
	c.JSON(http.StatusOK, stateResponse(s))
}

func (h Handlers) StopDialer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.StopDialer()
	c.JSON(http.StatusOK, stateResponse(s))
}

func (h Handlers) EndCurrentCall(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.EndCurrentCall()
	c.JSON(http.StatusOK, stateResponse(s))
}

type listenRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h Handlers) SetListen(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req listenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
		return
	}
	s.SetListen(*req.Enabled)
	c.JSON(http.StatusOK, stateResponse(s))
}

func (h Handlers) GetDialerState(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stateResponse(s))
}

func (h Handlers) GetJournal(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	entries, err := h.Journal.ListByUser(c.Request.Context(), userID, 100)
	if err != nil {
		logger.FromGin(c).Error("journal read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// --- Call list ---

func (h Handlers) GetCallList(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	items, err := s.ListItems(c.Request.Context())
	if err != nil {
		h.upstreamError(c, err, "call-list read failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type addToListRequest struct {
	ProjectIDs []string `json:"project_ids"`
}

func (h Handlers) AddToCallList(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req addToListRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.ProjectIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "project_ids required"})
		return
	}
	if err := s.AddToList(c.Request.Context(), req.ProjectIDs); err != nil {
		var addErr *calllist.AddError
		if errors.As(err, &addErr) {
			// The server applied the valid ids; surface the rejects.
			c.JSON(http.StatusMultiStatus, gin.H{"failed": addErr.Failed})
			return
		}
		h.upstreamError(c, err, "call-list add failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) RemoveFromCallList(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	projectID := c.Param("project_id")
	if projectID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "project_id required"})
		return
	}
	if err := s.RemoveFromList(c.Request.Context(), projectID); err != nil {
		h.upstreamError(c, err, "call-list remove failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ClearCallList(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ClearList(c.Request.Context()); err != nil {
		h.upstreamError(c, err, "call-list clear failed")
		return
	}
	c.Status(http.StatusNoContent)
}

type markCompletedRequest struct {
	Completed *bool `json:"completed"`
}

func (h Handlers) MarkCallCompleted(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	projectID := c.Param("project_id")
	var req markCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Completed == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "completed required"})
		return
	}
	if err := s.MarkCompleted(c.Request.Context(), projectID, *req.Completed); err != nil {
		h.upstreamError(c, err, "call-list update failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Tenant ---

type companyNameRequest struct {
	CompanyName string `json:"company_name"`
}

// SetTenantCompanyName records the tenant's company name hint forwarded to
// the voice agent on each placed call.
func (h Handlers) SetTenantCompanyName(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant required"})
		return
	}
	var req companyNameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CompanyName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "company_name required"})
		return
	}
	if err := h.Tenants.SetCompanyName(c.Request.Context(), tenantID, req.CompanyName); err != nil {
		logger.FromGin(c).Error("tenant hint write failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "hint store unavailable"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Projects ---

func (h Handlers) GetProjects(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	projs, err := s.Projects(c.Request.Context())
	if err != nil {
		h.upstreamError(c, err, "projects read failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": projs})
}

func (h Handlers) GetProject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	p, err := s.Project(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.upstreamError(c, err, "project read failed")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) upstreamError(c *gin.Context, err error, msg string) {
	if errors.Is(err, voiceagent.ErrUnauthenticated) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "upstream rejected credentials"})
		return
	}
	logger.FromGin(c).Error(msg, "err", err)
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": msg})
}
