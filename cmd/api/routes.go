package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roofline/internal/config"
	"roofline/internal/httpapi"
	"roofline/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// AUTH routes (token issuance for local development).
	if !cfg.IsProduction() {
		r.POST("/v1/auth/login", h.Login)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireTenant())
	{
		// DIALER routes: the power-dialer coordinator per user.
		dialerGroup := v1.Group("/dialer")
		dialerGroup.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin))
		{
			dialerGroup.POST("/start", h.StartDialer)
			dialerGroup.POST("/stop", h.StopDialer)
			dialerGroup.POST("/end-call", h.EndCurrentCall)
			dialerGroup.POST("/listen", h.SetListen)
			dialerGroup.GET("/state", h.GetDialerState)
			dialerGroup.GET("/journal", h.GetJournal)
		}

		// CALL LIST routes
		list := v1.Group("/call-list")
		list.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin))
		{
			list.GET("", h.GetCallList)
			list.POST("/add", h.AddToCallList)
			list.DELETE("", h.ClearCallList)
			list.DELETE("/:project_id", h.RemoveFromCallList)
			list.PATCH("/:project_id/completed", h.MarkCallCompleted)
		}

		// TENANT routes (admin-managed hints)
		tenantGroup := v1.Group("/tenant")
		tenantGroup.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			tenantGroup.PUT("/company-name", h.SetTenantCompanyName)
		}

		// PROJECT routes (read-only CRM mirror)
		projects := v1.Group("/projects")
		projects.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAdmin, rbac.RoleViewer))
		{
			projects.GET("", h.GetProjects)
			projects.GET("/:id", h.GetProject)
		}
	}
}
