package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/handlers"
	"github.com/huangang/contractorhub/backend/internal/metrics"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.RequestContext())
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.CORS())

	// Public endpoints that take credentials or tokens are throttled per IP
	limiter := middleware.NewRateLimiter(svc.cfg.RateLimit.RPS, svc.cfg.RateLimit.Burst)

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics())

	// Links signed by the in-process store point back at this server
	if svc.signedObjectHandler != nil {
		r.GET(handlers.SignedObjectRoute, svc.signedObjectHandler.Serve)
	}

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", limiter.Middleware(), svc.authHandler.Login)
			auth.POST("/refresh", limiter.Middleware(), svc.authHandler.Refresh)
		}

		// Invitation links are opened by people without an account yet
		team := api.Group("/team", limiter.Middleware())
		{
			team.GET("/invitations/:token", svc.teamHandler.PreviewInvitation)
			team.POST("/accept-invitation/:token", middleware.OptionalAuth(), svc.teamHandler.AcceptInvitation)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.Me)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			contractor := protected.Group("/contractor")
			{
				contractor.GET("/team-members", svc.teamHandler.ListMembers)
				contractor.POST("/invite-team-member", svc.teamHandler.Invite)
				contractor.PATCH("/update-permissions", svc.teamHandler.UpdatePermissions)
				contractor.PATCH("/transfer-ownership", svc.teamHandler.TransferOwnership)
				contractor.DELETE("/delete-member", svc.teamHandler.DeleteMember)

				contractor.GET("/team-invitations", svc.teamHandler.ListInvitations)
				contractor.DELETE("/team-invitations/:id", svc.teamHandler.RevokeInvitation)
				contractor.POST("/team-invitations/:id/resend", svc.teamHandler.ResendInvitation)

				contractor.GET("/join-requests", svc.joinRequestHandler.List)
				contractor.POST("/join-requests/:id/approve", svc.joinRequestHandler.Approve)
				contractor.POST("/join-requests/:id/reject", svc.joinRequestHandler.Reject)
			}

			protected.GET("/companies", svc.companyHandler.Directory)
			protected.POST("/join-requests", limiter.Middleware(), svc.joinRequestHandler.Submit)
			protected.GET("/join-requests/mine", svc.joinRequestHandler.ListMine)

			protected.POST("/applications", svc.applicationHandler.Create)
			protected.GET("/applications", svc.applicationHandler.List)
			protected.GET("/applications/:id", svc.applicationHandler.Get)

			protected.GET("/documents/:id/download", svc.documentHandler.Download)
			protected.GET("/documents/:id/url", svc.documentHandler.SignedURL)
			protected.DELETE("/documents/:id", svc.documentHandler.Delete)

			admin := protected.Group("")
			admin.Use(middleware.AdminRequired(), middleware.AuditLog())
			{
				admin.POST("/admin/companies", svc.companyHandler.Create)

				admin.GET("/system-logs", svc.systemLogHandler.List)
				admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)

				admin.GET("/system-config", svc.systemConfigHandler.List)
				admin.PUT("/system-config", svc.systemConfigHandler.Update)
			}
		}
	}
}
