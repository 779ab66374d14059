// Package handlers contains HTTP health checks and reusable middleware.
//
// # Health Checks
//
// CompositeHealthChecker runs named checks in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.Register("database", handlers.PingCheck(db), handlers.WithDetail(db.Stats))
//	checker.Register("cache", handlers.PingCheck(cache))
//	checker.Register("renderer", handlers.NewRendererCheck(rendererClient), handlers.Advisory())
//
//	status := checker.Check(ctx)
//	if !status.Healthy {
//	    log.Printf("Health check failed: %s", status.Message)
//	}
//
// # Identity
//
// Learner identity is asserted by the gateway in front of the service and
// read from a header:
//
//	identity := handlers.NewUserIdentity("X-User-ID")
//	protected := identity.Middleware(myHandler)
//
//	userID, ok := handlers.UserIDFromContext(r.Context())
//
// # Middleware
//
//	handler := handlers.ChainHandler(
//	    myHandler,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.NoCacheMiddleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	    identity.Middleware,
//	)
package handlers
