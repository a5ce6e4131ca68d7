// Package handlers holds the HTTP building blocks the API server
// composes: health probes, admin authentication, and generic
// middleware.
//
// Health checks aggregate named dependency probes. Probes run in
// parallel under a shared timeout so one slow dependency cannot stall
// the probe response:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("database", handlers.NewPingCheck(db))
//	checker.AddCheck("content_api", handlers.NewReachabilityCheck(contentClient))
//	checker.SetDegradedFunc(pipeline.Degraded)
//	status := checker.Check(ctx)
//
// Degraded mode is reported in the status but never fails the check:
// the engine keeps serving estimates from the Bayesian tracer alone
// while the sequence model is down.
//
// Middleware composes through ChainHandler, which applies the listed
// middleware outermost-first:
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", adminKeys)
//	h := handlers.ChainHandler(mux,
//		handlers.SecurityHeadersMiddleware,
//		handlers.TimeoutMiddleware(30*time.Second),
//		auth.Middleware,
//	)
package handlers
