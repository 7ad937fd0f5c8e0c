/*
Package middleware provides HTTP middleware for the gateway API.

# Features

  - CORS: cross-origin requests, with download headers exposed
  - Rate Limiting: per-IP token buckets with idle eviction
  - Logging: one structured zap line per request
  - Recovery: handler panics become 500 responses

# Usage

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
*/
package middleware
