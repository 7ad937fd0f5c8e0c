// Package server wires the filegate HTTP server.
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Resolve the gateway root and archive options
//  4. Setup HTTP routes and middleware
//  5. Start HTTP server
//  6. Graceful shutdown when the run context is cancelled
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
