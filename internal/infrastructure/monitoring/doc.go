/*
Package monitoring provides metrics collection for the file gateway.

# Overview

Metrics live on a private Prometheus registry so tests and embedded servers
can create independent collectors. *Metrics implements the gateway's
Recorder interface.

# Features

- HTTP request metrics (latency, throughput, size) labelled by route
- Gateway operation counts by outcome kind, and durations
- Archive entries by result, archive bytes by format
- Upload bytes, temp cleanup failures, active archive jobs
- Go runtime, process and uptime metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	gw := filesystem.NewGateway(resolver, logger, opts).WithMetrics(metrics)
*/
package monitoring
