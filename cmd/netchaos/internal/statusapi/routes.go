// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statusapi serves the state of a running experiment over HTTP:
// liveness, Prometheus metrics, the current run (polled or streamed over a
// WebSocket) and past runs.
package statusapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/status"
)

// DefaultListLimit caps /v1/runs when no limit is given.
const DefaultListLimit = 20

// Source reports the current or most recent run; nil before the first.
type Source interface {
	Snapshot() *orchestrator.Outcome
}

// History reads past runs.
type History interface {
	List(limit int) ([]status.Report, error)
	Get(runID string) (status.Report, error)
}

// SetupRoutes registers every endpoint on router. history may be nil, in
// which case the /v1/runs endpoints answer 404.
func SetupRoutes(router *gin.Engine, src Source, gatherer prometheus.Gatherer, history History, stream StreamOptions) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.GET("/experiment", CurrentExperiment(src))
		v1.GET("/experiment/stream", StreamExperiment(src, stream))
		runs := v1.Group("/runs")
		{
			runs.GET("", ListRuns(history))
			runs.GET("/:runId", GetRun(history))
		}
	}
}

// HealthCheck answers liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CurrentExperiment returns the live snapshot of the running experiment.
func CurrentExperiment(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := src.Snapshot()
		if out == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no experiment has started"})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// ListRuns returns past runs, newest first. ?limit=N bounds the list.
func ListRuns(history History) gin.HandlerFunc {
	return func(c *gin.Context) {
		if history == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
			return
		}
		limit := DefaultListLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		reports, err := history.List(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if reports == nil {
			reports = []status.Report{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": reports})
	}
}

// GetRun returns one past run.
func GetRun(history History) gin.HandlerFunc {
	return func(c *gin.Context) {
		if history == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
			return
		}
		r, err := history.Get(c.Param("runId"))
		switch {
		case errors.Is(err, status.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, r)
		}
	}
}
