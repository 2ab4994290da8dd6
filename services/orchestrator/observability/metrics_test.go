// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_RecordsRouteAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewHTTPMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/health", "/nope"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/health", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unmatched", "GET", "404")))
}

func TestRecordHelpers(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())

	m.RecordAnswer("approve", "blocking")
	m.RecordAnswer("revise", "blocking")
	m.RecordAnswer("revise", "blocking")
	m.RecordError(ErrorCodeUpstream)
	m.StreamStarted()
	m.StreamStarted()
	m.StreamEnded()
	m.KnowledgeReloaded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeReloads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnswersTotal.WithLabelValues("approve", "blocking")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AnswersTotal.WithLabelValues("revise", "blocking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("upstream_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *HTTPMetrics
	assert.NotPanics(t, func() {
		m.RecordAnswer("approve", "blocking")
		m.RecordError(ErrorCodeInternal)
		m.StreamStarted()
		m.StreamEnded()
		m.KnowledgeReloaded()
	})
}
