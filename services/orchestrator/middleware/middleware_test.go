// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	t.Run("generated", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/", nil)
		_, err := uuid.Parse(w.Body.String())
		require.NoError(t, err)
		assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/", http.Header{RequestIDHeader: {"abc-123"}})
		assert.Equal(t, "abc-123", w.Body.String())
	})

	t.Run("oversized replaced", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/", http.Header{RequestIDHeader: {strings.Repeat("x", 500)}})
		assert.Len(t, w.Body.String(), 36)
	})
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"*"}))
		router.POST("/api/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(router, http.MethodPost, "/api/chat", http.Header{"Origin": {"https://example.com"}})
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
	})

	t.Run("allow list", func(t *testing.T) {
		router := gin.New()
		router.Use(CORS([]string{"https://app.example.com"}))
		router.POST("/api/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(router, http.MethodPost, "/api/chat", http.Header{"Origin": {"https://app.example.com"}})
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

		w = serve(router, http.MethodPost, "/api/chat", http.Header{"Origin": {"https://evil.example.com"}})
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimit(t *testing.T) {
	rejected := 0
	router := gin.New()
	router.Use(RequestID(), RateLimit(1, 2, func() { rejected++ }))
	router.POST("/v1/answer", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.OPTIONS("/v1/answer", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(router, http.MethodPost, "/v1/answer", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, rejected)

	// Preflight is never limited.
	assert.Equal(t, http.StatusOK, serve(router, http.MethodOptions, "/v1/answer", nil).Code)

	w := serve(router, http.MethodPost, "/v1/answer", nil)
	assert.Contains(t, w.Body.String(), `"code":"rate_limited"`)
}

func TestRateLimit_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(0, 0, nil))
	router.POST("/v1/answer", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/v1/answer", nil).Code)
	}
}
