// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines optional hooks around the answer pipeline.
//
// The service works without any of them. Deployments that need an audit
// trail inject an implementation through Options; everything else gets the
// no-op default.
//
// # Usage
//
//	opts := extensions.DefaultOptions()
//	opts = opts.WithAudit(extensions.NewMemoryAuditLogger(500))
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// Options groups the extension points.
type Options struct {
	// AuditLogger records one event per answered request.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns no-op implementations for every extension point.
func DefaultOptions() Options {
	return Options{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAudit returns a copy of opts using logger. A nil logger keeps the
// no-op default.
func (opts Options) WithAudit(logger AuditLogger) Options {
	if logger == nil {
		logger = &NopAuditLogger{}
	}
	opts.AuditLogger = logger
	return opts
}
