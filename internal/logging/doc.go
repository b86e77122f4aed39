// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

// Package logging provides centralized zerolog-based structured logging for callsync.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("feed", "basic").Msg("Call history sync enabled")
//	logging.Error().Err(err).Msg("Backend fetch failed")
//
// Each fetch/reconcile cycle runs under a correlation ID:
//
//	ctx = logging.ContextWithNewCorrelationID(ctx)
//	logging.Ctx(ctx).Debug().Int("server_records", n).Msg("Parsed payload")
//
// # Adapters
//
// Two adapters route third-party logging into zerolog:
//
//   - SlogHandler / NewSlogLogger: slog.Handler used by sutureslog for
//     supervisor lifecycle events
//   - WatermillAdapter: watermill.LoggerAdapter used by the gochannel event bus
//
// # Configuration
//
// Level and format come from the logging section of internal/config
// (LOG_LEVEL, LOG_FORMAT, LOG_CALLER).
package logging
