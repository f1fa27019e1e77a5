// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package relay glues configuration to a runnable application.
//
// [Run] reads config sources into a typed config, hands it to an
// [AppBuilder] and runs the resulting [App]. Package
// [github.com/z5labs/relay/server] provides the HTTP and WebSocket
// server most apps run, with plugins contributing routes through
// scoped registrations.
package relay
