// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the command-line interface for Pairmaster using Cobra.
// It loads configuration, opens the trust store and drives the pairing engine.
// CLI code stays thin: discovery, pairing and trust decisions live in
// internal/engine and the packages it wires.
package cli
