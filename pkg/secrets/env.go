// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MinMlockLimitKB is the minimum RLIMIT_MEMLOCK (in KB) needed to
	// hold the orchestrator's secrets plus memguard's internal pages.
	MinMlockLimitKB = 64

	// insecureMemoryEnv acknowledges running without mlocked memory.
	insecureMemoryEnv = "OTTO_INSECURE_MEMORY"
)

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// Environment Provider
// =============================================================================

// EnvProvider reads secrets from environment variables at construction
// and keeps them in memguard locked buffers: mlocked (never swapped),
// guard-paged, wiped on Close.
//
// # Description
//
// When the system's RLIMIT_MEMLOCK is too low for locked buffers, the
// provider refuses to start unless OTTO_INSECURE_MEMORY=true, in which
// case it falls back to ordinary heap storage with a loud warning.
//
// # Thread Safety
//
// Safe for concurrent reads after construction. Close must not race
// with Secret.
type EnvProvider struct {
	locked   map[string]*memguard.LockedBuffer
	insecure map[string][]byte
	closed   bool
	mu       sync.Mutex
}

// DefaultEnvMapping maps secret names to the orchestrator's environment
// variables.
func DefaultEnvMapping() map[string]string {
	return map[string]string{
		WebhookSecret: "WHATSAPP_WEBHOOK_SECRET",
		VerifyToken:   "WHATSAPP_VERIFY_TOKEN",
		UserKeyPepper: "USER_KEY_PEPPER",
		OpenAIAPIKey:  "OPENAI_API_KEY",
	}
}

// NewEnvProvider reads every mapped environment variable and stores the
// non-empty values. Unset variables are simply absent from the provider;
// callers enforce their own presence requirements.
//
// # Inputs
//
//   - mapping: secret name to environment variable name
//
// # Outputs
//
//   - *EnvProvider: ready for use; callers must Close it on shutdown
//   - error: non-nil when secure memory is unavailable and the insecure
//     fallback was not acknowledged
func NewEnvProvider(mapping map[string]string) (*EnvProvider, error) {
	initMemguard()

	p := &EnvProvider{}

	if mlockSufficient {
		p.locked = make(map[string]*memguard.LockedBuffer, len(mapping))
	} else {
		if os.Getenv(insecureMemoryEnv) != "true" {
			return nil, fmt.Errorf(
				"mlock limit insufficient: have %d KB, need %d KB. "+
					"Raise RLIMIT_MEMLOCK or set %s=true",
				currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
			)
		}
		slog.Warn("SECURITY: holding secrets in unlocked memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", insecureMemoryEnv+"=true",
		)
		p.insecure = make(map[string][]byte, len(mapping))
	}

	for name, envVar := range mapping {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if p.locked != nil {
			// NewBufferFromBytes wipes its input after moving it.
			p.locked[name] = memguard.NewBufferFromBytes([]byte(value))
		} else {
			p.insecure[name] = []byte(value)
		}
	}

	return p, nil
}

// Secret returns the named secret, or ok=false when it was not set.
func (p *EnvProvider) Secret(name string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	if p.locked != nil {
		buf, ok := p.locked[name]
		if !ok {
			return nil, false
		}
		return buf.Bytes(), true
	}
	v, ok := p.insecure[name]
	if !ok {
		return nil, false
	}
	return v, true
}

// Close destroys every locked buffer and purges memguard's session.
func (p *EnvProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	for _, buf := range p.locked {
		buf.Destroy()
	}
	p.locked = nil

	for _, v := range p.insecure {
		for i := range v {
			v[i] = 0
		}
	}
	p.insecure = nil

	memguard.Purge()
}

var _ Provider = (*EnvProvider)(nil)

// =============================================================================
// Initialization
// =============================================================================

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit reports whether RLIMIT_MEMLOCK can hold the secret
// buffers. A limit of -1 means unlimited.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}
