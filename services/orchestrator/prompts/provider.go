// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts serves the per-advisor system prompts. Defaults are
// baked into the binary; an optional directory overrides them per file
// and is hot-reloaded, so prompt tuning never needs a restart.
package prompts

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Advisor names double as override file names (<name>.txt).
const (
	StateSelector     = "state_selector"
	ResponseGenerator = "response_generator"
	MasterDecider     = "master_decider"
)

//go:embed defaults/*.txt
var promptDefaults embed.FS

var advisors = []string{StateSelector, ResponseGenerator, MasterDecider}

// Provider resolves the current system prompt per advisor.
//
// # Thread Safety
//
//	Get may be called from any goroutine; reloads take the write lock.
type Provider struct {
	mu       sync.RWMutex
	current  map[string]string
	defaults map[string]string

	dir      string
	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewProvider loads the embedded defaults and, when dir is non-empty,
// overlays <dir>/<advisor>.txt files and watches the directory for
// changes. An unreadable override logs a warning and keeps the default.
func NewProvider(dir string) (*Provider, error) {
	p := &Provider{
		current:  make(map[string]string, len(advisors)),
		defaults: make(map[string]string, len(advisors)),
		dir:      dir,
		done:     make(chan struct{}),
	}

	for _, name := range advisors {
		raw, err := promptDefaults.ReadFile("defaults/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("prompts: embedded default for %s missing: %w", name, err)
		}
		p.defaults[name] = string(raw)
		p.current[name] = string(raw)
	}

	if dir == "" {
		return p, nil
	}

	for _, name := range advisors {
		p.loadOverride(name)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("prompts: watch %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("prompts: watch %s: %w", dir, err)
	}
	p.watcher = watcher
	go p.watchLoop()

	return p, nil
}

// Get returns the current prompt for the advisor, or "" for an unknown
// name.
func (p *Provider) Get(advisor string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current[advisor]
}

// Close stops the directory watcher. Safe to call more than once.
func (p *Provider) Close() {
	p.stopOnce.Do(func() {
		close(p.done)
		if p.watcher != nil {
			_ = p.watcher.Close()
		}
	})
}

func (p *Provider) watchLoop() {
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleEvent(event)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("prompt_watch_error", "dir", p.dir, "error", err)
		}
	}
}

func (p *Provider) handleEvent(event fsnotify.Event) {
	name := strings.TrimSuffix(filepath.Base(event.Name), ".txt")
	if !isAdvisor(name) {
		return
	}
	switch {
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		p.loadOverride(name)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		p.mu.Lock()
		p.current[name] = p.defaults[name]
		p.mu.Unlock()
		slog.Info("prompt_reverted", "advisor", name)
	}
}

func (p *Provider) loadOverride(name string) {
	path := filepath.Join(p.dir, name+".txt")
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("prompt_override_unreadable", "advisor", name, "path", path, "error", err)
		}
		return
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		slog.Warn("prompt_override_empty", "advisor", name, "path", path)
		return
	}
	p.mu.Lock()
	p.current[name] = text
	p.mu.Unlock()
	slog.Info("prompt_reloaded", "advisor", name, "path", path)
}

func isAdvisor(name string) bool {
	for _, a := range advisors {
		if a == name {
			return true
		}
	}
	return false
}
