// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guards

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/OttoOrchestrator/services/orchestrator/datatypes"
)

// linkPattern counts URL-looking tokens independently of the rule set.
var linkPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)`)

// SpamRule is one weighted group of patterns from the embedded rule
// file. A rule contributes its weight to the score at most once no
// matter how many of its patterns hit.
type SpamRule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Weight      float64  `yaml:"weight"`
	Patterns    []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

type spamRuleFile struct {
	Threshold      float64    `yaml:"threshold"`
	MaxLinks       int        `yaml:"max_links"`
	MaxRepeatedRun int        `yaml:"max_repeated_run"`
	Rules          []SpamRule `yaml:"rules"`
}

func (f *spamRuleFile) compile() error {
	for i := range f.Rules {
		rule := &f.Rules[i]
		if rule.Weight <= 0 {
			return fmt.Errorf("rule %q has non-positive weight %v", rule.ID, rule.Weight)
		}
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %q has no patterns", rule.ID)
		}
		for _, raw := range rule.Patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return fmt.Errorf("rule %q pattern %q: %w", rule.ID, raw, err)
			}
			rule.compiled = append(rule.compiled, re)
		}
	}
	return nil
}

// SpamVerdict reports one deterministic evaluation. Rules lists the
// ids that hit, heaviest first.
type SpamVerdict struct {
	Spam   bool
	Score  float64
	Reason string
	Rules  []string
}

// SpamFilter scores message text against the embedded rule set. The
// evaluation is a pure function of the text: no clock, no I/O, no
// per-sender state.
type SpamFilter struct {
	threshold      float64
	maxLinks       int
	maxRepeatedRun int
	rules          []SpamRule
}

// NewSpamFilter parses and compiles the embedded rule file.
func NewSpamFilter() (*SpamFilter, error) {
	return NewSpamFilterFromBytes(spamRuleData)
}

// NewSpamFilterFromBytes builds a filter from a caller-supplied rule
// file. Used by tests; production always runs the embedded rules.
func NewSpamFilterFromBytes(raw []byte) (*SpamFilter, error) {
	var file spamRuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("guards: unmarshal spam rules: %w", err)
	}
	if file.Threshold <= 0 {
		return nil, fmt.Errorf("guards: spam threshold must be positive, got %v", file.Threshold)
	}
	if file.MaxLinks <= 0 {
		return nil, fmt.Errorf("guards: max_links must be positive, got %d", file.MaxLinks)
	}
	if file.MaxRepeatedRun <= 0 {
		return nil, fmt.Errorf("guards: max_repeated_run must be positive, got %d", file.MaxRepeatedRun)
	}
	if err := file.compile(); err != nil {
		return nil, fmt.Errorf("guards: compile spam rules: %w", err)
	}
	sort.SliceStable(file.Rules, func(i, j int) bool {
		return file.Rules[i].Weight > file.Rules[j].Weight
	})
	return &SpamFilter{
		threshold:      file.Threshold,
		maxLinks:       file.MaxLinks,
		maxRepeatedRun: file.MaxRepeatedRun,
		rules:          file.Rules,
	}, nil
}

// Check evaluates one text. Empty text is clean.
func (f *SpamFilter) Check(text string) SpamVerdict {
	if text == "" {
		return SpamVerdict{}
	}

	if n := len(linkPattern.FindAllStringIndex(text, -1)); n > f.maxLinks {
		return SpamVerdict{Spam: true, Reason: ReasonTooManyLinks}
	}
	if longestRun(text) > f.maxRepeatedRun {
		return SpamVerdict{Spam: true, Reason: ReasonRepeatedRun}
	}

	verdict := SpamVerdict{}
	for i := range f.rules {
		rule := &f.rules[i]
		for _, re := range rule.compiled {
			if re.MatchString(text) {
				verdict.Score += rule.Weight
				verdict.Rules = append(verdict.Rules, rule.ID)
				break
			}
		}
	}
	if verdict.Score >= f.threshold {
		verdict.Spam = true
		verdict.Reason = ReasonSpamRules
	}
	return verdict
}

// CheckMessage evaluates the message's primary text: the body for text
// messages, the caption for media. Messages with neither are clean.
func (f *SpamFilter) CheckMessage(msg *datatypes.NormalizedMessage) SpamVerdict {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return f.Check(text)
}

// longestRun returns the longest streak of one repeated rune.
func longestRun(text string) int {
	var prev rune
	run, longest := 0, 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
