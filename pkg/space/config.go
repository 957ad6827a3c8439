// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package space loads and validates the static space configuration: the
// space identity plus the participants, their authentication tokens, their
// initial capabilities, and their routing preferences.
//
// The configuration is read once at startup and is immutable afterwards;
// runtime capability mutations live in the capability registry only.
package space

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/patterns"
)

// Participant types. Informative only; the gateway treats all types alike.
const (
	TypeHuman  = "human"
	TypeAgent  = "agent"
	TypeBridge = "bridge"
)

// Routing preferences.
const (
	// RoutingAll receives broadcasts and envelopes addressed to the participant.
	RoutingAll = "all"
	// RoutingDirected receives only envelopes addressed to the participant,
	// plus gateway presence traffic.
	RoutingDirected = "directed"
)

// Config is one space's static configuration.
type Config struct {
	Space        Info                   `yaml:"space"`
	Participants map[string]Participant `yaml:"participants"`
}

// Info identifies the space.
type Info struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// Participant is one statically configured member of the space.
type Participant struct {
	// Tokens are the bearer tokens that authenticate as this participant.
	Tokens []string `yaml:"tokens"`
	// Capabilities is the initial capability set loaded at join.
	Capabilities []patterns.Spec `yaml:"capabilities"`
	// Type is informative: human, agent or bridge.
	Type string `yaml:"type,omitempty"`
	// AutoStart belongs to the process-supervision tooling; the gateway
	// carries it through without acting on it.
	AutoStart bool `yaml:"auto_start,omitempty"`
	// Routing is the delivery preference, "all" (default) or "directed".
	Routing string `yaml:"routing,omitempty"`
}

// Load reads and validates a space configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read space configuration: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a space configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse space configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration. Capability patterns are compiled here
// so malformed globs and regexes fail at load time, not during routing.
func (c *Config) Validate() error {
	if c.Space.ID == "" {
		return fmt.Errorf("space.id is required")
	}
	if len(c.Participants) == 0 {
		return fmt.Errorf("at least one participant is required")
	}

	seenTokens := make(map[string]string)
	for id, p := range c.Participants {
		if id == "" {
			return fmt.Errorf("participant id cannot be empty")
		}
		if len(p.Tokens) == 0 {
			return fmt.Errorf("participant %q: at least one token is required", id)
		}
		for _, token := range p.Tokens {
			if token == "" {
				return fmt.Errorf("participant %q: empty token", id)
			}
			if other, dup := seenTokens[token]; dup {
				return fmt.Errorf("participant %q: token already assigned to %q", id, other)
			}
			seenTokens[token] = id
		}

		switch p.Type {
		case "", TypeHuman, TypeAgent, TypeBridge:
		default:
			return fmt.Errorf("participant %q: unknown type %q", id, p.Type)
		}
		switch p.Routing {
		case "", RoutingAll, RoutingDirected:
		default:
			return fmt.Errorf("participant %q: unknown routing preference %q", id, p.Routing)
		}

		for _, spec := range p.Capabilities {
			if _, err := patterns.Compile(spec); err != nil {
				return fmt.Errorf("participant %q: %w", id, err)
			}
		}
	}
	return nil
}

// Authenticate resolves a bearer token to a participant id.
func (c *Config) Authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for id, p := range c.Participants {
		for _, t := range p.Tokens {
			if t == token {
				return id, true
			}
		}
	}
	return "", false
}

// RoutingFor returns the effective routing preference for a participant.
func (c *Config) RoutingFor(id string) string {
	p, ok := c.Participants[id]
	if !ok || p.Routing == "" {
		return RoutingAll
	}
	return p.Routing
}
