// Package agents detects locally installed coding agents so session
// registration can prefill agent type and capabilities.
package agents

import (
	"os"
	"os/exec"
	"path/filepath"
)

// DetectedAgent describes one locally installed agent tool.
type DetectedAgent struct {
	AgentType    string   `json:"agent_type"`
	Name         string   `json:"name"`
	Path         string   `json:"path,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// probe describes how to find one known agent tool.
type probe struct {
	agentType    string
	name         string
	binaries     []string
	paths        []string
	capabilities []string
}

func knownProbes() []probe {
	home := os.Getenv("HOME")
	return []probe{
		{
			agentType:    "claude",
			name:         "Claude Code",
			binaries:     []string{"claude"},
			capabilities: []string{"code", "refactor", "test", "review"},
		},
		{
			agentType:    "aider",
			name:         "Aider",
			binaries:     []string{"aider"},
			capabilities: []string{"code", "refactor"},
		},
		{
			agentType: "cursor",
			name:      "Cursor",
			binaries:  []string{"cursor"},
			paths: []string{
				"/usr/local/bin/cursor",
				filepath.Join(home, ".local/bin/cursor"),
				"/Applications/Cursor.app",
			},
			capabilities: []string{"code", "review"},
		},
		{
			agentType:    "gemini",
			name:         "Gemini CLI",
			binaries:     []string{"gemini"},
			capabilities: []string{"code", "research"},
		},
		{
			agentType:    "codex",
			name:         "Codex CLI",
			binaries:     []string{"codex"},
			capabilities: []string{"code"},
		},
	}
}

// Detector scans for installed agent tools.
type Detector struct {
	probes []probe
}

// NewDetector creates a detector for the known agent tools.
func NewDetector() *Detector {
	return &Detector{probes: knownProbes()}
}

// Scan returns every agent tool found on this machine.
func (d *Detector) Scan() []DetectedAgent {
	var found []DetectedAgent
	for _, p := range d.probes {
		if agent := p.detect(); agent != nil {
			found = append(found, *agent)
		}
	}
	return found
}

// First returns the first detected agent, or nil when none is installed.
func (d *Detector) First() *DetectedAgent {
	for _, p := range d.probes {
		if agent := p.detect(); agent != nil {
			return agent
		}
	}
	return nil
}

func (p probe) detect() *DetectedAgent {
	for _, bin := range p.binaries {
		if path, err := exec.LookPath(bin); err == nil {
			return &DetectedAgent{AgentType: p.agentType, Name: p.name, Path: path, Capabilities: p.capabilities}
		}
	}
	for _, path := range p.paths {
		if _, err := os.Stat(path); err == nil {
			return &DetectedAgent{AgentType: p.agentType, Name: p.name, Path: path, Capabilities: p.capabilities}
		}
	}
	return nil
}
