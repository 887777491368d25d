// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent holds the CampusFlow agent catalog.

# Overview

An agent is a named, declaratively configured worker: an ID, a set of
capabilities (the task types it accepts), the model that backs it and free-form
configuration such as a system prompt. Agents carry no behavior of their own;
the orchestrator runs every task through the same gated pipeline and uses the
definition only to pick the model and build the prompt.

# Core Types

  - Definition: the registered description of an agent. Validate enforces a
    non-empty ID and at least one non-blank capability.
  - Registry: the process-wide catalog. Registration persists through a Store
    before the in-memory index changes, so a failed write leaves the previous
    definition visible.
  - Store: the persistence contract the registry depends on; see
    agent/persistence for the gorm and in-memory implementations.

# Usage

	registry := agent.NewRegistry(store, logger)
	if _, err := registry.Load(ctx); err != nil {
	    return err
	}

	def, err := registry.Register(ctx, agent.Definition{
	    ID:           "essay-feedback",
	    Capabilities: []string{"essay_feedback"},
	    ModelName:    "gpt-4o-mini",
	})

Disabled agents stay listed and visible through Lookup; the orchestrator
refuses to execute them and answers AGENT_NOT_FOUND.

See the subpackages for the rest of the pipeline:
  - agent/orchestrator: task execution
  - agent/guardrails: governance and alignment gates
  - agent/memory: per-user context
  - agent/prompt: prompt rendering and input schemas
  - agent/performance: per-agent statistics
  - agent/persistence: task ledger and stores
*/
package agent
