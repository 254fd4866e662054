// Package fleet provides the core orchestration engine for running
// autonomous AI agents, multi-agent teams, and deterministic workflows
// against a pluggable fleet of tool and trigger providers.
//
// The engine sits between user-facing transports (out of scope here) and a
// heterogeneous pool of containerized tool providers. It guarantees
// bounded, observable, cancellable execution of long-running LLM-driven
// tasks.
//
// # Components
//
//   - catalog: in-memory directory of registered tool providers
//   - toolclient: uniform tool invocation surface with retry/backoff
//   - providers: tool/trigger provider install/start/stop/update lifecycle
//   - modelgateway: uniform LLM call surface across providers
//   - eventbus: per-execution typed progress event stream
//   - cancellation: per-execution cooperative cancellation tokens
//   - sessionstore: persisted conversation sessions
//   - reactagent: single-agent reason/act/observe loop
//   - teamcoord: sequential/parallel/collaborative team composition
//   - workflowengine: deterministic node-graph DAG executor
//   - orchestrator: entry-point facade wiring all of the above
package fleet
