// Package model defines the provider‑agnostic abstractions and concrete
// helpers for calling text-generation providers from the decide stage.
//
// Core goals:
//   - A single synchronous Generate call per attempt, bounded by ctx
//   - Optional strict response schema, mapped onto each vendor's native
//     structured-output mechanism
//   - Lightweight scripted mocking for tests (MockModel)
//
// Providers (OpenAI-compatible hosts, Anthropic, Gemini) implement the Model
// interface in sub-packages so the pipeline stays decoupled from vendor SDKs.
package model
