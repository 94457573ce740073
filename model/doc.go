// Package model defines the provider-agnostic model abstraction used by the
// evaluation adapter, plus a ModelAdapter that scores a model against
// reference answers batch by batch.
//
// Providers (OpenAI, Anthropic) implement the Model interface in their own
// sub-packages so the loop and adapter stay decoupled from vendor SDKs.
// MockModel provides deterministic canned answers for tests.
package model
