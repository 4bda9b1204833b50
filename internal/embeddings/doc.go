// Package embeddings provides text-to-vector generation via multiple providers.
//
// Three backends are supported: FastEmbed (local ONNX inference, cgo builds
// only), remote (any OpenAI-compatible endpoint such as TEI or the OpenAI
// API), and hash (deterministic model-free vectors for tests and offline
// development). The factory selects a provider at runtime and detects the
// embedding dimension for common models.
//
// The experience store embeds items on insertion and the retriever embeds
// query text; both accept any Provider through the narrower interfaces they
// declare.
package embeddings
