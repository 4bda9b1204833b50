// Package vectorstore provides vector storage for strategy memories and
// knowledge corpora.
//
// Two backends implement the Store interface:
//
//   - ChromemStore: embedded chromem-go persistence on the local
//     filesystem. The default; a single binary needs no external
//     services.
//   - QdrantStore: an external Qdrant server over gRPC, for deployments
//     that share one vector database across replicas.
//
// Both stores embed document text through an injected Embedder before
// writing, and serve multiple named collections (strategy memories plus
// the theory and literature corpora). Collection names are restricted
// to ^[a-z0-9_]{1,64}$.
//
// Use NewStoreFromProvider to construct a store from configuration:
//
//	store, err := vectorstore.NewStoreFromProvider("chromem",
//		&vectorstore.ChromemConfig{Path: dataDir}, nil, embedder, logger)
package vectorstore
