// Package retrieval stores and ranks repository snippets for prompt context.
//
// A Store holds chunked file contents indexed by vector similarity. Two
// backends are provided: chromem-go (embedded, default) and Qdrant (external,
// gRPC). Embeddings come from a local ONNX model via fastembed (CGO builds)
// or a TEI-style HTTP service. The Indexer fills a store from a git work
// tree. When retrieval is not configured a NoopStore stands in, so callers
// are never nil-checked.
package retrieval
