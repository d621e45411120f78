package factory

import "github.com/matteocacciola/cheshirecat-core/pkg/models"

// CoreContributions lists the built-in constructors. The catalog rebuilds
// the registry from these plus whatever enabled plugins contribute.
func CoreContributions() []Contribution {
	core := func(kind models.ComponentKind, name string, ctor Constructor) Contribution {
		return Contribution{Kind: kind, Name: name, Owner: "core", Constructor: ctor}
	}
	return []Contribution{
		core(models.KindVectorDatabase, "embedded", NewEmbeddedStore),
		core(models.KindVectorDatabase, "qdrant", NewQdrantStore),
		core(models.KindVectorDatabase, "chromem", NewChromemStore),
		core(models.KindVectorDatabase, "pgvector", NewPgvectorStore),

		core(models.KindChunker, "recursive", NewRecursiveChunker),
		core(models.KindChunker, "token", NewTokenChunker),

		core(models.KindFileManager, "local", NewLocalFileManager),
		core(models.KindFileManager, "memory", NewMemoryFileManager),

		core(models.KindLLM, "openai", NewOpenAILLM),
		core(models.KindLLM, "anthropic", NewAnthropicLLM),
		core(models.KindLLM, "echo", NewEchoLLM),

		core(models.KindAuthHandler, "core", NewCoreAuthHandler),
		core(models.KindAuthHandler, "allow-all", NewAllowAllAuthHandler),

		core(models.KindEmbedder, "hash", NewHashEmbedder),
		core(models.KindEmbedder, "openai", NewOpenAIEmbedder),
	}
}

// DefaultSelections maps every component kind to the implementation a
// tenant gets when its configuration names none.
func DefaultSelections() map[models.ComponentKind]string {
	return map[models.ComponentKind]string{
		models.KindVectorDatabase: "embedded",
		models.KindChunker:        "recursive",
		models.KindFileManager:    "memory",
		models.KindLLM:            "echo",
		models.KindAuthHandler:    "allow-all",
		models.KindEmbedder:       "hash",
	}
}
