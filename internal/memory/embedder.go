package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// Backend converts text to fixed-width vectors. Backends are tried in
// preference order; the first one whose Available() holds serves the
// process for its lifetime.
type Backend interface {
	Name() string
	Available() bool
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingService resolves and caches the first available backend.
// "No backend available" is a degraded state, not an error: consumers
// fall back to keyword search.
type EmbeddingService struct {
	backends []Backend

	once   sync.Once
	active Backend // nil when no backend is available
}

// Embedders builds an embedding service over the given backends in
// preference order. With no arguments the default chain applies: the
// local Ollama server first, the OpenAI API second, subject to the
// ENGRAM_EMBEDDINGS override (ollama|openai|off).
func Embedders(backends ...Backend) *EmbeddingService {
	if len(backends) == 0 {
		backends = defaultBackends()
	}
	return &EmbeddingService{backends: backends}
}

func defaultBackends() []Backend {
	switch os.Getenv("ENGRAM_EMBEDDINGS") {
	case "ollama":
		return []Backend{NewOllamaBackend()}
	case "openai":
		return []Backend{NewOpenAIBackend()}
	case "off":
		return nil
	}
	return []Backend{NewOllamaBackend(), NewOpenAIBackend()}
}

// resolve picks the active backend on first use. sync.Once gives the
// double-checked discipline: an atomic done-flag read on the hot path,
// a mutex only on first resolution.
func (s *EmbeddingService) resolve() Backend {
	s.once.Do(func() {
		for _, b := range s.backends {
			if b.Available() {
				s.active = b
				log.Info("embedding backend selected", "backend", b.Name(), "dimensions", b.Dimensions())
				return
			}
		}
		log.Warn("no embedding backend available, semantic search disabled")
	})
	return s.active
}

// Available reports whether any backend resolved.
func (s *EmbeddingService) Available() bool {
	return s.resolve() != nil
}

// Name returns the active backend's name, or "none".
func (s *EmbeddingService) Name() string {
	if b := s.resolve(); b != nil {
		return b.Name()
	}
	return "none"
}

// Dimensions returns the active backend's vector width, or 0.
func (s *EmbeddingService) Dimensions() int {
	if b := s.resolve(); b != nil {
		return b.Dimensions()
	}
	return 0
}

// Embed converts text to a vector. Blank input and the no-backend
// state both return a nil vector without error.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	b := s.resolve()
	if b == nil {
		return nil, nil
	}
	return b.Embed(ctx, text)
}

// OllamaBackend embeds through a local Ollama server. Fast, free, and
// offline; preferred when the daemon is running.
type OllamaBackend struct {
	client *api.Client
	model  string
	dims   int
}

// NewOllamaBackend creates the Ollama backend from the environment
// (OLLAMA_HOST, ENGRAM_OLLAMA_MODEL; defaults localhost and
// nomic-embed-text).
func NewOllamaBackend() *OllamaBackend {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		client = nil
	}
	model := os.Getenv("ENGRAM_OLLAMA_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaBackend{client: client, model: model, dims: 768}
}

func (b *OllamaBackend) Name() string { return "ollama" }

func (b *OllamaBackend) Dimensions() int { return b.dims }

// Available pings the local server with a short deadline.
func (b *OllamaBackend) Available() bool {
	if b.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.client.Heartbeat(ctx) == nil
}

func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.Embed(ctx, &api.EmbedRequest{Model: b.model, Input: text})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: no embedding returned")
	}
	return resp.Embeddings[0], nil
}

// OpenAIBackend embeds through the OpenAI embeddings API. Heavier and
// paid; used when no local server is up but a key is configured.
type OpenAIBackend struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
	apiKey string
}

// NewOpenAIBackend creates the OpenAI backend from OPENAI_API_KEY.
func NewOpenAIBackend() *OpenAIBackend {
	key := os.Getenv("OPENAI_API_KEY")
	var client *openai.Client
	if key != "" {
		client = openai.NewClient(key)
	}
	return &OpenAIBackend{client: client, model: openai.AdaEmbeddingV2, dims: 1536, apiKey: key}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Available() bool { return b.apiKey != "" }

func (b *OpenAIBackend) Dimensions() int { return b.dims }

func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: b.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
