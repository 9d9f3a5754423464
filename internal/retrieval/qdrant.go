package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig configures the external Qdrant backend over gRPC.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the gRPC port (6334), not the HTTP REST port.
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// Collection is the collection name.
	Collection string

	// VectorSize must match the embedder's output dimension.
	VectorSize int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per retry. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize caps gRPC messages. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "sdlcd_default"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	return nil
}

// isTransient reports whether a gRPC error should be retried.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client. The gRPC
// transport avoids the HTTP layer's payload limits during bulk indexing.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantStore connects to Qdrant, health-checks the connection, and
// ensures the configured collection exists. The store owns the embedder and
// closes it on Close.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, insecure for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger.Named("retrieval.qdrant"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err == nil && info != nil {
		return nil
	}
	if err != nil {
		if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
			return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	s.logger.Info("created qdrant collection",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_size", s.config.VectorSize),
	)
	return nil
}

// retry runs op with exponential backoff on transient gRPC failures.
func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Add embeds and upserts snippets. Snippet IDs land in the payload; point
// IDs are UUIDs.
func (s *QdrantStore) Add(ctx context.Context, snippets []Snippet) error {
	if len(snippets) == 0 {
		return nil
	}

	texts := make([]string, len(snippets))
	for i, snip := range snippets {
		texts[i] = snip.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(snippets))
	for i, snip := range snippets {
		id := snip.ID
		if id == "" {
			id = fmt.Sprintf("snip_%d_%d", time.Now().UnixNano(), i)
		}

		// Qdrant point IDs must be UUIDs; the snippet ID rides in the
		// payload for retrieval.
		pointID := qdrant.NewIDUUID(uuid.New().String())
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			pointID = qdrant.NewIDUUID(id)
		}

		points[i] = &qdrant.PointStruct{
			Id:      pointID,
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: map[string]*qdrant.Value{
				"id":      {Kind: &qdrant.Value_StringValue{StringValue: id}},
				"path":    {Kind: &qdrant.Value_StringValue{StringValue: snip.Path}},
				"content": {Kind: &qdrant.Value_StringValue{StringValue: snip.Content}},
			},
		}
	}

	err = s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Debug("upserted snippets", zap.Int("count", len(snippets)))
	return nil
}

// Query returns up to topK snippets ranked by similarity to text.
func (s *QdrantStore) Query(ctx context.Context, text string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if text == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var results []*qdrant.ScoredPoint
	err = s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	snippets := make([]Snippet, len(results))
	for i, point := range results {
		snip := Snippet{Score: point.Score}
		for key, value := range point.Payload {
			sv, ok := value.Kind.(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			switch key {
			case "id":
				snip.ID = sv.StringValue
			case "path":
				snip.Path = sv.StringValue
			case "content":
				snip.Content = sv.StringValue
			}
		}
		snippets[i] = snip
	}
	return snippets, nil
}

// Count reports the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.retry(ctx, "count", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			return err
		}
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the gRPC connection and the owned embedder.
func (s *QdrantStore) Close() error {
	clientErr := s.client.Close()
	embErr := s.embedder.Close()
	if clientErr != nil {
		return clientErr
	}
	return embErr
}
