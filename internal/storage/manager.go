package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"atelier/internal/domain"
)

// RoutingRule selects a provider for an artifact. The first matching rule
// wins; a rule with no predicates is the mandatory catch-all default.
type RoutingRule struct {
	Name         string
	ArtifactType domain.ArtifactType // empty matches any type
	MaxSize      int64               // 0 matches any size
	Provider     string
}

func (r RoutingRule) matches(artifactType domain.ArtifactType, size int64) bool {
	if r.ArtifactType != "" && r.ArtifactType != artifactType {
		return false
	}
	if r.MaxSize > 0 && size > r.MaxSize {
		return false
	}
	return true
}

func (r RoutingRule) isDefault() bool {
	return r.ArtifactType == "" && r.MaxSize == 0
}

// Config carries the manager's validation limits and routing table.
type Config struct {
	MaxArtifactSize     int64
	AllowedContentTypes []string
	Rules               []RoutingRule
}

// Manager routes validated artifact writes to one of several providers.
type Manager struct {
	providers map[string]Provider
	rules     []RoutingRule
	maxSize   int64
	allowed   map[string]struct{}
	logger    zerolog.Logger
}

// NewManager wires providers into a routing table. Every rule must name a
// registered provider and the table must end in a catch-all default.
func NewManager(cfg Config, providers []Provider, logger zerolog.Logger) (*Manager, error) {
	if cfg.MaxArtifactSize <= 0 {
		return nil, errors.New("storage: max artifact size must be positive")
	}
	if len(cfg.AllowedContentTypes) == 0 {
		return nil, errors.New("storage: content type allow-list is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("storage: at least one provider is required")
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	hasDefault := false
	for _, rule := range cfg.Rules {
		if _, ok := byName[rule.Provider]; !ok {
			return nil, fmt.Errorf("storage: rule %q routes to unknown provider %q", rule.Name, rule.Provider)
		}
		if rule.isDefault() {
			hasDefault = true
		}
	}
	if !hasDefault {
		return nil, errors.New("storage: routing table needs a catch-all default rule")
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[strings.ToLower(strings.TrimSpace(ct))] = struct{}{}
	}
	return &Manager{
		providers: byName,
		rules:     cfg.Rules,
		maxSize:   cfg.MaxArtifactSize,
		allowed:   allowed,
		logger:    logger,
	}, nil
}

// StoreRequest describes one artifact write.
type StoreRequest struct {
	ArtifactID   string
	TenantID     string
	BoardID      string // optional
	ArtifactType domain.ArtifactType
	ContentType  string
	Content      []byte
	Variant      string // defaults to "original"
}

// StoreArtifact validates the payload, derives a tenant-scoped key, picks a
// provider via the routing rules and delegates the write. Validation
// failures never reach a provider.
func (m *Manager) StoreArtifact(ctx context.Context, req StoreRequest) (*domain.ArtifactReference, error) {
	if req.ArtifactID == "" || req.TenantID == "" {
		return nil, fmt.Errorf("%w: artifact id and tenant id are required", domain.ErrArtifactValidation)
	}
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content", domain.ErrArtifactValidation)
	}
	if size := int64(len(req.Content)); size > m.maxSize {
		return nil, fmt.Errorf("%w: content size %d exceeds limit %d", domain.ErrArtifactValidation, size, m.maxSize)
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if _, ok := m.allowed[contentType]; !ok {
		return nil, fmt.Errorf("%w: content type %q is not allowed", domain.ErrArtifactValidation, req.ContentType)
	}
	sniffed := mimetype.Detect(req.Content)
	if !sameMediaFamily(contentType, sniffed.String()) {
		return nil, fmt.Errorf("%w: declared %q but content sniffs as %q", domain.ErrArtifactValidation, contentType, sniffed.String())
	}

	key := m.buildKey(req, extensionFor(contentType))
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	provider, err := m.route(req.ArtifactType, int64(len(req.Content)))
	if err != nil {
		return nil, err
	}

	url, err := provider.Upload(ctx, key, req.Content, contentType, map[string]string{
		"tenant_id":   req.TenantID,
		"artifact_id": req.ArtifactID,
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug().
		Str("provider", provider.Name()).
		Str("key", key).
		Int("size", len(req.Content)).
		Msg("storage: artifact stored")
	return &domain.ArtifactReference{
		ArtifactID:      req.ArtifactID,
		StorageKey:      key,
		StorageProvider: provider.Name(),
		StorageURL:      url,
		ContentType:     contentType,
		Size:            int64(len(req.Content)),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// buildKey derives tenant_id/artifact_type[/board_id]/artifactID_ts_uuid/variant.
func (m *Manager) buildKey(req StoreRequest, ext string) string {
	variant := req.Variant
	if variant == "" {
		variant = "original"
	}
	leaf := fmt.Sprintf("%s_%s_%s", req.ArtifactID, time.Now().UTC().Format("20060102T150405"), uuid.NewString())
	parts := []string{req.TenantID, string(req.ArtifactType)}
	if req.BoardID != "" {
		parts = append(parts, req.BoardID)
	}
	parts = append(parts, leaf, variant+ext)
	return path.Join(parts...)
}

func (m *Manager) route(artifactType domain.ArtifactType, size int64) (Provider, error) {
	for _, rule := range m.rules {
		if rule.matches(artifactType, size) {
			return m.providers[rule.Provider], nil
		}
	}
	// NewManager guarantees a default rule, so this is unreachable unless the
	// table was mutated after construction.
	return nil, errors.New("storage: no routing rule matched")
}

func (m *Manager) provider(name string) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("storage: unknown provider %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

// DownloadURL returns a time-limited URL for the object.
func (m *Manager) DownloadURL(ctx context.Context, key, providerName string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	p, err := m.provider(providerName)
	if err != nil {
		return "", err
	}
	return p.PresignDownload(ctx, key, ttl)
}

// UploadURL returns a presigned slot for a client-direct upload.
func (m *Manager) UploadURL(ctx context.Context, key, providerName, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	p, err := m.provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.PresignUpload(ctx, key, contentType, ttl)
}

// Download fetches the object bytes.
func (m *Manager) Download(ctx context.Context, key, providerName string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	p, err := m.provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.Download(ctx, key)
}

// DeleteArtifact removes the object and reports whether it existed.
func (m *Manager) DeleteArtifact(ctx context.Context, key, providerName string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	p, err := m.provider(providerName)
	if err != nil {
		return false, err
	}
	return p.Delete(ctx, key)
}

// Exists reports whether the object is present.
func (m *Manager) Exists(ctx context.Context, key, providerName string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	p, err := m.provider(providerName)
	if err != nil {
		return false, err
	}
	return p.Exists(ctx, key)
}

// Metadata returns object metadata without fetching bytes.
func (m *Manager) Metadata(ctx context.Context, key, providerName string) (*ObjectMetadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	p, err := m.provider(providerName)
	if err != nil {
		return nil, err
	}
	return p.Metadata(ctx, key)
}

// sameMediaFamily compares the top-level media family (image/, video/,
// audio/) of the declared and sniffed content types. Text-family artifacts
// are exempt: structured text sniffs as many concrete subtypes.
func sameMediaFamily(declared, sniffed string) bool {
	declaredFamily := mediaFamily(declared)
	switch declaredFamily {
	case "image", "video", "audio":
		return declaredFamily == mediaFamily(sniffed)
	default:
		return true
	}
}

func mediaFamily(contentType string) string {
	if i := strings.Index(contentType, "/"); i > 0 {
		return contentType[:i]
	}
	return contentType
}

func extensionFor(contentType string) string {
	if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	switch contentType {
	case "image/jpg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
