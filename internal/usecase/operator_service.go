package usecase

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

// OperatorService applies manual edits to advertisers. Every write goes
// through the same upsert path as the sync passes.
type OperatorService struct {
	records    *RecordService
	images     domain.ImageCache
	logoFolder string
	logger     *logger.Logger
}

func NewOperatorService(records *RecordService, images domain.ImageCache, logoFolder string, logger *logger.Logger) *OperatorService {
	if logoFolder == "" {
		logoFolder = "logos"
	}
	return &OperatorService{
		records:    records,
		images:     images,
		logoFolder: logoFolder,
		logger:     logger,
	}
}

// GetAdvertiser returns the stored advertiser or ErrNotFound
func (s *OperatorService) GetAdvertiser(ctx context.Context, network domain.Network, id string) (domain.Document, error) {
	key := domain.AdvertiserKey(network, id)
	doc, err := s.records.Get(ctx, domain.CollectionAdvertisers, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("advertiser %s: %w", key, domain.ErrNotFound)
	}
	return doc, nil
}

// UploadLogo stores an operator-supplied image and pins it as the logo
func (s *OperatorService) UploadLogo(ctx context.Context, network domain.Network, id string, data []byte, contentType string) (domain.Document, error) {
	existing, err := s.GetAdvertiser(ctx, network, id)
	if err != nil {
		return nil, err
	}
	stored, err := s.images.StoreBytes(ctx, data, s.logoFolder, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store logo: %w", err)
	}
	return s.apply(ctx, existing, domain.Document{
		domain.FieldLogoURL:        stored,
		domain.FieldStorageLogoURL: stored,
		domain.FieldIsManualLogo:   true,
	})
}

// ResetLogo clears the manual logo; the next sync resolves it again
func (s *OperatorService) ResetLogo(ctx context.Context, network domain.Network, id string) (domain.Document, error) {
	existing, err := s.GetAdvertiser(ctx, network, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, existing, domain.Document{
		domain.FieldLogoURL:        "",
		domain.FieldStorageLogoURL: "",
		domain.FieldIsManualLogo:   false,
	})
}

// SetDescription sets the description override; empty clears it
func (s *OperatorService) SetDescription(ctx context.Context, network domain.Network, id, description string) (domain.Document, error) {
	existing, err := s.GetAdvertiser(ctx, network, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, existing, domain.Document{
		domain.FieldManualDescription: strings.TrimSpace(description),
	})
}

// SetCategories pins categories against network updates
func (s *OperatorService) SetCategories(ctx context.Context, network domain.Network, id string, categories []string) (domain.Document, error) {
	normalized := domain.NormalizeCategories(categories)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: at least one category is required", domain.ErrInvalidOperation)
	}
	existing, err := s.GetAdvertiser(ctx, network, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, existing, domain.Document{
		domain.FieldCategories:       normalized,
		domain.FieldIsManualCategory: true,
	})
}

// ClearManualCategories lets the next sync overwrite categories again
func (s *OperatorService) ClearManualCategories(ctx context.Context, network domain.Network, id string) (domain.Document, error) {
	existing, err := s.GetAdvertiser(ctx, network, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, existing, domain.Document{
		domain.FieldIsManualCategory: false,
	})
}

// SetHomeLink overrides the advertiser's outbound link; empty clears it
func (s *OperatorService) SetHomeLink(ctx context.Context, network domain.Network, id, link string) (domain.Document, error) {
	link = strings.TrimSpace(link)
	if link != "" {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: home link must be an absolute http(s) URL", domain.ErrInvalidOperation)
		}
	}
	existing, err := s.GetAdvertiser(ctx, network, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, existing, domain.Document{
		domain.FieldCustomHomeLink: link,
	})
}

func (s *OperatorService) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.records.GetSettings(ctx)
}

// SetPausedNetworks replaces the set of networks full runs skip
func (s *OperatorService) SetPausedNetworks(ctx context.Context, networks []string) (domain.Settings, error) {
	var paused []string
	for _, name := range networks {
		n, err := domain.ParseNetwork(name)
		if err != nil {
			return domain.Settings{}, err
		}
		if !slices.Contains(paused, string(n)) {
			paused = append(paused, string(n))
		}
	}
	slices.Sort(paused)

	return s.records.UpdateSettings(ctx, func(settings *domain.Settings) {
		settings.PausedNetworks = paused
	})
}

func (s *OperatorService) apply(ctx context.Context, existing, fields domain.Document) (domain.Document, error) {
	candidate := domain.Document{
		domain.FieldNetwork:   existing.String(domain.FieldNetwork),
		domain.FieldNetworkID: existing.String(domain.FieldNetworkID),
	}
	for k, v := range fields {
		candidate[k] = v
	}

	result, err := s.records.UpsertKnown(ctx, domain.CollectionAdvertisers, candidate, existing)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"advertiser": result.Key,
		"status":     result.Status,
	}).Info("Operator update applied")

	return s.records.Get(ctx, domain.CollectionAdvertisers, result.Key)
}
