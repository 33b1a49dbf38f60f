package usecase

import (
	"context"
	"fmt"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

// AdvertiserPolicy turns a freshly fetched advertiser into the candidate
// document for its upsert, resolving logo and categories against the
// stored record
type AdvertiserPolicy struct {
	images     domain.ImageCache
	brands     domain.BrandLookup
	logoFolder string
	logger     *logger.Logger
}

// NewAdvertiserPolicy accepts a nil brand lookup, which disables the
// fallback
func NewAdvertiserPolicy(images domain.ImageCache, brands domain.BrandLookup, logoFolder string, logger *logger.Logger) *AdvertiserPolicy {
	if logoFolder == "" {
		logoFolder = "logos"
	}
	return &AdvertiserPolicy{
		images:     images,
		brands:     brands,
		logoFolder: logoFolder,
		logger:     logger,
	}
}

// Candidate builds the upsert candidate for adv. existing is the stored
// record or nil; quota bounds brand lookups for the current run.
func (p *AdvertiserPolicy) Candidate(ctx context.Context, adv domain.Advertiser, existing domain.Document, quota *domain.LookupQuota) (domain.Document, error) {
	doc, err := adv.ToDocument()
	if err != nil {
		return nil, fmt.Errorf("failed to convert advertiser %s: %w", adv.Key(), err)
	}

	p.resolveCategories(doc, adv, existing)
	p.resolveLogo(ctx, doc, adv, existing, quota)
	return doc, nil
}

// Network categories win when present. An empty payload or a manual
// override keeps what is stored.
func (p *AdvertiserPolicy) resolveCategories(doc domain.Document, adv domain.Advertiser, existing domain.Document) {
	if existing == nil {
		return
	}
	if existing.Bool(domain.FieldIsManualCategory) {
		delete(doc, domain.FieldCategories)
		return
	}
	if len(domain.NormalizeCategories(adv.Categories)) == 0 && len(existing.Strings(domain.FieldCategories)) > 0 {
		delete(doc, domain.FieldCategories)
	}
}

// Fields dropped from the candidate keep their stored values through the
// merge.
func (p *AdvertiserPolicy) resolveLogo(ctx context.Context, doc domain.Document, adv domain.Advertiser, existing domain.Document, quota *domain.LookupQuota) {
	log := p.logger.WithContext(ctx).WithField("advertiser", adv.Key())

	if existing.Bool(domain.FieldIsManualLogo) {
		delete(doc, domain.FieldLogoURL)
		return
	}

	if adv.LogoURL != "" {
		if adv.LogoURL == existing.String(domain.FieldLogoURL) && existing.String(domain.FieldStorageLogoURL) != "" {
			return
		}
		cached, err := p.images.Cache(ctx, adv.LogoURL, p.logoFolder)
		if err != nil {
			log.WithError(err).Warn("Logo caching failed, keeping previous copy")
			// keep the stored pair consistent so the next run retries
			if existing.String(domain.FieldStorageLogoURL) != "" {
				delete(doc, domain.FieldLogoURL)
			}
			return
		}
		doc[domain.FieldStorageLogoURL] = cached
		return
	}

	// no network logo: keep whatever an earlier pass found, caching it
	// if that never succeeded
	storedLogo := existing.String(domain.FieldLogoURL)
	if existing.String(domain.FieldStorageLogoURL) != "" {
		delete(doc, domain.FieldLogoURL)
		return
	}
	if storedLogo != "" {
		delete(doc, domain.FieldLogoURL)
		cached, err := p.images.Cache(ctx, storedLogo, p.logoFolder)
		if err != nil {
			log.WithError(err).Warn("Stored logo caching failed")
			return
		}
		doc[domain.FieldStorageLogoURL] = cached
		return
	}

	logoURL, err := p.lookupLogo(ctx, adv, quota)
	if err != nil {
		log.WithError(err).Debug("Brand logo lookup skipped")
		return
	}
	if logoURL == "" {
		return
	}

	doc[domain.FieldLogoURL] = logoURL
	cached, err := p.images.Cache(ctx, logoURL, p.logoFolder)
	if err != nil {
		log.WithError(err).Warn("Brand logo caching failed")
		return
	}
	doc[domain.FieldStorageLogoURL] = cached
}

func (p *AdvertiserPolicy) lookupLogo(ctx context.Context, adv domain.Advertiser, quota *domain.LookupQuota) (string, error) {
	if p.brands == nil {
		return "", fmt.Errorf("brand lookup not configured")
	}
	host := adv.Domain()
	if host == "" {
		return "", fmt.Errorf("advertiser has no domain")
	}
	if !quota.TryAcquire() {
		return "", domain.ErrQuotaExhausted
	}
	return p.brands.LogoURL(ctx, host)
}
