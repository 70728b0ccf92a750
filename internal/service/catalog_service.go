package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/amifistore/cekot-sub000/internal/model"
	"github.com/amifistore/cekot-sub000/internal/provider"
	"github.com/amifistore/cekot-sub000/internal/repository"

	"gorm.io/gorm"
)

// Lister is the slice of the provider client the importer needs.
type Lister interface {
	ListProducts(ctx context.Context) ([]provider.ProductInfo, error)
}

// CatalogService imports the provider's product list into the same products
// table the engine reads; there is exactly one catalog schema.
type CatalogService struct {
	productRepo *repository.ProductRepository
	adminRepo   *repository.AdminLogRepository
	lister      Lister
}

func NewCatalogService(db *gorm.DB, lister Lister) *CatalogService {
	return &CatalogService{
		productRepo: repository.NewProductRepository(db),
		adminRepo:   repository.NewAdminLogRepository(db),
		lister:      lister,
	}
}

// Refresh pulls the upstream catalog and upserts every entry.
func (s *CatalogService) Refresh(ctx context.Context, operatorID string) (int, error) {
	items, err := s.lister.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	imported := 0
	for _, item := range items {
		if item.Code == "" {
			continue
		}
		p := &model.Product{
			Code:        item.Code,
			Name:        item.Name,
			Price:       item.Price,
			Status:      mapProductStatus(item.Status),
			Category:    item.Category,
			ProviderTag: item.Code,
		}
		if err := s.productRepo.Upsert(ctx, p); err != nil {
			log.Printf("[Catalog] upsert failed: code=%s err=%v", item.Code, err)
			continue
		}
		imported++
	}

	if err := s.adminRepo.Create(ctx, nil, &model.AdminLog{
		OperatorID: operatorID,
		Action:     model.AdminActionCatalogRefresh,
		Detail:     fmt.Sprintf("imported=%d of %d", imported, len(items)),
	}); err != nil {
		log.Printf("[Catalog] admin log failed: %v", err)
	}

	log.Printf("[Catalog] refresh done: imported=%d operator=%s", imported, operatorID)
	return imported, nil
}

func (s *CatalogService) ListActive(ctx context.Context) ([]*model.Product, error) {
	return s.productRepo.ListActive(ctx)
}

func mapProductStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "normal", "open", "ready", "tersedia":
		return model.ProductStatusActive
	case "disrupted", "gangguan":
		return model.ProductStatusDisrupted
	case "out_of_stock", "kosong", "habis":
		return model.ProductStatusOutOfStock
	default:
		return model.ProductStatusInactive
	}
}
