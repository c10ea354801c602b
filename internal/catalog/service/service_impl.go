package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/storefront/internal/catalog/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Product, error) {
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Category:        strings.TrimSpace(req.Category),
		Search:          strings.TrimSpace(req.Search),
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Product{}
	}
	return items, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		return nil, domain.ErrInvalidCategory
	}
	if req.Price.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}
	if req.Stock < 0 {
		return nil, domain.ErrInvalidStock
	}

	id := s.genID.Generate()
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	if sku == "" {
		sku = defaultSKU(name, id)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.clock.Now()
	p := &domain.Product{
		ID:          id.Int64(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price.Round(2),
		Image:       strings.TrimSpace(req.Image),
		Category:    category,
		Stock:       req.Stock,
		SKU:         sku,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, s.db, p); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSKU
		}
		return nil, err
	}

	s.log.Info("product created", zap.Int64("product_id", p.ID), zap.String("sku", p.SKU))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	productID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, productID)
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Product, error) {
	productID, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	item, err := s.find(ctx, productID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		item.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, domain.ErrInvalidPrice
		}
		item.Price = req.Price.Round(2)
	}
	if req.Image != nil {
		item.Image = strings.TrimSpace(*req.Image)
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return nil, domain.ErrInvalidCategory
		}
		item.Category = category
	}
	if req.IsActive != nil {
		item.IsActive = *req.IsActive
	}

	item.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Archive hides a product from the storefront without deleting it.
func (s *Service) Archive(ctx context.Context, id string) (*domain.Product, error) {
	inactive := false
	return s.Update(ctx, domain.UpdateRequest{ID: id, IsActive: &inactive})
}

func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	productID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, domain.ErrInvalidStock
	}
	if _, err := s.find(ctx, productID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if delta < 0 {
		ok, err := s.repo.DecrementStock(ctx, s.db, productID, -delta, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInsufficientStock
		}
	} else if err := s.repo.IncrementStock(ctx, s.db, productID, delta, now); err != nil {
		return nil, err
	}

	s.log.Info("product stock adjusted", zap.Int64("product_id", productID), zap.Int("delta", delta))
	return s.find(ctx, productID)
}

func (s *Service) find(ctx context.Context, id int64) (*domain.Product, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func parseID(id string) (int64, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed <= 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed.Int64(), nil
}

func defaultSKU(name string, id snowflake.ID) string {
	base := strings.ToUpper(slug.Make(name))
	if len(base) > 40 {
		base = strings.TrimRight(base[:40], "-")
	}
	return base + "-" + strings.ToUpper(id.Base36())
}
