package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcstore/internal/models"
	"mcstore/internal/store"
	"mcstore/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService manages storefront products and categories
type CatalogService struct {
	store  CatalogStore
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store CatalogStore) *CatalogService {
	return &CatalogService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// ProductInput is the admin payload for creating or replacing a product. A nil Stock means unlimited.
type ProductInput struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	Stock          *int            `json:"stock"`
	CategoryID     string          `json:"category"`
	ImageURL       string          `json:"imageUrl"`
	InGameCommands []string        `json:"in_game_commands"`
}

// CategoryInput is the admin payload for a category
type CategoryInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProductsByCategory returns products keyed by category name. Every category is present,
// even when empty, and products without a known category are left out.
func (cs *CatalogService) ProductsByCategory(ctx context.Context) (map[string][]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ProductsByCategory")
	defer span.End()

	categories, err := cs.store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	products, err := cs.store.GetProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	names := make(map[string]string, len(categories))
	grouped := make(map[string][]models.Product, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
		grouped[c.Name] = []models.Product{}
	}
	for _, p := range products {
		if name, ok := names[p.CategoryID]; ok {
			grouped[name] = append(grouped[name], p)
		}
	}
	return grouped, nil
}

// GetProduct returns one product
func (cs *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := cs.store.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return p, nil
}

// CreateProduct adds a product to the catalog
func (cs *CatalogService) CreateProduct(ctx context.Context, in *ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if err := validateProduct(in); err != nil {
		return nil, err
	}

	p := &models.Product{ID: uuid.New().String()}
	applyProduct(p, in)
	if err := cs.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	cs.logger.Info("Product created", zap.String("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// UpdateProduct replaces a product's editable fields
func (cs *CatalogService) UpdateProduct(ctx context.Context, id string, in *ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	if err := validateProduct(in); err != nil {
		return nil, err
	}

	p, err := cs.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	applyProduct(p, in)
	if err := cs.store.UpdateProduct(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrNotFound, "Product not found")
		}
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return p, nil
}

// DeleteProduct removes a product
func (cs *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	if err := cs.store.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "Product not found")
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	cs.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

// Categories lists all categories by name
func (cs *CatalogService) Categories(ctx context.Context) ([]models.Category, error) {
	categories, err := cs.store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	return categories, nil
}

// CreateCategory adds a category
func (cs *CatalogService) CreateCategory(ctx context.Context, in *CategoryInput) (*models.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(ErrInvalidInput, "Category name is required.")
	}

	c := &models.Category{ID: uuid.New().String(), Name: name, Description: in.Description}
	if err := cs.store.CreateCategory(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newError(ErrInvalidInput, "A category named %s already exists.", name)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

// UpdateCategory renames or redescribes a category
func (cs *CatalogService) UpdateCategory(ctx context.Context, id string, in *CategoryInput) (*models.Category, error) {
	c, err := cs.store.GetCategoryByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Category not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load category: %w", err)
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		c.Name = name
	}
	c.Description = in.Description

	switch err := cs.store.UpdateCategory(ctx, c); {
	case errors.Is(err, store.ErrDuplicate):
		return nil, newError(ErrInvalidInput, "A category named %s already exists.", c.Name)
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(ErrNotFound, "Category not found")
	case err != nil:
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return c, nil
}

// DeleteCategory removes a category. Its products stay but drop out of the grouped listing.
func (cs *CatalogService) DeleteCategory(ctx context.Context, id string) error {
	if err := cs.store.DeleteCategory(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "Category not found")
		}
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}

func validateProduct(in *ProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return newError(ErrInvalidInput, "Product name is required.")
	}
	if in.Price.IsNegative() {
		return newError(ErrInvalidInput, "Price cannot be negative.")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return newError(ErrInvalidInput, "Stock cannot be negative.")
	}
	return nil
}

func applyProduct(p *models.Product, in *ProductInput) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price.Round(2)
	p.Stock = in.Stock
	p.CategoryID = in.CategoryID
	p.ImageURL = in.ImageURL
	p.InGameCommands = in.InGameCommands
}
