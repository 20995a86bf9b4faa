package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mcstore/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves all products
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY name")
	return products, err
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.InGameCommands == nil {
		p.InGameCommands = []string{}
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (id, name, description, price, stock, category_id, image_url, in_game_commands, created_at, updated_at)
		VALUES (:id, :name, :description, :price, :stock, :category_id, :image_url, :in_game_commands, :created_at, :updated_at)`, p)
	return err
}

// UpdateProduct overwrites the editable product fields
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now().UTC()
	if p.InGameCommands == nil {
		p.InGameCommands = []string{}
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE products SET name = :name, description = :description, price = :price, stock = :stock,
			category_id = :category_id, image_url = :image_url, in_game_commands = :in_game_commands,
			updated_at = :updated_at
		WHERE id = :id`, p)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct removes a product
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.execOne(ctx, "DELETE FROM products WHERE id = $1", id)
}

// CountProducts returns the number of catalog products
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM products")
	return n, err
}

// decrementStockTx takes quantity units from a limited-stock product inside tx.
// Unlimited products (stock IS NULL) always succeed and are left untouched.
func decrementStockTx(ctx context.Context, tx *sqlx.Tx, productID string, quantity int) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = CASE WHEN stock IS NULL THEN NULL ELSE stock - $1 END,
		    updated_at = NOW()
		WHERE id = $2
		  AND (stock IS NULL OR stock >= $1)`, quantity, productID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetCategories returns all categories
func (s *Store) GetCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.db.SelectContext(ctx, &categories, "SELECT * FROM categories ORDER BY name")
	return categories, err
}

// GetCategoryByID retrieves a category by ID
func (s *Store) GetCategoryByID(ctx context.Context, id string) (*models.Category, error) {
	var c models.Category
	err := s.db.GetContext(ctx, &c, "SELECT * FROM categories WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory inserts a category
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO categories (id, name, description, created_at, updated_at)
		VALUES (:id, :name, :description, :created_at, :updated_at)`, c)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

// UpdateCategory updates name and description
func (s *Store) UpdateCategory(ctx context.Context, c *models.Category) error {
	c.UpdatedAt = time.Now().UTC()
	err := s.execOne(ctx,
		"UPDATE categories SET name = $1, description = $2, updated_at = $3 WHERE id = $4",
		c.Name, c.Description, c.UpdatedAt, c.ID)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

// DeleteCategory removes a category
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.execOne(ctx, "DELETE FROM categories WHERE id = $1", id)
}
