package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.RunMigrations("../../migrations/catalog"))
	return repo
}

func TestListProducts(t *testing.T) {
	repo := setupTestRepo(t)

	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 6)
	assert.Equal(t, "Digital Marketing Mastery", products[0].Name)
	assert.Equal(t, 49.99, products[0].Price)
	assert.Equal(t, int64(1), products[0].ID)
}

func TestGetProduct(t *testing.T) {
	repo := setupTestRepo(t)

	p, err := repo.GetProduct(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.ID)
	assert.Equal(t, "UI Component Library", p.Name)
	assert.Equal(t, 79.00, p.Price)
	assert.NotEmpty(t, p.ImageURL)
}

func TestGetProduct_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetProduct(context.Background(), 99)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.RunMigrations("../../migrations/catalog"))

	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 6)
}
