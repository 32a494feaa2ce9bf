package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/JoJoGatito/koji-gallery/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite is a local catalog, used when the CMS is not reachable or not wanted.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" would be a separate database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (s *SQLite) Artwork(ctx context.Context, id string) (*domain.Artwork, error) {
	query := `
		SELECT id, title, slug, price, currency, availability, stripe_payment_link, hero_image_ref
		FROM artworks
		WHERE id = ?
	`

	a := &domain.Artwork{}
	var slug, imageRef string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.Title,
		&slug,
		&a.Price,
		&a.Currency,
		&a.Availability,
		&a.StripePaymentLink,
		&imageRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artwork: %w", err)
	}

	a.Slug = domain.Slug{Current: slug, Type: "slug"}
	if imageRef != "" {
		a.HeroImage = &domain.Image{Type: "image", Asset: domain.AssetRef{Ref: imageRef, Type: "reference"}}
	}
	return a, nil
}

// Upsert stores an artwork, replacing any existing row with the same id.
func (s *SQLite) Upsert(ctx context.Context, a domain.Artwork) error {
	query := `
		INSERT INTO artworks (id, title, slug, price, currency, availability, stripe_payment_link, hero_image_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			slug = excluded.slug,
			price = excluded.price,
			currency = excluded.currency,
			availability = excluded.availability,
			stripe_payment_link = excluded.stripe_payment_link,
			hero_image_ref = excluded.hero_image_ref
	`

	var imageRef string
	if a.HeroImage != nil {
		imageRef = a.HeroImage.Asset.Ref
	}
	if a.Currency == "" {
		a.Currency = domain.DefaultCurrency
	}
	if a.Availability == "" {
		a.Availability = domain.Available
	}

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Title, a.Slug.Current, a.Price, a.Currency, string(a.Availability), a.StripePaymentLink, imageRef)
	if err != nil {
		return fmt.Errorf("failed to upsert artwork: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
