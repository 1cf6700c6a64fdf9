// Package profile stores named GPU settings presets and applies them
// through the settings facade.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/db"
	"github.com/mscrnt/gpuctl/pkg/gpu"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrExists   = errors.New("profile already exists")
)

// Profile is a named settings patch.
type Profile struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Settings    gpu.Patch `json:"settings" yaml:"settings"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasTag reports whether the profile carries tag, ignoring case.
func (p *Profile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Validate checks the name and the settings patch.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	if p.Settings.Empty() {
		return &gpu.InvalidSettingError{Field: "settings", Value: p.Name, Reason: "profile sets nothing"}
	}
	return p.Settings.Validate()
}

// Applier changes GPU settings. *gpu.Facade implements it.
type Applier interface {
	SetSettings(ctx context.Context, p gpu.Patch) (gpu.Settings, error)
}

// ApplyOptions describes who applied a profile, for the history.
type ApplyOptions struct {
	Source     string
	ScheduleID *int64
}

// Store persists profiles in the gpuctl database.
type Store struct {
	db     *db.DB
	logger *zap.Logger
}

// NewStore creates a profile store.
func NewStore(database *db.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: database, logger: logger}
}

const profileColumns = `id, name, description, tags, settings, created_at, updated_at`

// Create validates and stores a new profile, assigning its ID.
func (s *Store) Create(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, db.JSON[[]string]{V: p.Tags},
		db.JSON[gpu.Patch]{V: p.Settings}, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrExists, p.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	s.logger.Info("profile created", zap.String("profile", p.Name), zap.String("id", p.ID))
	return nil
}

// Get retrieves a profile by name
func (s *Store) Get(ctx context.Context, name string) (*Profile, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE name = ?`, name)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// List returns all profiles ordered by name, optionally only those with tag.
func (s *Store) List(ctx context.Context, tag string) ([]*Profile, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if tag != "" && !p.HasTag(tag) {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Update replaces the description, tags and settings of an existing profile.
func (s *Store) Update(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.Conn().ExecContext(ctx,
		`UPDATE profiles SET description = ?, tags = ?, settings = ?, updated_at = ? WHERE name = ?`,
		p.Description, db.JSON[[]string]{V: p.Tags}, db.JSON[gpu.Patch]{V: p.Settings}, p.UpdatedAt, p.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p.Name)
	}
	return nil
}

// Delete removes a profile by name. Its application history is kept.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.Conn().ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s.logger.Info("profile deleted", zap.String("profile", name))
	return nil
}

// Apply sets the named profile's settings through target and records the
// attempt, successful or not, in the application history.
func (s *Store) Apply(ctx context.Context, name string, target Applier, opts ApplyOptions) (gpu.Settings, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return gpu.Settings{}, err
	}

	settings, applyErr := target.SetSettings(ctx, p.Settings)

	app := &db.Application{
		Profile:    p.Name,
		Source:     opts.Source,
		ScheduleID: opts.ScheduleID,
		Success:    applyErr == nil,
	}
	if applyErr != nil {
		app.Error = applyErr.Error()
	}
	if err := s.db.RecordApplication(ctx, app); err != nil {
		s.logger.Error("failed to record profile application",
			zap.String("profile", p.Name), zap.Error(err))
	}

	if applyErr != nil {
		s.logger.Warn("profile apply failed",
			zap.String("profile", p.Name), zap.String("source", opts.Source), zap.Error(applyErr))
		return gpu.Settings{}, fmt.Errorf("failed to apply profile %s: %w", p.Name, applyErr)
	}
	s.logger.Info("profile applied",
		zap.String("profile", p.Name), zap.String("source", opts.Source))
	return settings, nil
}

// History returns the application history of a profile, newest first.
func (s *Store) History(ctx context.Context, name string, limit int) ([]*db.Application, error) {
	return s.db.ListApplications(ctx, db.ApplicationFilter{Profile: name, Limit: limit})
}

// Tags returns every tag in use, sorted.
func (s *Store) Tags(ctx context.Context) ([]string, error) {
	profiles, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tags []string
	for _, p := range profiles {
		for _, t := range p.Tags {
			key := strings.ToLower(t)
			if !seen[key] {
				seen[key] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*Profile, error) {
	p := &Profile{}
	var description sql.NullString
	var tags db.JSON[[]string]
	var settings db.JSON[gpu.Patch]
	if err := row.Scan(&p.ID, &p.Name, &description, &tags, &settings, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.Tags = tags.V
	p.Settings = settings.V
	return p, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
