package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/logger"
)

const (
	slowQueryThreshold = 200 * time.Millisecond
	insertBatchSize    = 100
)

// Store implements Interface on a GORM connection.
type Store struct {
	db     *gorm.DB
	dbType string
	logger logger.Logger
}

var _ Interface = (*Store)(nil)

// Open connects to the database selected by settings and migrates the schema.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	switch settings.Type {
	case "", "sqlite":
		return OpenSQLite(settings.SQLite.Path, log)
	case "mysql":
		return OpenMySQL(&settings.MySQL, log)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func newStore(db *gorm.DB, dbType string, log logger.Logger) (*Store, error) {
	s := &Store{db: db, dbType: dbType, logger: log}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func gormConfig(log logger.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	}
}

func (s *Store) migrate() error {
	start := time.Now()
	if err := s.db.AutoMigrate(&Location{}, &Photo{}); err != nil {
		return dbError(err, "auto_migrate", "db_type", s.dbType)
	}
	s.logger.Debug("database migration completed",
		logger.String("db_type", s.dbType),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// dbError creates a categorized database error with context pairs.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

func notFound(sentinel error, operation string, context ...any) error {
	builder := errors.New(sentinel).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("operation", operation)
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

func (s *Store) CreateLocation(ctx context.Context, loc *Location) error {
	if loc == nil || loc.ID == "" {
		return errors.ValidationError("location ID is required")
	}
	if err := loc.Coordinate().Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(loc).Error; err != nil {
		return dbError(err, "create_location", "location_id", loc.ID)
	}
	return nil
}

func (s *Store) GetLocation(ctx context.Context, id string) (*Location, error) {
	var loc Location
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(ErrLocationNotFound, "get_location", "location_id", id)
	}
	if err != nil {
		return nil, dbError(err, "get_location", "location_id", id)
	}
	return &loc, nil
}

func (s *Store) ListLocations(ctx context.Context) ([]Location, error) {
	var locs []Location
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&locs).Error; err != nil {
		return nil, dbError(err, "list_locations")
	}
	return locs, nil
}

func (s *Store) UpdatePaging(ctx context.Context, id string, page, pages int) error {
	if page < 1 || pages < 0 {
		return errors.Newf("invalid paging page=%d pages=%d", page, pages).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	return s.updateLocation(ctx, id, "update_paging", map[string]any{"page": page, "pages": pages})
}

func (s *Store) SetDownloading(ctx context.Context, id string, downloading bool) error {
	return s.updateLocation(ctx, id, "set_downloading", map[string]any{"downloading": downloading})
}

func (s *Store) updateLocation(ctx context.Context, id, operation string, values map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Location{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return dbError(result.Error, operation, "location_id", id)
	}
	if result.RowsAffected == 0 {
		// MySQL reports 0 affected rows when values are unchanged.
		if _, err := s.GetLocation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ClearDownloading(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Location{}).
		Where("id = ? AND downloading = ?", id, true).
		Update("downloading", false)
	if result.Error != nil {
		return false, dbError(result.Error, "clear_downloading", "location_id", id)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) ResetDownloading(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Location{}).Where("downloading = ?", true).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&Location{}).Where("id IN ?", ids).Update("downloading", false).Error
	})
	if err != nil {
		return nil, dbError(err, "reset_downloading")
	}
	return ids, nil
}

func (s *Store) DeleteLocation(ctx context.Context, id string) error {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("location_id = ?", id).Delete(&Photo{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&Location{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return dbError(err, "delete_location", "location_id", id)
	}
	if deleted == 0 {
		return notFound(ErrLocationNotFound, "delete_location", "location_id", id)
	}
	return nil
}

func (s *Store) CreatePhotos(ctx context.Context, photos []Photo) error {
	if len(photos) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(photos, insertBatchSize).Error
	})
	if err != nil {
		return dbError(err, "create_photos",
			"location_id", photos[0].LocationID,
			"count", len(photos))
	}
	return nil
}

func (s *Store) ListPhotos(ctx context.Context, locationID string) ([]Photo, error) {
	var photos []Photo
	err := s.db.WithContext(ctx).
		Where("location_id = ?", locationID).
		Order("added_at, position").
		Find(&photos).Error
	if err != nil {
		return nil, dbError(err, "list_photos", "location_id", locationID)
	}
	return photos, nil
}

func (s *Store) ListFailedPhotos(ctx context.Context, locationID string) ([]Photo, error) {
	var photos []Photo
	err := s.db.WithContext(ctx).
		Where("location_id = ? AND has_error = ?", locationID, true).
		Order("added_at, position").
		Find(&photos).Error
	if err != nil {
		return nil, dbError(err, "list_failed_photos", "location_id", locationID)
	}
	return photos, nil
}

func (s *Store) CountPhotos(ctx context.Context, locationID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Photo{}).
		Where("location_id = ?", locationID).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "count_photos", "location_id", locationID)
	}
	return int(count), nil
}

func (s *Store) GetPhoto(ctx context.Context, locationID, remoteID string) (*Photo, error) {
	var photo Photo
	err := s.db.WithContext(ctx).
		Where("location_id = ? AND remote_id = ?", locationID, remoteID).
		First(&photo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(ErrPhotoNotFound, "get_photo", "location_id", locationID, "remote_id", remoteID)
	}
	if err != nil {
		return nil, dbError(err, "get_photo", "location_id", locationID, "remote_id", remoteID)
	}
	return &photo, nil
}

func (s *Store) SetPhotoError(ctx context.Context, locationID, remoteID string, hasError bool) error {
	result := s.db.WithContext(ctx).Model(&Photo{}).
		Where("location_id = ? AND remote_id = ?", locationID, remoteID).
		Update("has_error", hasError)
	if result.Error != nil {
		return dbError(result.Error, "set_photo_error", "location_id", locationID, "remote_id", remoteID)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetPhoto(ctx, locationID, remoteID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) MarkPhotosFailed(ctx context.Context, locationID string, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&Photo{}).
		Where("location_id = ? AND remote_id IN ?", locationID, remoteIDs).
		Update("has_error", true).Error
	if err != nil {
		return dbError(err, "mark_photos_failed", "location_id", locationID, "count", len(remoteIDs))
	}
	return nil
}

func (s *Store) DeletePhoto(ctx context.Context, locationID, remoteID string) error {
	result := s.db.WithContext(ctx).
		Where("location_id = ? AND remote_id = ?", locationID, remoteID).
		Delete(&Photo{})
	if result.Error != nil {
		return dbError(result.Error, "delete_photo", "location_id", locationID, "remote_id", remoteID)
	}
	if result.RowsAffected == 0 {
		return notFound(ErrPhotoNotFound, "delete_photo", "location_id", locationID, "remote_id", remoteID)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}
