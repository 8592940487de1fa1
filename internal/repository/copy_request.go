package repository

import (
	"context"
	"errors"
	"time"

	"registry/internal/models"
	"registry/internal/observability"

	"gorm.io/gorm"
)

// CopyRequestRepository defines the interface for copy request data operations
type CopyRequestRepository interface {
	Fetch(ctx context.Context, ownerID uint, filter models.RequestFilter) ([]models.CopyRequest, error)
	Create(ctx context.Context, ownerID uint, items []string, site, group string, n int) (*models.CopyRequest, error)
	Update(ctx context.Context, id uint, patch models.CopyPatch) (*models.CopyRequest, error)
	// UpdateMany applies every update in one transaction; on error none is kept.
	UpdateMany(ctx context.Context, updates []models.CopyUpdate) ([]models.CopyRequest, error)
}

// copyRequestRepository implements CopyRequestRepository
type copyRequestRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCopyRequestRepository creates a new copy request repository
func NewCopyRequestRepository(db *gorm.DB) CopyRequestRepository {
	return &copyRequestRepository{db: db, log: observability.NewRepoLogger(copyTables.header)}
}

// scopeFetch applies the owner, status and site predicates shared by both families.
func scopeFetch(db *gorm.DB, family models.Family, ownerID uint, filter models.RequestFilter) *gorm.DB {
	t := tablesFor(family)
	if !filter.AllUsers {
		db = db.Where(t.header+".user_id = ?", ownerID)
	}
	if filter.RequestID != 0 {
		return db.Where(t.header+".id = ?", filter.RequestID)
	}
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = family.LiveStatuses()
	}
	db = db.Where(t.header+".status IN ?", statuses)
	if filter.Site != nil {
		db = db.Where(t.header+".site = ?", *filter.Site)
	}
	return db
}

// matchingIDs runs the header predicates and the item-set matcher.
func matchingIDs(ctx context.Context, db *gorm.DB, family models.Family, ownerID uint, filter models.RequestFilter) ([]uint, error) {
	base := scopeFetch(db.WithContext(ctx), family, ownerID, filter)
	items := filter.Items
	if filter.RequestID != 0 {
		items = models.ItemFilter{}
	}
	return MatchItemSet(base, family, items, filter.ItemMatch)
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

func (r *copyRequestRepository) load(db *gorm.DB, ids []uint, withUser bool) ([]models.CopyRequest, error) {
	reqs := []models.CopyRequest{}
	if len(ids) == 0 {
		return reqs, nil
	}
	q := db.Preload("Items", orderByID).Preload("Activity", orderByID)
	if withUser {
		q = q.Preload("User")
	}
	if err := q.Where("id IN ?", ids).Order("id ASC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *copyRequestRepository) Fetch(ctx context.Context, ownerID uint, filter models.RequestFilter) ([]models.CopyRequest, error) {
	defer observability.TrackQuery("fetch", copyTables.header)()

	ids, err := matchingIDs(ctx, r.db, models.FamilyCopy, ownerID, filter)
	if err != nil {
		r.log.LogError(ctx, err, "fetch")
		return nil, models.NewInternalError("Failed to fetch copy requests", err)
	}
	reqs, err := r.load(r.db.WithContext(ctx), ids, filter.AllUsers)
	if err != nil {
		r.log.LogError(ctx, err, "fetch")
		return nil, models.NewInternalError("Failed to fetch copy requests", err)
	}
	return reqs, nil
}

func (r *copyRequestRepository) Create(ctx context.Context, ownerID uint, items []string, site, group string, n int) (*models.CopyRequest, error) {
	defer observability.TrackQuery("create", copyTables.header)()

	now := time.Now().UTC()
	req := &models.CopyRequest{
		Site:             site,
		Group:            group,
		NumCopies:        models.EffectiveCopies(site, n),
		Status:           models.StatusNew,
		FirstRequestTime: now,
		LastRequestTime:  now,
		RequestCount:     1,
		UserID:           ownerID,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items", "Activity", "User").Create(req).Error; err != nil {
			return err
		}
		rows := make([]models.CopyRequestItem, 0, len(items))
		for _, it := range items {
			rows = append(rows, models.CopyRequestItem{RequestID: req.ID, Item: it})
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		req.Items = rows
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "create")
		return nil, models.NewInternalError("Failed to request copy", err)
	}

	r.log.LogCreate(ctx, map[string]interface{}{
		"request_id": req.ID,
		"user_id":    ownerID,
		"site":       site,
		"items":      len(items),
	})
	return req, nil
}

func copyUpdates(patch models.CopyPatch) map[string]interface{} {
	updates := map[string]interface{}{
		"last_request_time": time.Now().UTC(),
	}
	if patch.CountsAsResubmission() {
		updates["request_count"] = gorm.Expr("request_count + 1")
	}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.Group != nil {
		updates["group"] = *patch.Group
	}
	if patch.NumCopies != nil {
		updates["num_copies"] = gorm.Expr("CASE WHEN site LIKE ? THEN ? ELSE 1 END", "%"+models.WildcardMarker+"%", *patch.NumCopies)
	}
	return updates
}

// applyUpdate writes one patch through db. errRequestNotFound marks a missing row.
func applyUpdate(db *gorm.DB, id uint, patch models.CopyPatch) error {
	res := db.Model(&models.CopyRequest{}).Where("id = ?", id).Updates(copyUpdates(patch))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errRequestNotFound
	}
	return nil
}

var errRequestNotFound = errors.New("request not found")

func (r *copyRequestRepository) updateError(ctx context.Context, err error) error {
	if errors.Is(err, errRequestNotFound) {
		return models.NewBadRequestError("Request not found")
	}
	r.log.LogError(ctx, err, "update")
	return models.NewInternalError("Failed to update copy request", err)
}

func (r *copyRequestRepository) reload(ctx context.Context, ids []uint) ([]models.CopyRequest, error) {
	reqs, err := r.load(r.db.WithContext(ctx), ids, false)
	if err == nil && len(reqs) != len(ids) {
		err = errors.New("updated row vanished")
	}
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return nil, models.NewInternalError("Failed to update copy request", err)
	}
	return reqs, nil
}

func (r *copyRequestRepository) Update(ctx context.Context, id uint, patch models.CopyPatch) (*models.CopyRequest, error) {
	defer observability.TrackQuery("update", copyTables.header)()

	if err := applyUpdate(r.db.WithContext(ctx), id, patch); err != nil {
		return nil, r.updateError(ctx, err)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"request_id": id})

	reqs, err := r.reload(ctx, []uint{id})
	if err != nil {
		return nil, err
	}
	return &reqs[0], nil
}

func (r *copyRequestRepository) UpdateMany(ctx context.Context, updates []models.CopyUpdate) ([]models.CopyRequest, error) {
	defer observability.TrackQuery("update", copyTables.header)()

	ids := make([]uint, 0, len(updates))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := applyUpdate(tx, u.ID, u.Patch); err != nil {
				return err
			}
			ids = append(ids, u.ID)
		}
		return nil
	})
	if err != nil {
		return nil, r.updateError(ctx, err)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"request_ids": ids})

	return r.reload(ctx, ids)
}
