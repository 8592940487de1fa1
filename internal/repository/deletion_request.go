package repository

import (
	"context"
	"errors"
	"time"

	"registry/internal/models"
	"registry/internal/observability"

	"gorm.io/gorm"
)

// DeletionRequestRepository defines the interface for deletion request data operations
type DeletionRequestRepository interface {
	Fetch(ctx context.Context, ownerID uint, filter models.RequestFilter) ([]models.DeletionRequest, error)
	Create(ctx context.Context, ownerID uint, items []string, site string) (*models.DeletionRequest, error)
	Cancel(ctx context.Context, id uint) (*models.DeletionRequest, error)
}

type deletionRequestRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewDeletionRequestRepository creates a new deletion request repository
func NewDeletionRequestRepository(db *gorm.DB) DeletionRequestRepository {
	return &deletionRequestRepository{db: db, log: observability.NewRepoLogger(deletionTables.header)}
}

func (r *deletionRequestRepository) load(db *gorm.DB, ids []uint, withUser bool) ([]models.DeletionRequest, error) {
	reqs := []models.DeletionRequest{}
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

func (r *deletionRequestRepository) Fetch(ctx context.Context, ownerID uint, filter models.RequestFilter) ([]models.DeletionRequest, error) {
	defer observability.TrackQuery("fetch", deletionTables.header)()

	ids, err := matchingIDs(ctx, r.db, models.FamilyDeletion, ownerID, filter)
	if err != nil {
		r.log.LogError(ctx, err, "fetch")
		return nil, models.NewInternalError("Failed to fetch deletion requests", err)
	}
	reqs, err := r.load(r.db.WithContext(ctx), ids, filter.AllUsers)
	if err != nil {
		r.log.LogError(ctx, err, "fetch")
		return nil, models.NewInternalError("Failed to fetch deletion requests", err)
	}
	return reqs, nil
}

func (r *deletionRequestRepository) Create(ctx context.Context, ownerID uint, items []string, site string) (*models.DeletionRequest, error) {
	defer observability.TrackQuery("create", deletionTables.header)()

	req := &models.DeletionRequest{
		Site:      site,
		Status:    models.StatusNew,
		Timestamp: time.Now().UTC(),
		UserID:    ownerID,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items", "Activity", "User").Create(req).Error; err != nil {
			return err
		}
		rows := make([]models.DeletionRequestItem, 0, len(items))
		for _, it := range items {
			rows = append(rows, models.DeletionRequestItem{RequestID: req.ID, Item: it})
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
		return nil, models.NewInternalError("Failed to request deletion", err)
	}

	r.log.LogCreate(ctx, map[string]interface{}{
		"request_id": req.ID,
		"user_id":    ownerID,
		"site":       site,
		"items":      len(items),
	})
	return req, nil
}

// Cancel flips the status to cancelled and touches nothing else.
func (r *deletionRequestRepository) Cancel(ctx context.Context, id uint) (*models.DeletionRequest, error) {
	defer observability.TrackQuery("cancel", deletionTables.header)()

	res := r.db.WithContext(ctx).Model(&models.DeletionRequest{}).Where("id = ?", id).Update("status", models.StatusCancelled)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "cancel")
		return nil, models.NewInternalError("Failed to cancel deletion request", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewBadRequestError("Request not found")
	}

	r.log.LogUpdate(ctx, map[string]interface{}{"request_id": id, "status": models.StatusCancelled})

	reqs, err := r.load(r.db.WithContext(ctx), []uint{id}, false)
	if err == nil && len(reqs) == 0 {
		err = errors.New("cancelled row vanished")
	}
	if err != nil {
		r.log.LogError(ctx, err, "cancel")
		return nil, models.NewInternalError("Failed to cancel deletion request", err)
	}
	return &reqs[0], nil
}
