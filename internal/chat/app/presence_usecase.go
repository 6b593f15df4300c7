package app

import (
	"context"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/pkg"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// PresenceUseCase 使用者在線狀態
type PresenceUseCase struct {
	repo    repository.PresenceRepository
	pub     Publisher
	timeout time.Duration
	now     func() time.Time
}

// NewPresenceUseCase a record older than timeout reads as offline.
func NewPresenceUseCase(repo repository.PresenceRepository, pub Publisher, timeout time.Duration) *PresenceUseCase {
	return &PresenceUseCase{repo: repo, pub: pub, timeout: timeout, now: domain.Now}
}

// SetStatus explicit status change, always published.
func (uc *PresenceUseCase) SetStatus(ctx context.Context, userID string, status domain.PresenceStatus, custom string) (domain.PresenceRecord, error) {
	const op = "presence.set"
	if userID == "" {
		return domain.PresenceRecord{}, domain.NewValidationError(op, "user is required")
	}
	if !status.Valid() {
		return domain.PresenceRecord{}, domain.NewValidationError(op, "unknown status "+string(status))
	}
	rec := domain.PresenceRecord{UserID: userID, Status: status, LastSeen: uc.now(), CustomStatus: custom}
	if err := uc.repo.Set(ctx, rec); err != nil {
		return domain.PresenceRecord{}, err
	}
	uc.publish(ctx, rec)
	return rec, nil
}

// Heartbeat refreshes last_seen keeping the chosen status, offline included;
// a user without a record comes online. Only a change of the effective
// status is published.
func (uc *PresenceUseCase) Heartbeat(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	if userID == "" {
		return domain.PresenceRecord{}, domain.NewValidationError("presence.heartbeat", "user is required")
	}
	now := uc.now()
	prev, ok, err := uc.repo.Get(ctx, userID)
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	rec := prev
	before := domain.StatusOffline
	if ok {
		before = prev.EffectiveStatus(now, uc.timeout)
	}
	if !ok {
		rec = domain.PresenceRecord{UserID: userID, Status: domain.StatusOnline}
	}
	rec.LastSeen = now
	if err := uc.repo.Set(ctx, rec); err != nil {
		return domain.PresenceRecord{}, err
	}
	if before != rec.EffectiveStatus(now, uc.timeout) {
		uc.publish(ctx, rec)
	}
	return rec, nil
}

// EffectiveStatus of one user, offline when unknown or stale.
func (uc *PresenceUseCase) EffectiveStatus(ctx context.Context, userID string) (domain.PresenceStatus, error) {
	rec, ok, err := uc.repo.Get(ctx, userID)
	if err != nil {
		return domain.StatusOffline, err
	}
	if !ok {
		return domain.StatusOffline, nil
	}
	return rec.EffectiveStatus(uc.now(), uc.timeout), nil
}

// EffectiveStatuses every requested id gets an entry.
func (uc *PresenceUseCase) EffectiveStatuses(ctx context.Context, userIDs []string) (map[string]domain.PresenceStatus, error) {
	ids := pkg.Unique(userIDs)
	recs, err := uc.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	out := make(map[string]domain.PresenceStatus, len(ids))
	for _, id := range ids {
		out[id] = recs[id].EffectiveStatus(now, uc.timeout)
	}
	return out, nil
}

func (uc *PresenceUseCase) publish(ctx context.Context, rec domain.PresenceRecord) {
	if err := uc.pub.Publish(ctx, domain.PresenceEvent{Operation: domain.OpUpdate, Record: rec}); err != nil {
		logger.Log.Warn("publish presence event", zap.String("user_id", rec.UserID), zap.Error(err))
	}
}
