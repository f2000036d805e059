package group

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_agent_bridge/internal/domain"
)

type groupCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// Pinger reports database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// groupDocument stores the registry order next to each entry.
type groupDocument struct {
	domain.MonitoredGroup `bson:",inline"`
	Position              int `bson:"position"`
}

// MongoPersister keeps one document per monitored group, ordered by
// position.
type MongoPersister struct {
	groups groupCollection
	pinger Pinger
}

// NewMongoPersister constructs a MongoPersister over the provided collection.
func NewMongoPersister(groups groupCollection, pinger Pinger) *MongoPersister {
	return &MongoPersister{groups: groups, pinger: pinger}
}

// Load returns the stored groups in registry order.
func (p *MongoPersister) Load(ctx context.Context) ([]domain.MonitoredGroup, error) {
	if p == nil || p.groups == nil {
		return nil, errors.New("mongo persister is not initialized")
	}

	cursor, err := p.groups.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find monitored groups: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []groupDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode monitored groups: %w", err)
	}

	groups := make([]domain.MonitoredGroup, 0, len(docs))
	for _, doc := range docs {
		groups = append(groups, doc.MonitoredGroup)
	}

	return groups, nil
}

// Save upserts every entry of the snapshot and removes documents whose id is
// no longer present.
func (p *MongoPersister) Save(ctx context.Context, groups []domain.MonitoredGroup) error {
	if p == nil || p.groups == nil {
		return errors.New("mongo persister is not initialized")
	}

	ids := make(bson.A, 0, len(groups))
	models := make([]mongo.WriteModel, 0, len(groups)+1)
	for i, g := range groups {
		ids = append(ids, g.ID)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"id": g.ID}).
			SetReplacement(groupDocument{MonitoredGroup: g, Position: i}).
			SetUpsert(true))
	}
	models = append(models, mongo.NewDeleteManyModel().
		SetFilter(bson.M{"id": bson.M{"$nin": ids}}))

	if _, err := p.groups.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("write monitored groups: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (p *MongoPersister) Ping(ctx context.Context) error {
	if p == nil || p.pinger == nil {
		return errors.New("mongo pinger is not configured")
	}
	return p.pinger.Ping(ctx)
}
