package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"civic-issue-tracker/services/report-service/lifecycle"
)

const archiveCollection = "lifecycle_audit"

type archiveDoc struct {
	EventID      string         `bson:"event_id"`
	Action       string         `bson:"action"`
	ResourceType string         `bson:"resource_type"`
	ResourceID   int64          `bson:"resource_id"`
	ReportID     *int64         `bson:"report_id,omitempty"`
	ReportNumber string         `bson:"report_number,omitempty"`
	ActorID      *int64         `bson:"actor_id,omitempty"`
	FromStatus   string         `bson:"from_status,omitempty"`
	ToStatus     string         `bson:"to_status,omitempty"`
	Metadata     map[string]any `bson:"metadata,omitempty"`
	OccurredAt   time.Time      `bson:"occurred_at"`
}

// MongoArchive copies every committed audit event into a Mongo collection
// for long-term retention and reporting queries.
type MongoArchive struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

func NewMongoArchive(db *mongo.Database, logger *zap.Logger) *MongoArchive {
	return &MongoArchive{coll: db.Collection(archiveCollection), logger: logger}
}

// EnsureIndexes creates the lookup indexes used by ActionCounts and report
// timelines.
func (a *MongoArchive) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "report_id", Value: 1}, {Key: "occurred_at", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "occurred_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create archive indexes: %w", err)
	}
	return nil
}

func (a *MongoArchive) Emit(ctx context.Context, evs []lifecycle.Event) {
	if len(evs) == 0 {
		return
	}
	docs := make([]interface{}, 0, len(evs))
	for _, ev := range evs {
		w := ToWire(ev)
		docs = append(docs, archiveDoc{
			EventID:      w.ID,
			Action:       w.Action,
			ResourceType: w.ResourceType,
			ResourceID:   w.ResourceID,
			ReportID:     w.ReportID,
			ReportNumber: w.ReportNumber,
			ActorID:      w.ActorID,
			FromStatus:   w.FromStatus,
			ToStatus:     w.ToStatus,
			Metadata:     w.Metadata,
			OccurredAt:   w.OccurredAt,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := a.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		a.logger.Error("failed to archive audit events", zap.Int("count", len(docs)), zap.Error(err))
	}
}

// ActionCount is one row of the archive summary.
type ActionCount struct {
	Action string `bson:"_id" json:"action"`
	Count  int64  `bson:"count" json:"count"`
}

// ActionCounts groups archived events since the given instant by action.
func (a *MongoArchive) ActionCounts(ctx context.Context, since time.Time) ([]ActionCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"occurred_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{"_id": "$action", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.M{"count": -1}}},
	}
	cursor, err := a.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate archive: %w", err)
	}
	defer cursor.Close(ctx)

	var out []ActionCount
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode archive summary: %w", err)
	}
	return out, nil
}
