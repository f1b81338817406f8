package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names are shared with existing deployments; do not rename.
const (
	addressesCollection  = "emailaddresses"
	deliveriesCollection = "emaillogs"
)

// MongoStore keeps addresses and delivery logs in MongoDB.
type MongoStore struct {
	client     *mongo.Client
	addresses  *mongoAddresses
	deliveries *mongoDeliveries
}

// Server codes for an index that clashes with an existing one on the same keys.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// NewMongoStore connects, pings and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string, policy SourcePolicy, logger *slog.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetRetryWrites(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:     client,
		addresses:  &mongoAddresses{coll: db.Collection(addressesCollection), policy: policy},
		deliveries: &mongoDeliveries{coll: db.Collection(deliveriesCollection)},
	}
	if err := s.ensureIndexes(ctx, logger); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// ensureIndexes creates the unique email index when the collection allows it.
// Older collections may already hold duplicate addresses or a plain email index;
// the store then runs without uniqueness and says so.
func (s *MongoStore) ensureIndexes(ctx context.Context, logger *slog.Logger) error {
	_, err := s.addresses.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	switch {
	case indexConflict(err):
		logger.Warn("Unique email index not created; existing addresses conflict with it",
			slog.String("collection", addressesCollection),
			slog.String("error", err.Error()))
	case err != nil:
		return fmt.Errorf("failed to create address indexes: %w", err)
	}

	_, err = s.addresses.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "source", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create address indexes: %w", err)
	}
	_, err = s.deliveries.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create email log indexes: %w", err)
	}
	return nil
}

func indexConflict(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	var se mongo.ServerError
	return errors.As(err, &se) &&
		(se.HasErrorCode(codeIndexOptionsConflict) || se.HasErrorCode(codeIndexKeySpecsConflict))
}

func (s *MongoStore) Addresses() AddressDirectory { return s.addresses }
func (s *MongoStore) Deliveries() DeliveryLog     { return s.deliveries }

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoAddresses struct {
	coll   *mongo.Collection
	policy SourcePolicy
}

func (r *mongoAddresses) Upsert(ctx context.Context, email string, source Source) error {
	now := time.Now().UTC()
	key := NormalizeEmail(email)

	set := bson.D{{Key: "lastUsed", Value: now}}
	onInsert := bson.D{{Key: "_id", Value: uuid.NewString()}, {Key: "createdAt", Value: now}}
	if r.policy == SourceFirstSeen {
		onInsert = append(onInsert, bson.E{Key: "source", Value: source})
	} else {
		set = append(set, bson.E{Key: "source", Value: source})
	}

	_, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "email", Value: key}},
		bson.D{{Key: "$set", Value: set}, {Key: "$setOnInsert", Value: onInsert}},
		options.UpdateOne().SetUpsert(true),
	)
	// Two upserts racing on a new key: the loser hits the unique index and retries as an update.
	if mongo.IsDuplicateKeyError(err) {
		_, err = r.coll.UpdateOne(ctx,
			bson.D{{Key: "email", Value: key}},
			bson.D{{Key: "$set", Value: set}},
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert email address: %w", err)
	}
	return nil
}

func (r *mongoAddresses) TouchLastUsed(ctx context.Context, email string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "email", Value: NormalizeEmail(email)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastUsed", Value: time.Now().UTC()}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to update last used time: %w", err)
	}
	return nil
}

func (r *mongoAddresses) List(ctx context.Context, filter AddressFilter) ([]AddressRecord, int, error) {
	query := sourceQuery(filter.Source)

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count email addresses: %w", err)
	}

	_, size := filter.normalized()
	cur, err := r.coll.Find(ctx, query, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "email", Value: 1}}).
		SetSkip(int64(filter.offset())).
		SetLimit(int64(size)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list email addresses: %w", err)
	}

	var docs []mongoAddressDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode email addresses: %w", err)
	}
	records := make([]AddressRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.record())
	}
	return records, int(total), nil
}

// sourceQuery matches a source under its current and legacy stored names.
func sourceQuery(source Source) bson.D {
	switch source {
	case "":
		return bson.D{}
	case SourceSpreadsheet:
		return bson.D{{Key: "source", Value: bson.D{
			{Key: "$in", Value: bson.A{SourceSpreadsheet, legacySpreadsheetSource}},
		}}}
	}
	return bson.D{{Key: "source", Value: source}}
}

// Documents written by earlier deployments use ObjectID keys and the "excel"
// source name, so reads go through these shapes instead of the record types.
type mongoAddressDoc struct {
	ID         bson.RawValue `bson:"_id"`
	Email      string        `bson:"email"`
	Source     string        `bson:"source"`
	CreatedAt  time.Time     `bson:"createdAt"`
	LastUsedAt *time.Time    `bson:"lastUsed"`
}

func (d mongoAddressDoc) record() AddressRecord {
	source, ok := ParseSource(d.Source)
	if !ok {
		source = Source(d.Source)
	}
	return AddressRecord{
		ID:         docID(d.ID),
		Email:      d.Email,
		Source:     source,
		CreatedAt:  d.CreatedAt,
		LastUsedAt: d.LastUsedAt,
	}
}

type mongoDeliveryDoc struct {
	ID             bson.RawValue `bson:"_id"`
	Email          string        `bson:"email"`
	Subject        string        `bson:"subject"`
	Body           string        `bson:"body"`
	Status         Status        `bson:"status"`
	ErrorMessage   *string       `bson:"error"`
	HasAttachment  bool          `bson:"hasAttachment"`
	AttachmentName *string       `bson:"attachmentName"`
	CreatedAt      time.Time     `bson:"createdAt"`
}

func (d mongoDeliveryDoc) record() DeliveryRecord {
	return DeliveryRecord{
		ID:             docID(d.ID),
		Email:          d.Email,
		Subject:        d.Subject,
		Body:           d.Body,
		Status:         d.Status,
		ErrorMessage:   d.ErrorMessage,
		HasAttachment:  d.HasAttachment,
		AttachmentName: d.AttachmentName,
		CreatedAt:      d.CreatedAt,
	}
}

// docID renders an _id as a string: ObjectIDs as hex, strings unchanged.
func docID(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeString:
		return v.StringValue()
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case 0:
		return ""
	}
	return v.String()
}

type mongoDeliveries struct {
	coll *mongo.Collection
}

func (r *mongoDeliveries) Append(ctx context.Context, rec DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}
	return nil
}

func (r *mongoDeliveries) List(ctx context.Context, filter DeliveryFilter) ([]DeliveryRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}

	cur, err := r.coll.Find(ctx, createdBetween(filter.Since, filter.Until), options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query email logs: %w", err)
	}

	var docs []mongoDeliveryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode email logs: %w", err)
	}
	records := make([]DeliveryRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, d.record())
	}
	return records, nil
}

func (r *mongoDeliveries) CountByStatus(ctx context.Context, since, until time.Time) (map[Status]int, error) {
	cur, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: createdBetween(since, until)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get email status distribution: %w", err)
	}

	var rows []struct {
		Status Status `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode status distribution: %w", err)
	}

	counts := make(map[Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func createdBetween(since, until time.Time) bson.D {
	return bson.D{{Key: "createdAt", Value: bson.D{
		{Key: "$gte", Value: since},
		{Key: "$lt", Value: until},
	}}}
}
