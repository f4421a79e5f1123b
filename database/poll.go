package database

import (
	"context"
	"regexp"
	"time"

	"github.com/kuttab/polls/logging"
	"github.com/kuttab/polls/poll"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{db: client.Database(database)}
}

func (s *MongoStore) polls() *mongo.Collection {
	return s.db.Collection("polls")
}

// EnsureIndexes creates the indexes the poll queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := s.polls().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "author", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "post", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "settings.endDate", Value: 1}}},
		{Keys: bson.D{{Key: "stats.totalVotes", Value: -1}}},
	})
	if err != nil {
		return fail("EnsureIndexes", err, nil)
	}
	return nil
}

func (s *MongoStore) InsertPoll(ctx context.Context, p *poll.Poll) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.polls().InsertOne(ctx, p); err != nil {
		return fail("InsertPoll", err, logrus.Fields{"poll": p.Id.Hex()})
	}
	return nil
}

func (s *MongoStore) GetPoll(ctx context.Context, id primitive.ObjectID) (*poll.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var p poll.Poll
	if err := s.polls().FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fail("GetPoll", err, logrus.Fields{"poll": id.Hex()})
	}
	return &p, nil
}

// UpdatePoll writes the mutable state of p back if the stored version still
// equals p.Version, and bumps the version. Views are left to IncrementViews.
func (s *MongoStore) UpdatePoll(ctx context.Context, p *poll.Poll) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.polls().UpdateOne(ctx,
		bson.M{"_id": p.Id, "version": p.Version},
		bson.M{"$set": bson.M{
			"options":            p.Options,
			"settings":           p.Settings,
			"status":             p.Status,
			"stats.totalVotes":   p.Stats.TotalVotes,
			"stats.uniqueVoters": p.Stats.UniqueVoters,
			"updatedAt":          p.UpdatedAt,
			"version":            p.Version + 1,
		}},
	)
	if err != nil {
		return fail("UpdatePoll", err, logrus.Fields{"poll": p.Id.Hex()})
	}

	if result.MatchedCount == 0 {
		count, err := s.polls().CountDocuments(ctx, bson.M{"_id": p.Id})
		if err != nil {
			return fail("UpdatePoll", err, logrus.Fields{"poll": p.Id.Hex()})
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	p.Version++
	return nil
}

func (s *MongoStore) DeletePoll(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.polls().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fail("DeletePoll", err, logrus.Fields{"poll": id.Hex()})
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) IncrementViews(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.polls().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"stats.views": 1}})
	if err != nil {
		return fail("IncrementViews", err, logrus.Fields{"poll": id.Hex()})
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListPolls(ctx context.Context, filter ListFilter) ([]*poll.Poll, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	polls, err := s.find(ctx, query, pageOptions(filter))
	if err != nil {
		return nil, 0, fail("ListPolls", err, nil)
	}

	total, err := s.polls().CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fail("ListPolls", err, nil)
	}

	return polls, total, nil
}

func (s *MongoStore) SearchPolls(ctx context.Context, filter SearchFilter) ([]*poll.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Query), Options: "i"}
	query := bson.M{
		"$or": bson.A{
			bson.M{"question": pattern},
			bson.M{"tags": pattern},
		},
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Author != "" {
		query["author"] = filter.Author
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	polls, err := s.find(ctx, query, pageOptions(filter.paging()))
	if err != nil {
		return nil, fail("SearchPolls", err, logrus.Fields{"query": filter.Query})
	}
	return polls, nil
}

// ActivePolls returns open, unexpired polls ordered by total votes.
func (s *MongoStore) ActivePolls(ctx context.Context, now time.Time, limit int) ([]*poll.Poll, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := bson.M{
		"status": poll.StatusActive,
		"$or": bson.A{
			bson.M{"settings.endDate": nil},
			bson.M{"settings.endDate": bson.M{"$gt": now}},
		},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "stats.totalVotes", Value: -1}, {Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	polls, err := s.find(ctx, query, opts)
	if err != nil {
		return nil, fail("ActivePolls", err, nil)
	}
	return polls, nil
}

type countBucket struct {
	Key   string `bson:"_id"`
	Count int    `bson:"count"`
}

type statsFacet struct {
	Totals []struct {
		TotalPolls  int `bson:"totalPolls"`
		TotalVotes  int `bson:"totalVotes"`
		TotalVoters int `bson:"totalVoters"`
	} `bson:"totals"`
	Statuses   []countBucket `bson:"statuses"`
	Categories []countBucket `bson:"categories"`
}

// PollStats aggregates poll counts, optionally for a single author.
func (s *MongoStore) PollStats(ctx context.Context, author string) (PollStats, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	match := bson.D{}
	if author != "" {
		match = bson.D{{Key: "author", Value: author}}
	}

	cursor, err := s.polls().Aggregate(ctx, mongo.Pipeline{
		{{
			Key: "$match", Value: match,
		}},
		{{
			Key: "$facet", Value: bson.D{
				{Key: "totals", Value: bson.A{
					bson.D{{Key: "$group", Value: bson.D{
						{Key: "_id", Value: nil},
						{Key: "totalPolls", Value: bson.D{{Key: "$sum", Value: 1}}},
						{Key: "totalVotes", Value: bson.D{{Key: "$sum", Value: "$stats.totalVotes"}}},
						{Key: "totalVoters", Value: bson.D{{Key: "$sum", Value: "$stats.uniqueVoters"}}},
					}}},
				}},
				{Key: "statuses", Value: bson.A{
					bson.D{{Key: "$group", Value: bson.D{
						{Key: "_id", Value: "$status"},
						{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
					}}},
				}},
				{Key: "categories", Value: bson.A{
					bson.D{{Key: "$group", Value: bson.D{
						{Key: "_id", Value: "$category"},
						{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
					}}},
				}},
			},
		}},
	})
	if err != nil {
		return PollStats{}, fail("PollStats", err, logrus.Fields{"author": author})
	}

	var facets []statsFacet
	if err := cursor.All(ctx, &facets); err != nil {
		return PollStats{}, fail("PollStats", err, logrus.Fields{"author": author})
	}

	stats := PollStats{Statuses: map[string]int{}, Categories: map[string]int{}}
	if len(facets) == 0 {
		return stats, nil
	}
	if len(facets[0].Totals) > 0 {
		stats.TotalPolls = facets[0].Totals[0].TotalPolls
		stats.TotalVotes = facets[0].Totals[0].TotalVotes
		stats.TotalVoters = facets[0].Totals[0].TotalVoters
	}
	for _, bucket := range facets[0].Statuses {
		stats.Statuses[bucket.Key] = bucket.Count
	}
	for _, bucket := range facets[0].Categories {
		stats.Categories[bucket.Key] = bucket.Count
	}
	return stats, nil
}

func (s *MongoStore) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*poll.Poll, error) {
	cursor, err := s.polls().Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	polls := []*poll.Poll{}
	if err := cursor.All(ctx, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

func pageOptions(filter ListFilter) *options.FindOptions {
	return options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(filter.skip())).
		SetLimit(int64(filter.limit()))
}

func fail(method string, err error, fields logrus.Fields) error {
	entry := logging.Logger.WithFields(logrus.Fields{"error": err, "module": "database", "method": method})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Error("database operation failed")
	return errors.Wrap(err, method)
}
