package database

import (
	"context"
	"time"

	"github.com/kuttab/polls/post"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func (s *MongoStore) posts() *mongo.Collection {
	return s.db.Collection("posts")
}

func (s *MongoStore) InsertPost(ctx context.Context, p *post.Post) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.posts().InsertOne(ctx, p); err != nil {
		return fail("InsertPost", err, logrus.Fields{"post": p.Id.Hex()})
	}
	return nil
}

func (s *MongoStore) GetPost(ctx context.Context, id primitive.ObjectID) (*post.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var p post.Post
	if err := s.posts().FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fail("GetPost", err, logrus.Fields{"post": id.Hex()})
	}
	return &p, nil
}

func (s *MongoStore) DeletePost(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.posts().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fail("DeletePost", err, logrus.Fields{"post": id.Hex()})
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkPoll records the poll a post carries.
func (s *MongoStore) LinkPoll(ctx context.Context, postId, pollId primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.posts().UpdateOne(ctx,
		bson.M{"_id": postId},
		bson.M{"$set": bson.M{"poll": pollId, "hasPoll": true, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fail("LinkPoll", err, logrus.Fields{"post": postId.Hex(), "poll": pollId.Hex()})
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
