package database

import (
	"context"
	"time"

	"github.com/kuttab/polls/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const timeout = 10 * time.Second

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document was modified concurrently")
)

type ListFilter struct {
	Status string
	Page   int
	Limit  int
}

type SearchFilter struct {
	Query    string
	Category string
	Author   string
	Status   string
	Page     int
	Limit    int
}

type PollStats struct {
	TotalPolls  int            `json:"totalPolls"`
	TotalVotes  int            `json:"totalVotes"`
	TotalVoters int            `json:"totalVoters"`
	Statuses    map[string]int `json:"statuses"`
	Categories  map[string]int `json:"categories"`
}

func Connect(uri string) (*mongo.Client, error) {
	logging.Logger.WithFields(logrus.Fields{"module": "database", "method": "Connect"}).Info("beginning database connection")

	ctx, cancel := context.WithTimeout(context.TODO(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to database")
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "error pinging database")
	}

	logging.Logger.WithFields(logrus.Fields{"module": "database", "method": "Connect"}).Info("connected to mongodb")

	return client, nil
}

func Disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.TODO(), timeout)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		logging.Logger.WithFields(logrus.Fields{"error": err, "module": "database", "method": "Disconnect"}).Error("error disconnecting from database")
		return
	}

	logging.Logger.WithFields(logrus.Fields{"module": "database", "method": "Disconnect"}).Info("disconnected from database")
}

func (f ListFilter) skip() int {
	return (f.page() - 1) * f.limit()
}

func (f ListFilter) page() int {
	if f.Page < 1 {
		return 1
	}
	return f.Page
}

func (f ListFilter) limit() int {
	if f.Limit < 1 {
		return 20
	}
	return f.Limit
}

func (f SearchFilter) paging() ListFilter {
	return ListFilter{Page: f.Page, Limit: f.Limit}
}
