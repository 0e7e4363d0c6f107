package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"kanban-api/feed"
)

// TableNames collects the table each entity kind lives in.
type TableNames struct {
	Boards      string
	Memberships string
	Columns     string
	Tasks       string
	Users       string
}

// Storage provides access to underlying persistence mechanisms. Every
// successful write is mirrored onto the matching change channel through the
// feed publisher.
type Storage struct {
	boards       *aztables.Client
	memberships  *aztables.Client
	columns      *aztables.Client
	tasks        *aztables.Client
	users        *aztables.Client
	cleanupQueue *azqueue.QueueClient
	pub          *feed.Publisher
	logger       *log.Logger
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables TableNames, cleanupQueue string, pub *feed.Publisher, logger *log.Logger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, cleanupQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{
		boards:       svc.NewClient(tables.Boards),
		memberships:  svc.NewClient(tables.Memberships),
		columns:      svc.NewClient(tables.Columns),
		tasks:        svc.NewClient(tables.Tasks),
		users:        svc.NewClient(tables.Users),
		cleanupQueue: cq,
		pub:          pub,
		logger:       logger,
	}, nil
}

func (s *Storage) publish(ctx context.Context, channel string, records ...feed.Record) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, channel, records...)
}

// The table service types unannotated integers as 32-bit; millisecond
// timestamps need an explicit Edm.Int64 annotation and travel as strings.
const edmInt64 = "Edm.Int64"

func encodeInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}

func decodeInt64(raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// escapeOData doubles single quotes so values can be embedded in filters.
func escapeOData(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, v[i])
	}
	return string(out)
}
