package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"focusflow-api/domain"
)

type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, options *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

// Provision creates the tables for every root collection and, when queue is
// non-empty, the activity queue. Existing resources are left alone.
func Provision(ctx context.Context, connStr, tablePrefix, queue string, logger *log.Logger) error {
	if logger == nil {
		logger = log.StandardLogger()
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	tables := map[string]tableCreator{}
	for _, root := range []string{domain.ProjectsCollection, domain.TasksCollection} {
		tables[tablePrefix+root] = svc.NewClient(tablePrefix + root)
	}
	if err := createTables(ctx, tables, logger); err != nil {
		return err
	}
	if queue == "" {
		return nil
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, nil)
	if err != nil {
		return err
	}
	return createQueue(ctx, queue, q, logger)
}

func createTables(ctx context.Context, tables map[string]tableCreator, logger *log.Logger) error {
	for name, c := range tables {
		if _, err := c.CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
			logger.WithField("table", name).Debug("table already exists")
			continue
		}
		logger.WithField("table", name).Info("table created")
	}
	return nil
}

func createQueue(ctx context.Context, name string, q queueCreator, logger *log.Logger) error {
	if _, err := q.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
		logger.WithField("queue", name).Debug("queue already exists")
		return nil
	}
	logger.WithField("queue", name).Info("queue created")
	return nil
}
