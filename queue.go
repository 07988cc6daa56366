/*
Copyright 2025 Kpata Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kpata

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/marcdevi/kpata/config"
	redis_db "github.com/marcdevi/kpata/internal/redis-db"
	"github.com/marcdevi/kpata/model"
)

// Queue carries admitted jobs and outbound user notifications over asynq.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueJob places an admitted job on its priority lane. The task id is the
// job id, so a duplicated enqueue of the same job is rejected by asynq while
// the first task is still pending.
func (q *Queue) EnqueueJob(ctx context.Context, message *model.WorkMessage) error {
	ctx, span := tracer.Start(ctx, "Adding job to work queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	queueName := q.laneFor(cfg, message.Priority)
	// MaxRetry counts redeliveries after the first run, so the configured
	// attempt cap covers the initial delivery plus the retries.
	taskOptions := []asynq.Option{
		asynq.TaskID(message.JobID),
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts - 1),
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued job: %s on %s", message.JobID, queueName)
	return nil
}

// EnqueueNotification places a user-facing notification on the notification
// queue. Notifications are best-effort; they retry independently of the job
// that produced them.
func (q *Queue) EnqueueNotification(ctx context.Context, notification *UserNotification) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.NotificationQueue)}
	task := asynq.NewTask(cfg.Queue.NotificationQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// GetJobFromQueue retrieves a pending job's work message by its ID, checking
// both priority lanes.
func (q *Queue) GetJobFromQueue(jobID string) (*model.WorkMessage, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for _, queueName := range []string{cfg.Queue.HighQueue, cfg.Queue.LowQueue} {
		task, err := q.Inspector.GetTaskInfo(queueName, jobID)
		if err == nil && task != nil {
			var message model.WorkMessage
			if err := json.Unmarshal(task.Payload, &message); err != nil {
				return nil, err
			}
			return &message, nil
		}
	}
	return nil, nil
}

func (q *Queue) laneFor(cfg *config.Configuration, priority string) string {
	if priority == model.PriorityHigh {
		return cfg.Queue.HighQueue
	}
	return cfg.Queue.LowQueue
}
