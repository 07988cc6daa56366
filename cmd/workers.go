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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/marcdevi/kpata"
	"github.com/marcdevi/kpata/config"
	redis_db "github.com/marcdevi/kpata/internal/redis-db"
	"github.com/marcdevi/kpata/model"
)

// processJob handles one delivery of a generation job from either priority
// lane. A returned error triggers the queue's backoff redelivery; once the
// configured attempts are spent the job is dead-lettered instead.
func (k *kpataInstance) processJob(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("kpata.pipeline.worker").Start(ctx, "Process Job From Queue")
	defer span.End()

	var message model.WorkMessage
	if err := json.Unmarshal(t.Payload(), &message); err != nil {
		logrus.Error(err)
		return err
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	attempt := retryCount + 1

	err := k.kpata.ProcessWorkMessage(ctx, &message, attempt)
	if err != nil {
		// The retry count is zero-based, so the cap is reached one
		// redelivery before it equals the configured attempts.
		if retryCount >= k.cnf.Queue.MaxRetryAttempts-1 {
			logrus.Warnf("job %s exhausted its deliveries, dead-lettering", message.JobID)
			return k.kpata.HandleExhaustedJob(ctx, &message, attempt, err)
		}
		logrus.Infof("Job %s pushed back for retry (attempt %d/%d): %v",
			message.JobID, attempt, k.cnf.Queue.MaxRetryAttempts, err)
		return err
	}

	log.Println(" [*] Job Processed", message.JobID)
	return nil
}

// processNotification delivers one queued user notification.
func (k *kpataInstance) processNotification(ctx context.Context, t *asynq.Task) error {
	var userNotification kpata.UserNotification
	if err := json.Unmarshal(t.Payload(), &userNotification); err != nil {
		logrus.Error(err)
		return err
	}

	if err := k.kpata.ProcessNotification(ctx, &userNotification); err != nil {
		return err
	}

	log.Println(" [*] Notification Delivered", userNotification.JobID)
	return nil
}

// initializeQueues weights the lanes so paid traffic drains faster while low
// priority and notifications still make progress.
func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.HighQueue] = 6
	queues[cfg.Queue.LowQueue] = 3
	queues[cfg.Queue.NotificationQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisOption.Addr,
			Password: redisOption.Password,
			DB:       redisOption.DB,
		},
		asynq.Config{
			Concurrency: conf.Queue.Concurrency,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(k *kpataInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.HighQueue, k.processJob)
	mux.HandleFunc(cfg.Queue.LowQueue, k.processJob)
	mux.HandleFunc(cfg.Queue.NotificationQueue, k.processNotification)
}

// workerCommands defines the "workers" command to start the pipeline and
// notification workers.
func workerCommands(k *kpataInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start kpata workers",
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(k, mux)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:     redisOption.Addr,
					Password: redisOption.Password,
					DB:       redisOption.DB,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
