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
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/database"
	"github.com/marcdevi/kpata/internal/cache"
	redis_db "github.com/marcdevi/kpata/internal/redis-db"
)

// Kpata is the core of the product-photo generation backend: admission,
// moderation, the processing pipeline and the credit ledger around it.
// Every collaborator is constructed here and injected, so tests can swap
// fakes without touching package-level state.
type Kpata struct {
	datasource database.IDataSource
	queue      *Queue
	redis      redis.UniversalClient
	router     *ModelRouter
	store      ObjectStore
	nsfw       NSFWChecker
}

// NewKpata wires the full service from configuration: redis, work queue,
// routing cache, object storage and the provider registry.
func NewKpata(db database.IDataSource) (*Kpata, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	routingCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	store, err := NewS3Store(configuration)
	if err != nil {
		return nil, err
	}

	providers := NewProvidersFromConfig(configuration)
	router := NewModelRouter(db, routingCache, providers, configuration.GenerationTimeout())

	newKpata := &Kpata{
		datasource: db,
		queue:      NewQueue(configuration),
		redis:      redisClient.Client(),
		router:     router,
		store:      store,
		nsfw:       NewHTTPNSFWChecker(configuration),
	}
	return newKpata, nil
}

// Datasource exposes the persistence layer for the API handlers.
func (l *Kpata) Datasource() database.IDataSource {
	return l.datasource
}
