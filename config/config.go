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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SecretKey string `json:"secret_key" envconfig:"KPATA_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"KPATA_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"KPATA_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"KPATA_REDIS_DNS"`
}

type QueueConfig struct {
	HighQueue         string `json:"high_queue" envconfig:"KPATA_QUEUE_HIGH"`
	LowQueue          string `json:"low_queue" envconfig:"KPATA_QUEUE_LOW"`
	NotificationQueue string `json:"notification_queue" envconfig:"KPATA_QUEUE_NOTIFICATION"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"KPATA_QUEUE_MAX_RETRY_ATTEMPTS"`
	Concurrency       int    `json:"concurrency" envconfig:"KPATA_QUEUE_CONCURRENCY"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"KPATA_QUEUE_MONITORING_PORT"`
}

type StorageConfig struct {
	S3Endpoint         string `json:"s3_endpoint" envconfig:"KPATA_S3_ENDPOINT"`
	S3Region           string `json:"s3_region" envconfig:"KPATA_S3_REGION"`
	S3BucketName       string `json:"s3_bucket_name" envconfig:"KPATA_S3_BUCKET_NAME"`
	AwsAccessKeyId     string `json:"aws_access_key_id" envconfig:"KPATA_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"KPATA_AWS_SECRET_ACCESS_KEY"`
	PublicUrlBase      string `json:"public_url_base" envconfig:"KPATA_STORAGE_PUBLIC_URL_BASE"`
}

type ProviderConfig struct {
	ApiUrl string `json:"api_url"`
	ApiKey string `json:"api_key"`
}

type GenerationConfig struct {
	Providers      map[string]ProviderConfig `json:"providers"`
	DefaultTimeout int                       `json:"default_timeout_seconds" envconfig:"KPATA_GENERATION_TIMEOUT_SECONDS"`
	NSFWCheckUrl   string                    `json:"nsfw_check_url" envconfig:"KPATA_NSFW_CHECK_URL"`
	NSFWCheckKey   string                    `json:"nsfw_check_key" envconfig:"KPATA_NSFW_CHECK_KEY"`
	CurrencySuffix string                    `json:"currency_suffix" envconfig:"KPATA_CURRENCY_SUFFIX"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack      SlackWebhook `json:"slack"`
	BotGateway struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"bot_gateway"`
}

type RateLimitConfig struct {
	RequestsPerSecond *float64 `json:"requests_per_second" envconfig:"KPATA_RATE_LIMIT_RPS"`
	Burst             *int     `json:"burst" envconfig:"KPATA_RATE_LIMIT_BURST"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"KPATA_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Storage      StorageConfig    `json:"storage"`
	Generation   GenerationConfig `json:"generation"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("kpata", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called kpata.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Kpata Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.HighQueue == "" {
		cnf.Queue.HighQueue = "generations:high"
	}
	if cnf.Queue.LowQueue == "" {
		cnf.Queue.LowQueue = "generations:low"
	}
	if cnf.Queue.NotificationQueue == "" {
		cnf.Queue.NotificationQueue = "notifications"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	if cnf.Storage.S3BucketName == "" {
		cnf.Storage.S3BucketName = "kpata-exports"
	}

	if cnf.Generation.DefaultTimeout <= 0 {
		cnf.Generation.DefaultTimeout = 60
	}
	if cnf.Generation.CurrencySuffix == "" {
		cnf.Generation.CurrencySuffix = "so'm"
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}

	return nil
}

// GenerationTimeout returns the configured provider call timeout as a duration.
func (cnf *Configuration) GenerationTimeout() time.Duration {
	return time.Duration(cnf.Generation.DefaultTimeout) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
