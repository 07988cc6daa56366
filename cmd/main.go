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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marcdevi/kpata"
	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/database"
	"github.com/marcdevi/kpata/internal/notification"
)

// Kpata represents the CLI application, encapsulating the root Cobra command.
type Kpata struct {
	cmd *cobra.Command
}

// kpataInstance holds the service instance and its configuration for the
// subcommands.
type kpataInstance struct {
	kpata *kpata.Kpata
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the service instance before any
// subcommand runs.
func preRun(app *kpataInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("kpata.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newKpata, err := setupKpata(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.kpata = newKpata
		app.cnf = cnf

		return nil
	}
}

func setupKpata(cfg *config.Configuration) (*kpata.Kpata, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newKpata, err := kpata.NewKpata(db)
	if err != nil {
		return nil, fmt.Errorf("error creating kpata: %v", err)
	}
	return newKpata, nil
}

// NewCLI creates the command-line interface for the application.
func NewCLI() *Kpata {
	var configFile string
	k := &kpataInstance{}

	var rootCmd = &cobra.Command{
		Use:   "kpata",
		Short: "Product photo generation backend",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./kpata.json", "Configuration file for the server")

	rootCmd.PersistentPreRunE = preRun(k)

	rootCmd.AddCommand(serverCommands(k))
	rootCmd.AddCommand(workerCommands(k))
	rootCmd.AddCommand(migrateCommands(k))

	return &Kpata{cmd: rootCmd}
}

func (w Kpata) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
