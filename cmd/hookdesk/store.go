package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/foxzi/hookdesk/internal/app"
	"github.com/foxzi/hookdesk/internal/audit"
	"github.com/foxzi/hookdesk/internal/config"
	"github.com/foxzi/hookdesk/internal/logging"
	"github.com/foxzi/hookdesk/internal/models"
	"github.com/foxzi/hookdesk/internal/repository"
)

// cliEnv is what the management commands share
type cliEnv struct {
	cfg      *config.Config
	store    *repository.Store
	logger   *zap.Logger
	recorder *audit.Recorder
	close    func() error
}

// openEnv loads configuration and opens the store. Service logs are limited
// to warnings so they do not mix with command output.
func openEnv() (*cliEnv, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == app.DriverMemory {
		return nil, fmt.Errorf("management commands need a persistent database, driver is %q", cfg.Database.Driver)
	}

	logger, err := logging.New("warn", cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := app.OpenStore(&cfg.Database)
	if err != nil {
		return nil, err
	}

	return &cliEnv{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		recorder: audit.NewRecorder(store.Audit, nil, logger),
		close:    closeStore,
	}, nil
}

func (e *cliEnv) Close() {
	if err := e.close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close database: %v\n", err)
	}
	_ = e.logger.Sync()
}

var actorEmail string

// actor resolves --as to a user. Without it mutations are attributed to system.
func (e *cliEnv) actor(ctx context.Context) (models.Actor, error) {
	if actorEmail == "" {
		return models.Actor{UserID: models.ActorSystem}, nil
	}
	user, err := e.store.Users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(actorEmail)))
	if err != nil {
		return models.Actor{}, fmt.Errorf("user %s: %w", actorEmail, err)
	}
	return models.Actor{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
