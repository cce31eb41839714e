// Package util provides common utilities for spf13/cobra CLI utilities
// that can be used for various commands within this project.
package util

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	serverconfig "github.com/docmediator/docmediator/internal/server/config"
	"github.com/docmediator/docmediator/pkg/logger"
	"github.com/docmediator/docmediator/pkg/metadata"
	"github.com/docmediator/docmediator/pkg/storage"
	"github.com/docmediator/docmediator/pkg/storage/memory"
	"github.com/docmediator/docmediator/pkg/storage/mysql"
	"github.com/docmediator/docmediator/pkg/storage/postgres"
	"github.com/docmediator/docmediator/pkg/storage/sqlcommon"
	"github.com/docmediator/docmediator/pkg/storage/sqlite"
)

// MustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func MustBindEnv(input ...string) {
	if err := viper.BindEnv(input...); err != nil {
		panic("failed to bind env key: " + err.Error())
	}
}

// ReadConfig returns the server configuration based on the values provided in the 'config.yaml' file,
// the environment and the bound flags. If no configuration file is present, the default values are returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load server config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}

	return config, nil
}

// NewDatastore opens the datastore configured by config.
func NewDatastore(config *serverconfig.DatastoreConfig, l logger.Logger) (storage.Datastore, error) {
	options := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(config.Username),
		sqlcommon.WithPassword(config.Password),
		sqlcommon.WithLogger(l),
		sqlcommon.WithMaxDocumentsPerWrite(config.MaxDocumentsPerWrite),
		sqlcommon.WithMaxOpenConns(config.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.ConnMaxLifetime),
	}
	if config.Metrics.Enabled {
		options = append(options, sqlcommon.WithMetrics())
	}
	dsCfg := sqlcommon.NewConfig(options...)

	var (
		ds  storage.Datastore
		err error
	)
	switch config.Engine {
	case "memory":
		ds = memory.New()
	case "mysql":
		ds, err = mysql.New(config.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize mysql datastore: %w", err)
		}
	case "postgres":
		ds, err = postgres.New(config.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
	case "sqlite":
		ds, err = sqlite.New(config.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Engine)
	}

	return ds, nil
}

// NewBackends returns a backend registry whose default backend is the
// configured datastore.
func NewBackends(config *serverconfig.DatastoreConfig, l logger.Logger) (*storage.Registry, error) {
	ds, err := NewDatastore(config, l)
	if err != nil {
		return nil, err
	}
	backends := storage.NewRegistry(config.Engine)
	backends.Register(config.Engine, ds)
	return backends, nil
}

// LoadMetadata returns a registry holding the entities described under dir.
func LoadMetadata(dir string) (*metadata.MemoryRegistry, error) {
	reg := metadata.NewMemoryRegistry()
	if dir == "" {
		return reg, nil
	}
	if err := reg.LoadDir(dir); err != nil {
		return nil, fmt.Errorf("load metadata from '%s': %w", dir, err)
	}
	return reg, nil
}
