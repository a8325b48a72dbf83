package server

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"crede/config"
	"crede/internal/access"
	"crede/internal/db"
	"crede/internal/jobs"
	"crede/internal/models"
	"crede/internal/provision"
	"crede/internal/reader"
	"crede/internal/repo"
	"crede/internal/syncer"
)

// Runtime bundles the database, stores and reader client shared by every
// mode of the binary (webhook server, cron loop, sync run, job worker).
type Runtime struct {
	Cfg *config.Config
	DB  *gorm.DB

	Devices     *repo.DeviceStore
	Persons     *repo.PersonStore
	Credentials *repo.CredentialStore
	Batches     *repo.BatchStore
	Photos      *repo.PhotoStore
	Deliveries  *repo.DeliveryStore
	Attempts    *repo.AttemptStore
	Jobs        *repo.JobStore

	Client   *reader.Client
	Sessions *reader.SessionManager
}

// NewRuntime opens the database, migrates the schema and wires the stores.
// A database that cannot be reached at startup is fatal to the caller.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	d, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open failed: %w", err)
	}
	if err := d.AutoMigrate(
		&models.Device{},
		&models.Sector{},
		&models.Person{},
		&models.Credential{},
		&models.Batch{},
		&models.BatchSector{},
		&models.BatchPeriod{},
		&models.AccessAttempt{},
		&models.Photo{},
		&models.SyncJob{},
		&models.Delivery{},
	); err != nil {
		return nil, fmt.Errorf("db migrate failed: %w", err)
	}

	rt := &Runtime{
		Cfg:         cfg,
		DB:          d,
		Devices:     repo.NewDeviceStore(d),
		Persons:     repo.NewPersonStore(d),
		Credentials: repo.NewCredentialStore(d),
		Batches:     repo.NewBatchStore(d),
		Photos:      repo.NewPhotoStore(d),
		Deliveries:  repo.NewDeliveryStore(d),
		Attempts:    repo.NewAttemptStore(d),
		Jobs:        repo.NewJobStore(d),
		Client:      reader.NewClient(),
	}
	rt.Sessions = reader.NewSessionManager(rt.Client, rt.Devices)
	return rt, nil
}

func (rt *Runtime) Coordinator() *syncer.Coordinator {
	return &syncer.Coordinator{
		Devices:    rt.Devices,
		Persons:    rt.Persons,
		Photos:     rt.Photos,
		Deliveries: rt.Deliveries,
		Sessions:   rt.Sessions,
		Client:     rt.Client,
		Opts: syncer.Options{
			BatchBytes:    rt.Cfg.Sync.BatchBytes,
			MaxRetries:    rt.Cfg.Sync.MaxRetries,
			RetryDelay:    time.Duration(rt.Cfg.Sync.RetryDelaySec) * time.Second,
			WorkerTimeout: time.Duration(rt.Cfg.Sync.WorkerSec) * time.Second,
			MediaRoot:     rt.Cfg.Crede.MediaRoot,
		},
	}
}

func (rt *Runtime) JobWorker() *jobs.Worker {
	return &jobs.Worker{
		Jobs:       rt.Jobs,
		Devices:    rt.Devices,
		Persons:    rt.Persons,
		Photos:     rt.Photos,
		Deliveries: rt.Deliveries,
		Sessions:   rt.Sessions,
		Client:     rt.Client,
		MediaRoot:  rt.Cfg.Crede.MediaRoot,
	}
}

func (rt *Runtime) Provisioner() *provision.Provisioner {
	return &provision.Provisioner{
		Devices:        rt.Devices,
		Sessions:       rt.Sessions,
		Client:         rt.Client,
		MasterPassword: rt.Cfg.Crede.MasterPassword,
		CallbackPort:   rt.Cfg.Server.HTTPPort,
	}
}

func (rt *Runtime) Monitor() *provision.Monitor {
	return &provision.Monitor{
		Devices:      rt.Devices,
		OfflineAfter: time.Duration(rt.Cfg.Monitor.OfflineAfterSec) * time.Second,
	}
}

func (rt *Runtime) Engine() *access.Engine {
	return &access.Engine{
		Devices:     rt.Devices,
		Persons:     rt.Persons,
		Credentials: rt.Credentials,
		Batches:     rt.Batches,
		Attempts:    rt.Attempts,
		Policy:      access.WindowPolicy(strings.ToLower(rt.Cfg.Access.NoWindowPolicy)),
	}
}

func (rt *Runtime) PhotoIntake() *access.PhotoIntake {
	return &access.PhotoIntake{
		Devices:   rt.Devices,
		Photos:    rt.Photos,
		Attempts:  rt.Attempts,
		MediaRoot: rt.Cfg.Crede.MediaRoot,
	}
}
