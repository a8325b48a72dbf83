package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/reader"
	"crede/internal/repo"
)

// Repositories the coordinator consumes.
type DeviceRepo interface {
	All(ctx context.Context) ([]models.Device, error)
}
type PersonRepo interface {
	WithActiveCredential(ctx context.Context) ([]models.Person, error)
}
type PhotoRepo interface {
	LatestEnrollment(ctx context.Context, personID uint) (*models.Photo, error)
	LatestUndelivered(ctx context.Context, personID, deviceID uint) (*models.Photo, error)
}
type DeliveryRepo interface {
	Record(ctx context.Context, deviceID, photoID uint, ok bool, message string) error
}

type Options struct {
	BatchBytes    int           // max encoded payload per upload call
	MaxRetries    int           // attempts per session check / per batch
	RetryDelay    time.Duration // fixed delay between attempts
	WorkerTimeout time.Duration // join timeout per reader worker
	MediaRoot     string
}

// Coordinator drives one synchronization run: a worker per eligible reader,
// each discovering undelivered photos and pushing them in bounded batches.
// Workers are independent; all shared state lives in the database.
type Coordinator struct {
	Devices    DeviceRepo
	Persons    PersonRepo
	Photos     PhotoRepo
	Deliveries DeliveryRepo
	Sessions   *reader.SessionManager
	Client     *reader.Client
	Opts       Options
}

// Run synchronizes every eligible reader. Readers that are inactive or not
// yet configured are skipped (logged, not failed). force ignores delivery
// history and re-sends the newest photo of every person.
func (c *Coordinator) Run(ctx context.Context, force bool) error {
	devices, err := c.Devices.All(ctx)
	if err != nil {
		return fmt.Errorf("loading readers: %w", err)
	}
	if len(devices) == 0 {
		logs.Logger.Info("no readers registered, nothing to synchronize")
		return nil
	}

	type worker struct {
		dev    models.Device
		done   chan error
		cancel context.CancelFunc
	}
	var workers []*worker
	for _, dev := range devices {
		if !dev.Active || !dev.Configured {
			logs.Logger.Infof("reader %s skipped (active=%v, configured=%v)", dev.Name, dev.Active, dev.Configured)
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, c.Opts.WorkerTimeout)
		w := &worker{dev: dev, done: make(chan error, 1), cancel: cancel}
		workers = append(workers, w)
		go func(w *worker) {
			defer w.cancel()
			w.done <- c.SyncDevice(wctx, &w.dev, force)
		}(w)
		logs.Logger.Infof("sync worker started for reader %s", w.dev.Name)
	}

	// Join each worker with its own timeout so one stuck reader cannot
	// silently stall the run. The context cancel reaches the worker's
	// in-flight HTTP calls, so an abandoned worker does not leak its
	// connection.
	for _, w := range workers {
		select {
		case err := <-w.done:
			if err != nil {
				logs.Logger.Errorf("reader %s: synchronization failed: %v", w.dev.Name, err)
			} else {
				logs.Logger.Infof("reader %s: synchronization finished", w.dev.Name)
			}
		case <-time.After(c.Opts.WorkerTimeout):
			w.cancel()
			logs.Logger.Errorf("reader %s: sync worker did not finish in time, abandoned", w.dev.Name)
		}
	}
	logs.Logger.Info("all sync workers joined")
	return nil
}

// SyncDevice runs the full discovery/batching/upload pass for one reader.
func (c *Coordinator) SyncDevice(ctx context.Context, dev *models.Device, force bool) error {
	session, err := c.ensureSession(ctx, dev)
	if err != nil {
		return err
	}

	persons, err := c.Persons.WithActiveCredential(ctx)
	if err != nil {
		return fmt.Errorf("loading persons: %w", err)
	}
	if len(persons) == 0 {
		logs.Logger.Infof("reader %s: no persons with an active credential", dev.Name)
		return nil
	}

	now := time.Now().Unix()
	var items []Item
	for _, person := range persons {
		var photo *models.Photo
		if force {
			photo, err = c.Photos.LatestEnrollment(ctx, person.ID)
		} else {
			photo, err = c.Photos.LatestUndelivered(ctx, person.ID, dev.ID)
		}
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("finding photo for person %d: %w", person.ID, err)
		}

		image, err := EncodePhoto(c.Opts.MediaRoot, photo)
		if err != nil {
			logs.Logger.Errorf("reader %s: person %d: %v, skipped", dev.Name, person.ID, err)
			continue
		}

		if err := c.ensureUser(ctx, dev, session, person); err != nil {
			logs.Logger.Errorf("reader %s: person %d: ensuring remote user failed: %v", dev.Name, person.ID, err)
			continue
		}

		items = append(items, Item{
			PhotoID: photo.ID,
			Image:   reader.UserImage{UserID: person.ID, Timestamp: now, Image: image},
		})
	}

	if len(items) == 0 {
		logs.Logger.Infof("reader %s: no new images to synchronize", dev.Name)
		return nil
	}

	logs.Logger.Infof("reader %s: sending %d images", dev.Name, len(items))
	for _, batch := range PackBatches(items, c.Opts.BatchBytes) {
		c.sendBatch(ctx, dev, batch)
	}
	return nil
}

// ensureSession validates/renews the session with the configured retry
// budget. Fixed delay between attempts.
func (c *Coordinator) ensureSession(ctx context.Context, dev *models.Device) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.Opts.MaxRetries; attempt++ {
		session, err := c.Sessions.Ensure(ctx, dev)
		if err == nil {
			return session, nil
		}
		lastErr = err
		logs.Logger.Errorf("reader %s: session attempt %d/%d failed: %v", dev.Name, attempt, c.Opts.MaxRetries, err)
		if attempt < c.Opts.MaxRetries {
			if err := sleep(ctx, c.Opts.RetryDelay); err != nil {
				return "", err
			}
		}
	}
	return "", lastErr
}

// ensureUser makes sure the person exists as a user object on the reader.
func (c *Coordinator) ensureUser(ctx context.Context, dev *models.Device, session string, person models.Person) error {
	users, err := c.Client.LoadObjects(ctx, dev.Addr, session, "users", []reader.Filter{
		{Object: "users", Field: "id", Operator: "=", Value: person.ID},
	})
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	_, err = c.Client.CreateObjects(ctx, dev.Addr, session, "users", []map[string]any{{
		"id":           person.ID,
		"registration": fmt.Sprintf("%d", person.ID),
		"name":         person.Name,
	}})
	if err == nil {
		logs.Logger.Infof("reader %s: user %s created", dev.Name, person.Name)
	}
	return err
}

// sendBatch uploads one batch, retrying the whole batch on failure. The
// session is re-validated before every attempt (it may have expired during a
// long upload). After the retry budget is exhausted every item is recorded
// as a failed delivery with the last error.
func (c *Coordinator) sendBatch(ctx context.Context, dev *models.Device, batch []Item) {
	var lastErr error
	for attempt := 1; attempt <= c.Opts.MaxRetries; attempt++ {
		session, err := c.Sessions.Ensure(ctx, dev)
		if err != nil {
			lastErr = err
		} else {
			images := make([]reader.UserImage, len(batch))
			for i, it := range batch {
				images[i] = it.Image
			}
			err = c.Client.SetUserImages(ctx, dev.Addr, session, images)
			if err == nil {
				for _, it := range batch {
					if rerr := c.Deliveries.Record(ctx, dev.ID, it.PhotoID, true, "image synchronized"); rerr != nil {
						logs.Logger.Errorf("reader %s: recording delivery of photo %d: %v", dev.Name, it.PhotoID, rerr)
					}
				}
				logs.Logger.Infof("reader %s: batch of %d images sent", dev.Name, len(batch))
				return
			}
			lastErr = err
		}
		logs.Logger.Errorf("reader %s: batch attempt %d/%d failed: %v", dev.Name, attempt, c.Opts.MaxRetries, lastErr)
		if attempt < c.Opts.MaxRetries {
			if err := sleep(ctx, c.Opts.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
	}
	msg := fmt.Sprintf("synchronization failed: %v", lastErr)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	for _, it := range batch {
		if rerr := c.Deliveries.Record(ctx, dev.ID, it.PhotoID, false, msg); rerr != nil {
			logs.Logger.Errorf("reader %s: recording failed delivery of photo %d: %v", dev.Name, it.PhotoID, rerr)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
