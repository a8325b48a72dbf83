package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/reader"
	"crede/internal/syncer"
)

// Repositories the worker consumes.
type JobRepo interface {
	Pending(ctx context.Context, limit int) ([]models.SyncJob, error)
	ByID(ctx context.Context, id uint) (*models.SyncJob, error)
	Claim(ctx context.Context, j *models.SyncJob) (bool, error)
	MarkDone(ctx context.Context, id uint, message string) error
	MarkFailedOrRetry(ctx context.Context, id uint, errMsg string, attempts, maxAttempts int) error
}
type DeviceRepo interface {
	Eligible(ctx context.Context) ([]models.Device, error)
}
type PersonRepo interface {
	ByID(ctx context.Context, id uint) (*models.Person, error)
}
type PhotoRepo interface {
	ByID(ctx context.Context, id uint) (*models.Photo, error)
}
type DeliveryRepo interface {
	Record(ctx context.Context, deviceID, photoID uint, ok bool, message string) error
}

// Worker processes queued on-demand image distributions: one photo fanned
// out to every eligible reader. Partial success completes the job: readers
// that failed keep no successful delivery record and are caught by the next
// routine sync pass.
type Worker struct {
	Jobs       JobRepo
	Devices    DeviceRepo
	Persons    PersonRepo
	Photos     PhotoRepo
	Deliveries DeliveryRepo
	Sessions   *reader.SessionManager
	Client     *reader.Client
	MediaRoot  string
}

// Run claims and processes up to limit eligible jobs, or exactly the job
// with jobID when it is non-zero (regardless of its status).
func (w *Worker) Run(ctx context.Context, limit int, jobID uint) (processed, succeeded int, err error) {
	var batch []models.SyncJob
	if jobID != 0 {
		job, err := w.Jobs.ByID(ctx, jobID)
		if err != nil {
			return 0, 0, fmt.Errorf("loading job %d: %w", jobID, err)
		}
		batch = []models.SyncJob{*job}
	} else {
		batch, err = w.Jobs.Pending(ctx, limit)
		if err != nil {
			return 0, 0, fmt.Errorf("loading pending jobs: %w", err)
		}
	}
	if len(batch) == 0 {
		logs.Logger.Info("no pending jobs")
		return 0, 0, nil
	}

	for i := range batch {
		job := &batch[i]
		claimed, err := w.Jobs.Claim(ctx, job)
		if err != nil {
			logs.Logger.Errorf("job %d: claim failed: %v", job.ID, err)
			continue
		}
		if !claimed {
			logs.Logger.Infof("job %d already claimed by another worker", job.ID)
			continue
		}
		processed++
		logs.Logger.Infof("job %d: processing (attempt %d/%d)", job.ID, job.Attempts, job.MaxAttempts)

		ok, msg := w.execute(ctx, job)
		if ok {
			if err := w.Jobs.MarkDone(ctx, job.ID, msg); err != nil {
				logs.Logger.Errorf("job %d: marking done: %v", job.ID, err)
			}
			logs.Logger.Infof("job %d done: %s", job.ID, msg)
			succeeded++
		} else {
			if err := w.Jobs.MarkFailedOrRetry(ctx, job.ID, msg, job.Attempts, job.MaxAttempts); err != nil {
				logs.Logger.Errorf("job %d: marking failure: %v", job.ID, err)
			}
			logs.Logger.Errorf("job %d failed: %s", job.ID, msg)
		}
	}
	return processed, succeeded, nil
}

// execute distributes the job's photo to every eligible reader. Returns the
// outcome plus a summary message. Zero successes fail the job; one or more
// complete it.
func (w *Worker) execute(ctx context.Context, job *models.SyncJob) (bool, string) {
	person, err := w.Persons.ByID(ctx, job.PersonID)
	if err != nil {
		return false, fmt.Sprintf("person %d not found", job.PersonID)
	}
	photo, err := w.Photos.ByID(ctx, job.PhotoID)
	if err != nil {
		return false, fmt.Sprintf("photo %d not found", job.PhotoID)
	}
	image, err := syncer.EncodePhoto(w.MediaRoot, photo)
	if err != nil {
		return false, fmt.Sprintf("reading image: %v", err)
	}

	devices, err := w.Devices.Eligible(ctx)
	if err != nil {
		return false, fmt.Sprintf("loading readers: %v", err)
	}
	if len(devices) == 0 {
		return false, "no eligible readers"
	}

	var (
		successes int
		errs      []string
	)
	for i := range devices {
		dev := &devices[i]
		if err := w.sendToDevice(ctx, dev, person, photo.ID, image); err != nil {
			errs = append(errs, fmt.Sprintf("reader %s: %v", dev.Name, err))
			continue
		}
		successes++
	}

	switch {
	case successes == 0:
		return false, fmt.Sprintf("all readers failed: %s", strings.Join(firstN(errs, 3), "; "))
	case successes == len(devices):
		return true, fmt.Sprintf("image delivered to %d reader(s)", successes)
	default:
		return true, fmt.Sprintf("delivered to %d/%d readers; some errors: %s",
			successes, len(devices), strings.Join(firstN(errs, 2), "; "))
	}
}

func (w *Worker) sendToDevice(ctx context.Context, dev *models.Device, person *models.Person, photoID uint, image string) error {
	session, err := w.Sessions.Ensure(ctx, dev)
	if err != nil {
		return err
	}

	users, err := w.Client.LoadObjects(ctx, dev.Addr, session, "users", []reader.Filter{
		{Object: "users", Field: "id", Operator: "=", Value: person.ID},
	})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		if _, err := w.Client.CreateObjects(ctx, dev.Addr, session, "users", []map[string]any{{
			"id":           person.ID,
			"registration": fmt.Sprintf("%d", person.ID),
			"name":         person.Name,
		}}); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
	}

	err = w.Client.SetUserImages(ctx, dev.Addr, session, []reader.UserImage{{
		UserID:    person.ID,
		Timestamp: time.Now().Unix(),
		Image:     image,
	}})
	msg := "synchronized via job"
	ok := err == nil
	if !ok {
		msg = truncate(fmt.Sprintf("error: %v", err), 200)
	}
	if rerr := w.Deliveries.Record(ctx, dev.ID, photoID, ok, msg); rerr != nil {
		logs.Logger.Errorf("reader %s: recording delivery of photo %d: %v", dev.Name, photoID, rerr)
	}
	return err
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
