package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/reader"
	"crede/internal/repo"
)

func TestMain(m *testing.M) {
	logs.Init(logs.Options{Level: "error"})
	os.Exit(m.Run())
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Device{},
		&models.Person{},
		&models.Credential{},
		&models.Photo{},
		&models.Delivery{},
	))
	return db
}

// fakeReader emulates one device's .fcgi API and counts requests.
type fakeReader struct {
	srv        *httptest.Server
	requests   atomic.Int32
	uploads    atomic.Int32
	loginFail  atomic.Bool
	uploadFail atomic.Bool
	knownUsers atomic.Bool
	created    atomic.Int32
}

func newFakeReader(t *testing.T) *fakeReader {
	t.Helper()
	f := &fakeReader{}
	f.knownUsers.Store(true)
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		switch r.URL.Path {
		case "/login.fcgi":
			if f.loginFail.Load() {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"session": "tok"})
		case "/session_is_valid.fcgi":
			json.NewEncoder(w).Encode(map[string]bool{"session_is_valid": true})
		case "/load_objects.fcgi":
			users := []map[string]any{}
			if f.knownUsers.Load() {
				users = append(users, map[string]any{"id": 1})
			}
			json.NewEncoder(w).Encode(map[string]any{"users": users})
		case "/create_objects.fcgi":
			f.created.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"ids": []int{1}})
		case "/user_set_image_list.fcgi":
			f.uploads.Add(1)
			if f.uploadFail.Load() {
				http.Error(w, "storage full", http.StatusInternalServerError)
				return
			}
			w.Write([]byte("{}"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeReader) addr() string { return strings.TrimPrefix(f.srv.URL, "http://") }

type coordFixture struct {
	db    *gorm.DB
	coord *Coordinator
	root  string
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	db := testDB(t)
	root := t.TempDir()

	devices := repo.NewDeviceStore(db)
	client := reader.NewClient()
	return &coordFixture{
		db:   db,
		root: root,
		coord: &Coordinator{
			Devices:    devices,
			Persons:    repo.NewPersonStore(db),
			Photos:     repo.NewPhotoStore(db),
			Deliveries: repo.NewDeliveryStore(db),
			Sessions:   reader.NewSessionManager(client, devices),
			Client:     client,
			Opts: Options{
				BatchBytes:    2 * 1024 * 1024,
				MaxRetries:    3,
				RetryDelay:    time.Millisecond,
				WorkerTimeout: 10 * time.Second,
				MediaRoot:     root,
			},
		},
	}
}

func (f *coordFixture) addDevice(t *testing.T, r *fakeReader, active, configured bool) models.Device {
	t.Helper()
	d := models.Device{Name: "reader", Addr: r.addr(), Active: active, Configured: configured}
	require.NoError(t, f.db.Create(&d).Error)
	return d
}

func (f *coordFixture) addPersonWithPhoto(t *testing.T, name string) models.Person {
	t.Helper()
	p := models.Person{Name: name, Active: true}
	require.NoError(t, f.db.Create(&p).Error)
	require.NoError(t, f.db.Create(&models.Credential{PersonID: p.ID, BatchID: 1, Active: true}).Error)

	dir := filepath.Join(f.root, "midia", "pessoas")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := name + ".jpg"
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte("jpeg-"+name), 0o644))
	require.NoError(t, f.db.Create(&models.Photo{
		OwnerID: p.ID, OwnerKind: models.PhotoOwnerPerson,
		Kind: models.PhotoKindEnrollment, LocalPath: "/midia/pessoas/" + file,
	}).Error)
	return p
}

func (f *coordFixture) deliveries(t *testing.T) []models.Delivery {
	t.Helper()
	var out []models.Delivery
	require.NoError(t, f.db.Order("id").Find(&out).Error)
	return out
}

func TestCoordinatorRun_DeliversOnce(t *testing.T) {
	r := newFakeReader(t)
	f := newCoordFixture(t)
	f.addDevice(t, r, true, true)
	f.addPersonWithPhoto(t, "alice")

	require.NoError(t, f.coord.Run(context.Background(), false))
	assert.Equal(t, int32(1), r.uploads.Load())

	rows := f.deliveries(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].OK)

	// Second pass: the photo is delivered, nothing to send.
	require.NoError(t, f.coord.Run(context.Background(), false))
	assert.Equal(t, int32(1), r.uploads.Load())
	assert.Len(t, f.deliveries(t), 1)
}

func TestCoordinatorRun_ForceResends(t *testing.T) {
	r := newFakeReader(t)
	f := newCoordFixture(t)
	f.addDevice(t, r, true, true)
	f.addPersonWithPhoto(t, "alice")

	require.NoError(t, f.coord.Run(context.Background(), false))
	require.NoError(t, f.coord.Run(context.Background(), true))
	assert.Equal(t, int32(2), r.uploads.Load())
}

func TestCoordinatorRun_SkipsIneligibleReaders(t *testing.T) {
	inactive := newFakeReader(t)
	unprovisioned := newFakeReader(t)
	f := newCoordFixture(t)
	f.addDevice(t, inactive, false, true)
	f.addDevice(t, unprovisioned, true, false)
	f.addPersonWithPhoto(t, "alice")

	require.NoError(t, f.coord.Run(context.Background(), false))
	assert.Zero(t, inactive.requests.Load(), "inactive reader must not be contacted")
	assert.Zero(t, unprovisioned.requests.Load(), "unprovisioned reader must not be contacted")
	assert.Empty(t, f.deliveries(t))
}

func TestCoordinatorRun_UploadFailureRecordsFailedDeliveries(t *testing.T) {
	r := newFakeReader(t)
	r.uploadFail.Store(true)
	f := newCoordFixture(t)
	f.addDevice(t, r, true, true)
	f.addPersonWithPhoto(t, "alice")
	f.addPersonWithPhoto(t, "bob")

	require.NoError(t, f.coord.Run(context.Background(), false))
	assert.Equal(t, int32(3), r.uploads.Load(), "whole batch retried MaxRetries times")

	rows := f.deliveries(t)
	require.Len(t, rows, 2, "one failed row per photo in the batch")
	for _, d := range rows {
		assert.False(t, d.OK)
		assert.Contains(t, d.Message, "synchronization failed")
	}

	// The failure left no successful record, so the next pass tries again.
	r.uploadFail.Store(false)
	require.NoError(t, f.coord.Run(context.Background(), false))
	assert.Equal(t, int32(4), r.uploads.Load())
}

func TestCoordinatorRun_LoginFailureSkipsReader(t *testing.T) {
	r := newFakeReader(t)
	r.loginFail.Store(true)
	f := newCoordFixture(t)
	f.addDevice(t, r, true, true)
	f.addPersonWithPhoto(t, "alice")

	require.NoError(t, f.coord.Run(context.Background(), false), "one failing reader does not fail the run")
	assert.Zero(t, r.uploads.Load())
	assert.Empty(t, f.deliveries(t))
}

func TestCoordinatorRun_CreatesMissingUsers(t *testing.T) {
	r := newFakeReader(t)
	r.knownUsers.Store(false)
	f := newCoordFixture(t)
	f.addDevice(t, r, true, true)
	f.addPersonWithPhoto(t, "alice")

	require.NoError(t, f.coord.Run(context.Background(), false))
	assert.Equal(t, int32(1), r.created.Load())
	assert.Equal(t, int32(1), r.uploads.Load())
}

func TestSyncDevice_MissingImageSkipsPerson(t *testing.T) {
	r := newFakeReader(t)
	f := newCoordFixture(t)
	dev := f.addDevice(t, r, true, true)
	f.addPersonWithPhoto(t, "alice")

	// bob's photo row exists but the file is gone
	bob := models.Person{Name: "bob", Active: true}
	require.NoError(t, f.db.Create(&bob).Error)
	require.NoError(t, f.db.Create(&models.Credential{PersonID: bob.ID, BatchID: 1, Active: true}).Error)
	require.NoError(t, f.db.Create(&models.Photo{
		OwnerID: bob.ID, OwnerKind: models.PhotoOwnerPerson,
		Kind: models.PhotoKindEnrollment, LocalPath: "/midia/pessoas/gone.jpg",
	}).Error)

	require.NoError(t, f.coord.SyncDevice(context.Background(), &dev, false))
	rows := f.deliveries(t)
	require.Len(t, rows, 1, "only alice's photo is sent")
	assert.True(t, rows[0].OK)
}
