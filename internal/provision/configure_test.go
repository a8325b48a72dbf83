package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/reader"
)

func TestMain(m *testing.M) {
	logs.Init(logs.Options{Level: "error"})
	os.Exit(m.Run())
}

type fakeDeviceRepo struct {
	mu         sync.Mutex
	remoteID   int
	serverID   int
	configured bool
}

func (f *fakeDeviceRepo) Unconfigured(ctx context.Context) ([]models.Device, error) {
	return nil, nil
}
func (f *fakeDeviceRepo) SetRemoteID(ctx context.Context, id uint, remoteID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteID = remoteID
	return nil
}
func (f *fakeDeviceRepo) SetServerID(ctx context.Context, id uint, serverID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverID = serverID
	return nil
}
func (f *fakeDeviceRepo) MarkConfigured(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = true
	return nil
}

type fakeSessionStore struct{}

func (fakeSessionStore) UpdateSession(ctx context.Context, deviceID uint, session string) error {
	return nil
}

// provisionReader emulates a factory-fresh reader: a device record for its
// own ip, object creation with assigned ids, and a config store.
type provisionReader struct {
	srv *httptest.Server

	mu           sync.Mutex
	nextID       int
	created      []map[string]any
	config       map[string]map[string]string
	passwordSet  string
	serverOnIP   bool
	masterCalled bool
}

func newProvisionReader(t *testing.T) *provisionReader {
	t.Helper()
	f := &provisionReader{nextID: 50, config: map[string]map[string]string{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/login.fcgi":
			json.NewEncoder(w).Encode(map[string]string{"session": "tok"})
		case "/session_is_valid.fcgi":
			json.NewEncoder(w).Encode(map[string]bool{"session_is_valid": true})
		case "/load_objects.fcgi":
			var body struct {
				Where []reader.Filter `json:"where"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			records := []map[string]any{}
			if len(body.Where) > 0 && body.Where[0].Field == "ip" {
				records = append(records, map[string]any{"id": 7, "ip": body.Where[0].Value})
			}
			json.NewEncoder(w).Encode(map[string]any{"devices": records})
		case "/create_objects.fcgi":
			var body struct {
				Values []map[string]any `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.created = append(f.created, body.Values...)
			f.nextID++
			json.NewEncoder(w).Encode(map[string]any{"ids": []int{f.nextID}})
		case "/set_configuration.fcgi":
			var sections map[string]map[string]string
			json.NewDecoder(r.Body).Decode(&sections)
			for name, kv := range sections {
				if f.config[name] == nil {
					f.config[name] = map[string]string{}
				}
				for k, v := range kv {
					f.config[name][k] = v
				}
			}
			w.Write([]byte("{}"))
		case "/master_password.fcgi":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			f.masterCalled = true
			f.passwordSet = body["password"]
			w.Write([]byte("{}"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *provisionReader) addr() string { return strings.TrimPrefix(f.srv.URL, "http://") }

func newProvisioner(repo *fakeDeviceRepo, master string) *Provisioner {
	client := reader.NewClient()
	return &Provisioner{
		Devices:        repo,
		Sessions:       reader.NewSessionManager(client, fakeSessionStore{}),
		Client:         client,
		MasterPassword: master,
		CallbackPort:   "10080",
	}
}

func TestConfigure_FullSequence(t *testing.T) {
	fr := newProvisionReader(t)
	repo := &fakeDeviceRepo{}
	p := newProvisioner(repo, "rotated-secret")

	dev := &models.Device{
		ID: 1, Name: "hall", Addr: fr.addr(),
		Username: "admin", Password: "admin",
		ServerURL: "192.0.2.10",
	}
	require.NoError(t, p.Configure(context.Background(), dev))

	assert.Equal(t, 7, repo.remoteID, "reader-assigned device id persisted")
	assert.Equal(t, 51, repo.serverID, "created server object id persisted")
	assert.True(t, repo.configured)

	require.Len(t, fr.created, 1)
	assert.Equal(t, "Servidor do Credenciamento", fr.created[0]["name"])
	assert.Equal(t, "192.0.2.10:10080", fr.created[0]["ip"])

	assert.True(t, fr.masterCalled)
	assert.Equal(t, "rotated-secret", fr.passwordSet)

	assert.Equal(t, "51", fr.config["online_client"]["server_id"])
	assert.Equal(t, "1", fr.config["general"]["online"])
	assert.Equal(t, "0", fr.config["general"]["local_identification"])
	assert.Equal(t, "192.0.2.10", fr.config["monitor"]["hostname"])
	assert.Equal(t, "10080", fr.config["monitor"]["port"])
	assert.Equal(t, "api/notifications", fr.config["monitor"]["path"])
	assert.Equal(t, "1", fr.config["monitor"]["enable_photo_upload"])
	assert.Equal(t, "1", fr.config["onvif"]["rtsp_enabled"])
	assert.Equal(t, "admin", fr.config["onvif"]["rtsp_username"])
}

func TestConfigure_NoMasterPasswordKeepsFactoryOne(t *testing.T) {
	fr := newProvisionReader(t)
	repo := &fakeDeviceRepo{}
	p := newProvisioner(repo, "")

	dev := &models.Device{ID: 1, Name: "hall", Addr: fr.addr(), ServerURL: "192.0.2.10"}
	require.NoError(t, p.Configure(context.Background(), dev))
	assert.False(t, fr.masterCalled)
	assert.True(t, repo.configured)
}

type staleRepoFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f staleRepoFunc) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

func TestMonitor_CutoffFromOfflineAfter(t *testing.T) {
	var got time.Time
	m := &Monitor{
		Devices: staleRepoFunc(func(ctx context.Context, cutoff time.Time) (int64, error) {
			got = cutoff
			return 2, nil
		}),
		OfflineAfter: time.Minute,
	}
	require.NoError(t, m.Run(context.Background()))
	assert.WithinDuration(t, time.Now().Add(-time.Minute), got, 5*time.Second)
}
