package access

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crede/internal/models"
	"crede/internal/repo"
)

func newIntake(t *testing.T) (*PhotoIntake, *fixture) {
	t.Helper()
	f := newFixture(t)
	return &PhotoIntake{
		Devices:   repo.NewDeviceStore(f.db),
		Photos:    repo.NewPhotoStore(f.db),
		Attempts:  repo.NewAttemptStore(f.db),
		MediaRoot: t.TempDir(),
	}, f
}

func TestIntakeStore_IdentifiedPerson(t *testing.T) {
	intake, f := newIntake(t)
	ctx := context.Background()

	// The identification wrote an attempt the capture should attach to.
	v := f.engine.Decide(ctx, f.event())
	require.Equal(t, EventGranted, v.Event)

	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	photo, err := intake.Store(ctx, f.device.RemoteID, f.person.ID, base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)

	assert.Equal(t, models.PhotoKindAccess, photo.Kind)
	assert.Equal(t, models.PhotoOwnerPerson, photo.OwnerKind)
	assert.Equal(t, f.person.ID, photo.OwnerID)
	assert.True(t, strings.HasPrefix(photo.LocalPath, "/midia/pessoas/1/acessos/"), photo.LocalPath)

	onDisk, err := os.ReadFile(filepath.Join(intake.MediaRoot, strings.TrimPrefix(photo.LocalPath, "/")))
	require.NoError(t, err)
	assert.Equal(t, raw, onDisk)

	attempt, err := repo.NewAttemptStore(f.db).Latest(ctx, f.device.ID, &f.person.ID)
	require.NoError(t, err)
	require.NotNil(t, attempt.PhotoID)
	assert.Equal(t, photo.ID, *attempt.PhotoID)
}

func TestIntakeStore_UnidentifiedFiledUnderReader(t *testing.T) {
	intake, f := newIntake(t)
	ctx := context.Background()

	photo, err := intake.Store(ctx, f.device.RemoteID, 0, base64.StdEncoding.EncodeToString([]byte("img")))
	require.NoError(t, err)

	assert.Equal(t, models.PhotoOwnerDevice, photo.OwnerKind)
	assert.Equal(t, f.device.ID, photo.OwnerID)
	assert.True(t, strings.HasPrefix(photo.LocalPath, "/midia/acessos/nao_identificados/"), photo.LocalPath)
}

func TestIntakeStore_NoAttemptToLinkIsNotAnError(t *testing.T) {
	intake, f := newIntake(t)
	photo, err := intake.Store(context.Background(), f.device.RemoteID, f.person.ID,
		base64.StdEncoding.EncodeToString([]byte("img")))
	require.NoError(t, err)
	assert.NotZero(t, photo.ID)
}

func TestIntakeStore_Rejections(t *testing.T) {
	intake, f := newIntake(t)
	ctx := context.Background()

	_, err := intake.Store(ctx, f.device.RemoteID, f.person.ID, "")
	assert.Error(t, err)

	_, err = intake.Store(ctx, 999, f.person.ID, base64.StdEncoding.EncodeToString([]byte("img")))
	assert.Error(t, err)

	_, err = intake.Store(ctx, f.device.RemoteID, f.person.ID, "not-base64!!!")
	assert.Error(t, err)

	var photos []models.Photo
	require.NoError(t, f.db.Find(&photos).Error)
	assert.Empty(t, photos)
}
