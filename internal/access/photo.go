package access

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/repo"
)

type PhotoRepo interface {
	Create(ctx context.Context, p *models.Photo) error
}
type AttemptLinker interface {
	Latest(ctx context.Context, deviceID uint, personID *uint) (*models.AccessAttempt, error)
	AttachPhoto(ctx context.Context, attemptID, photoID uint) error
}

// PhotoIntake stores access captures uploaded by readers after an
// identification event and links them to the attempt row the event wrote.
// The directory layout matches the management system's media tree.
type PhotoIntake struct {
	Devices   DeviceRepo
	Photos    PhotoRepo
	Attempts  AttemptLinker
	MediaRoot string
}

// Store decodes and saves one capture. personID == 0 files the photo under
// the reader's unidentified-access directory.
func (p *PhotoIntake) Store(ctx context.Context, deviceID int, personID uint, imageB64 string) (*models.Photo, error) {
	if imageB64 == "" {
		return nil, fmt.Errorf("empty photo")
	}
	dev, err := p.Devices.ByRemoteID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("unknown reader %d", deviceID)
	}

	raw, err := base64.StdEncoding.DecodeString(imageB64)
	if err != nil {
		return nil, fmt.Errorf("decoding photo: %w", err)
	}

	var (
		dir       string
		ownerID   uint
		ownerKind string
	)
	if personID > 0 {
		dir = fmt.Sprintf("/midia/pessoas/%d/acessos", personID)
		ownerID = personID
		ownerKind = models.PhotoOwnerPerson
	} else {
		dir = "/midia/acessos/nao_identificados"
		ownerID = dev.ID
		ownerKind = models.PhotoOwnerDevice
	}
	fullDir := filepath.Join(p.MediaRoot, strings.TrimPrefix(dir, "/"))
	if err := os.MkdirAll(fullDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}

	name := fmt.Sprintf("acesso_%s_%s.jpg", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	localPath := dir + "/" + name
	if err := os.WriteFile(filepath.Join(fullDir, name), raw, 0o644); err != nil {
		return nil, fmt.Errorf("writing photo: %w", err)
	}

	photo := &models.Photo{
		OwnerID:   ownerID,
		OwnerKind: ownerKind,
		Kind:      models.PhotoKindAccess,
		LocalPath: localPath,
	}
	if err := p.Photos.Create(ctx, photo); err != nil {
		return nil, fmt.Errorf("recording photo: %w", err)
	}

	// Link to the newest matching attempt. Absence is not an error; the
	// capture may arrive before (or without) an identification event.
	var pid *uint
	if personID > 0 {
		pid = &personID
	}
	attempt, err := p.Attempts.Latest(ctx, dev.ID, pid)
	switch {
	case err == repo.ErrNotFound:
		logs.Logger.Warnf("access photo: no attempt to link (reader %d, person %d)", dev.ID, personID)
	case err != nil:
		logs.Logger.Errorf("access photo: finding attempt: %v", err)
	default:
		if err := p.Attempts.AttachPhoto(ctx, attempt.ID, photo.ID); err != nil {
			logs.Logger.Errorf("access photo: linking attempt %d: %v", attempt.ID, err)
		}
	}
	return photo, nil
}
