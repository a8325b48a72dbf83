package provision

import (
	"context"
	"fmt"
	"strings"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/reader"
)

type DeviceRepo interface {
	Unconfigured(ctx context.Context) ([]models.Device, error)
	SetRemoteID(ctx context.Context, id uint, remoteID int) error
	SetServerID(ctx context.Context, id uint, serverID int) error
	MarkConfigured(ctx context.Context, id uint) error
}

// Provisioner brings factory-fresh readers under management: discovers the
// reader's own device id, registers this server on the reader, switches it
// to online mode with monitor callbacks, enables access-photo upload,
// configures the RTSP stream and rotates the master password.
type Provisioner struct {
	Devices  DeviceRepo
	Sessions *reader.SessionManager
	Client   *reader.Client

	MasterPassword string // empty = keep the factory password
	CallbackPort   string // port of this server's webhook listener
}

// Run configures every reader still flagged unconfigured. A failure aborts
// that reader only; it stays unconfigured and is retried on the next pass.
func (p *Provisioner) Run(ctx context.Context) error {
	devices, err := p.Devices.Unconfigured(ctx)
	if err != nil {
		return fmt.Errorf("loading unconfigured readers: %w", err)
	}
	if len(devices) == 0 {
		logs.Logger.Info("no readers waiting for provisioning")
		return nil
	}
	for i := range devices {
		dev := &devices[i]
		if err := p.Configure(ctx, dev); err != nil {
			logs.Logger.Errorf("reader %s: provisioning failed: %v", dev.Name, err)
			continue
		}
		logs.Logger.Infof("reader %s: provisioning finished", dev.Name)
	}
	return nil
}

// Configure runs the full provisioning sequence for one reader.
func (p *Provisioner) Configure(ctx context.Context, dev *models.Device) error {
	session, err := p.Sessions.Ensure(ctx, dev)
	if err != nil {
		return err
	}
	logs.Logger.Infof("reader %s: starting provisioning", dev.Name)

	if err := p.discoverRemoteID(ctx, dev, session); err != nil {
		return err
	}
	serverAddr := dev.ServerURL + ":" + p.CallbackPort
	if err := p.ensureServerObject(ctx, dev, session, serverAddr); err != nil {
		return err
	}
	if p.MasterPassword != "" {
		if err := p.Client.MasterPassword(ctx, dev.Addr, session, p.MasterPassword); err != nil {
			return fmt.Errorf("rotating master password: %w", err)
		}
		logs.Logger.Infof("reader %s: master password rotated", dev.Name)
	}
	if err := p.configureMonitor(ctx, dev, session, serverAddr); err != nil {
		return err
	}
	if err := p.configureRTSP(ctx, dev, session); err != nil {
		return err
	}
	return p.Devices.MarkConfigured(ctx, dev.ID)
}

// discoverRemoteID asks the reader for its own device record and persists
// the id it assigned itself; identification webhooks carry this id.
func (p *Provisioner) discoverRemoteID(ctx context.Context, dev *models.Device, session string) error {
	records, err := p.Client.LoadObjects(ctx, dev.Addr, session, "devices", []reader.Filter{
		{Object: "devices", Field: "ip", Operator: "=", Value: dev.Addr},
	})
	if err != nil {
		return fmt.Errorf("discovering device id: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("reader returned no device record for its own ip")
	}
	id, ok := asInt(records[0]["id"])
	if !ok {
		return fmt.Errorf("reader device record carries no numeric id")
	}
	if err := p.Devices.SetRemoteID(ctx, dev.ID, id); err != nil {
		return err
	}
	dev.RemoteID = id
	return nil
}

// ensureServerObject creates or updates the record on the reader that
// points back at this server, then switches the reader to online mode
// against it.
func (p *Provisioner) ensureServerObject(ctx context.Context, dev *models.Device, session, serverAddr string) error {
	serverID := dev.ServerID
	exists := false
	if serverID != 0 {
		records, err := p.Client.LoadObjects(ctx, dev.Addr, session, "devices", []reader.Filter{
			{Object: "devices", Field: "id", Operator: "=", Value: serverID},
		})
		if err != nil {
			return fmt.Errorf("checking server object: %w", err)
		}
		exists = len(records) > 0
	}

	if exists {
		err := p.Client.ModifyObjects(ctx, dev.Addr, session, "devices",
			map[string]any{"ip": serverAddr},
			[]reader.Filter{{Object: "devices", Field: "id", Operator: "=", Value: serverID}})
		if err != nil {
			return fmt.Errorf("updating server object: %w", err)
		}
	} else {
		ids, err := p.Client.CreateObjects(ctx, dev.Addr, session, "devices", []map[string]any{{
			"name":       "Servidor do Credenciamento",
			"ip":         serverAddr,
			"public_key": "",
		}})
		if err != nil {
			return fmt.Errorf("creating server object: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("reader returned no id for the server object")
		}
		serverID = ids[0]
		if err := p.Devices.SetServerID(ctx, dev.ID, serverID); err != nil {
			return err
		}
		dev.ServerID = serverID
	}

	if err := p.Client.SetConfiguration(ctx, dev.Addr, session, map[string]map[string]string{
		"online_client": {"server_id": fmt.Sprintf("%d", serverID)},
	}); err != nil {
		return fmt.Errorf("pointing reader at server object: %w", err)
	}
	if err := p.Client.SetConfiguration(ctx, dev.Addr, session, map[string]map[string]string{
		"general": {
			"online":               "1",
			"local_identification": "0",
			"auto_reboot_hour":     "12",
			"auto_reboot_minute":   "0",
		},
		"online_client": {
			"extract_template":     "0",
			"max_request_attempts": "3",
			"contingency_enabled":  "0",
			"request_timeout":      "5000",
			"alive_interval":       "3000",
		},
	}); err != nil {
		return fmt.Errorf("enabling online mode: %w", err)
	}
	return nil
}

// configureMonitor points the reader's event monitor at this server and
// enables access-photo upload.
func (p *Provisioner) configureMonitor(ctx context.Context, dev *models.Device, session, serverAddr string) error {
	host := serverAddr
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	if err := p.Client.SetConfiguration(ctx, dev.Addr, session, map[string]map[string]string{
		"monitor": {
			"request_timeout": "5000",
			"hostname":        host,
			"port":            p.CallbackPort,
			"path":            "api/notifications",
			"alive_interval":  "60000",
		},
	}); err != nil {
		return fmt.Errorf("configuring monitor: %w", err)
	}
	if err := p.Client.SetConfiguration(ctx, dev.Addr, session, map[string]map[string]string{
		"monitor": {"enable_photo_upload": "1"},
	}); err != nil {
		return fmt.Errorf("enabling photo upload: %w", err)
	}
	return nil
}

// configureRTSP enables the reader's camera stream. The reader login
// credentials double as stream credentials.
func (p *Provisioner) configureRTSP(ctx context.Context, dev *models.Device, session string) error {
	err := p.Client.SetConfiguration(ctx, dev.Addr, session, map[string]map[string]string{
		"onvif": {
			"rtsp_enabled":      "1",
			"rtsp_port":         "10556",
			"rtsp_username":     dev.Username,
			"rtsp_password":     dev.Password,
			"rtsp_flipped":      "0",
			"rtsp_codec":        "h264",
			"rtsp_video_height": "720",
			"rtsp_video_width":  "1280",
			"rtsp_rgb":          "2",
		},
		"video_stream": {
			"audio_enabled":  "1",
			"rtsp_watermark": "1",
		},
	})
	if err != nil {
		return fmt.Errorf("configuring rtsp: %w", err)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
