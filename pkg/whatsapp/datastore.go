package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
)

// credentialRef is the shape of the persisted credential blob. The protocol
// layer owns the actual key material inside the shared datastore; the blob
// only carries enough to find the right device on restore.
type credentialRef struct {
	DeviceJID string    `json:"deviceJid"`
	PushName  string    `json:"pushName,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	PairedAt  time.Time `json:"pairedAt"`
}

// OpenDatastore initializes the protocol datastore and runs its schema
// upgrades. An error here is fatal to the process; the caller decides that.
func OpenDatastore(ctx context.Context) (*sqlstore.Container, string, string, error) {
	dbType, err := env.GetEnvString("WHATSAPP_DATASTORE_TYPE")
	if err != nil {
		return nil, "", "", err
	}
	dbURI, err := env.GetEnvString("WHATSAPP_DATASTORE_URI")
	if err != nil {
		return nil, "", "", err
	}

	driver := NormalizeDatastoreDriver(dbType)
	dsn := normalizeDatastoreDSN(driver, dbURI)

	container, err := sqlstore.New(ctx, driver, dsn, nil)
	if err != nil {
		return nil, "", "", err
	}
	if err := container.Upgrade(ctx); err != nil {
		return nil, "", "", err
	}

	configureDeviceProps()

	return container, driver, dsn, nil
}

func configureDeviceProps() {
	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	if major, err := env.GetEnvInt("WHATSAPP_VERSION_MAJOR"); err == nil {
		store.DeviceProps.Version.Primary = proto.Uint32(uint32(major))
	}
	if minor, err := env.GetEnvInt("WHATSAPP_VERSION_MINOR"); err == nil {
		store.DeviceProps.Version.Secondary = proto.Uint32(uint32(minor))
	}
	if patch, err := env.GetEnvInt("WHATSAPP_VERSION_PATCH"); err == nil {
		store.DeviceProps.Version.Tertiary = proto.Uint32(uint32(patch))
	}
}

// normalizeDatastoreDSN forces the simple query protocol for pgx so the
// statement cache does not break on connection poolers.
func normalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

// snapshotCredentials captures the restore reference for a paired device.
func snapshotCredentials(device *store.Device) (json.RawMessage, error) {
	if device == nil || device.ID == nil {
		return nil, errors.New("WhatsApp Device is not Paired")
	}
	ref := credentialRef{
		DeviceJID: device.ID.String(),
		PushName:  device.PushName,
		Platform:  device.Platform,
		PairedAt:  time.Now().UTC(),
	}
	return json.Marshal(ref)
}

// materializeDevice resolves a persisted credential blob back into the
// device record the protocol layer expects. A blob whose device no longer
// exists in the datastore resolves to (nil, nil): the credentials are
// considered gone and the number must pair again.
func materializeDevice(ctx context.Context, container *sqlstore.Container, blob json.RawMessage) (*store.Device, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	var ref credentialRef
	if err := json.Unmarshal(blob, &ref); err != nil {
		return nil, err
	}
	if ref.DeviceJID == "" {
		return nil, nil
	}

	jid, err := types.ParseJID(ref.DeviceJID)
	if err != nil {
		return nil, err
	}

	device, err := container.GetDevice(ctx, jid)
	if err != nil {
		return nil, err
	}
	return device, nil
}
