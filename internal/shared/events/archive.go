package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/trimwell/portal/internal/shared/config"
	"github.com/trimwell/portal/internal/shared/types"
)

// Archiver receives every timeline event appended to a patient record.
// Writes are fire-and-forget from the reducer's point of view: a failed
// archive never affects the in-memory record or the section stores.
type Archiver interface {
	// Archive appends a serialized timeline event to the patient's stream
	Archive(ctx context.Context, patientID types.ID, eventType string, payload any) error

	// Close closes the archiver connection
	Close()

	// Health checks the archiver connection
	Health() error
}

// Bus archives timeline events to EventStoreDB, one stream per patient.
type Bus struct {
	client *esdb.Client
	prefix string
}

// NewBus creates an archiver connected to EventStoreDB
func NewBus(ctx context.Context, cfg config.EventStoreConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create EventStoreDB client: %w", err)
	}

	return &Bus{client: client, prefix: "care-patient"}, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.EventStoreConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false"
		params += "&keepAliveInterval=10000&keepAliveTimeout=10000&discoveryInterval=100&maxDiscoverAttempts=3&gossipTimeout=5"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// Archive appends the event to the care-patient-<id> stream.
func (b *Bus) Archive(ctx context.Context, patientID types.ID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline event: %w", err)
	}

	stream := fmt.Sprintf("%s-%s", b.prefix, patientID)

	esdbEvent := esdb.EventData{
		EventType:   eventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     uuid.New(),
	}

	_, err = b.client.AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdbEvent)

	if err != nil {
		return fmt.Errorf("failed to archive event: %w", err)
	}

	return nil
}

// Close closes the archiver connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health checks the EventStoreDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)

	if err != nil {
		return fmt.Errorf("EventStoreDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}

// NopArchiver discards events; used in tests and when archival is disabled.
type NopArchiver struct{}

func (NopArchiver) Archive(ctx context.Context, patientID types.ID, eventType string, payload any) error {
	return nil
}

func (NopArchiver) Close() {}

func (NopArchiver) Health() error { return nil }

// Ensure both implementations satisfy Archiver
var (
	_ Archiver = (*Bus)(nil)
	_ Archiver = NopArchiver{}
)
