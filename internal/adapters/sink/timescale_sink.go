package sink

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ghalamif/AegisFleet/internal/adapters/codec"
	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

// TimescaleSink stores one row per triggered collection with the full
// collection as a JSON payload.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

func (t *TimescaleSink) WriteBatch(batch []*domain.TriggeredCollectionSchemeData) error {
	if len(batch) == 0 {
		return nil
	}

	// Idempotent on replay: the same event in the same scheme is written once.
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (collection_scheme_id, event_id, trigger_time, priority, decoder_id, payload) VALUES ")

	args := make([]any, 0, len(batch)*6)
	for i, d := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		payload, err := codec.MarshalJSON(d)
		if err != nil {
			return fmt.Errorf("marshal collection: %w", err)
		}

		args = append(args,
			d.Metadata.CollectionSchemeID,
			int64(d.EventID),
			d.TriggerTime,
			int64(d.Metadata.Priority),
			d.Metadata.DecoderID,
			payload,
		)
	}

	b.WriteString(" ON CONFLICT (collection_scheme_id, event_id, trigger_time) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

var _ ports.Sink = (*TimescaleSink)(nil)
