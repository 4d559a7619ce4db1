package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"journey-detector/internal/db"
	"journey-detector/internal/journey"
)

// Postgres stores the current slot in journey_slots and finished journeys in
// journey_archive, both keyed by device id. See db.Migrate for the schema.
type Postgres struct {
	db       db.Querier
	deviceID string
}

func NewPostgres(q db.Querier, deviceID string) *Postgres {
	return &Postgres{db: q, deviceID: deviceID}
}

func (p *Postgres) SaveOpenJourney(ctx context.Context, j *journey.Journey) error {
	b, err := Encode(j)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO journey_slots (device_id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (device_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, p.deviceID, b)
	return Wrap(opSave, err)
}

func (p *Postgres) ClearOpenJourney(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DELETE FROM journey_slots WHERE device_id = $1`, p.deviceID)
	return Wrap(opClear, err)
}

func (p *Postgres) LoadOpenJourney(ctx context.Context) (*journey.Journey, error) {
	var payload []byte
	err := p.db.QueryRow(ctx, `SELECT payload FROM journey_slots WHERE device_id = $1`, p.deviceID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(opLoad, err)
	}
	return Decode(payload)
}

func (p *Postgres) AppendToArchive(ctx context.Context, j *journey.Journey) error {
	b, err := Encode(j)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO journey_archive (device_id, journey_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, journey_id) DO NOTHING
	`, p.deviceID, j.ID, b)
	return Wrap(opAppend, err)
}

func (p *Postgres) LoadArchive(ctx context.Context) ([]*journey.Journey, error) {
	rows, err := p.db.Query(ctx, `
		SELECT payload FROM journey_archive
		WHERE device_id = $1
		ORDER BY seq
	`, p.deviceID)
	if err != nil {
		return nil, Wrap(opLoadArchive, err)
	}
	defer rows.Close()

	out := []*journey.Journey{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, Wrap(opLoadArchive, err)
		}
		j, err := Decode(payload)
		if err != nil {
			return nil, Wrap(opLoadArchive, err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(opLoadArchive, err)
	}
	return out, nil
}
