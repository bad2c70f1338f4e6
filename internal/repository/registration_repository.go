package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// registrationTables maps each payable entity kind to the table that owns it.
// Those tables belong to the membership side of the platform and are only read
// here.
var registrationTables = map[models.EntityKind]string{
	models.EntityAthleteFiliation:  "athlete_filiations",
	models.EntityClubRegistration:  "club_registrations",
	models.EntityEventRegistration: "event_registrations",
}

type RegistrationRepository struct {
	db *sql.DB
}

func NewRegistrationRepository(db *sql.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func (r *RegistrationRepository) FindByProtocols(ctx context.Context, variants []string) ([]models.Registration, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, protocol FROM (
			SELECT 'ATHLETE_FILIATION' AS entity_type, id::text AS entity_id, protocol FROM athlete_filiations
			UNION ALL
			SELECT 'CLUB_REGISTRATION', id::text, protocol FROM club_registrations
			UNION ALL
			SELECT 'EVENT_REGISTRATION', id::text, protocol FROM event_registrations
		) r
		WHERE protocol = ANY($1)
		ORDER BY entity_type, entity_id
	`, pq.Array(variants))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Registration
	for rows.Next() {
		var reg models.Registration
		if err := rows.Scan(&reg.Entity.Kind, &reg.Entity.ID, &reg.Protocol); err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (r *RegistrationRepository) ProtocolFor(ctx context.Context, ref models.EntityRef) (string, error) {
	table, ok := registrationTables[ref.Kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", ref.Kind)
	}

	var protocol sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT protocol FROM `+table+` WHERE id::text = $1`, ref.ID).Scan(&protocol)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return protocol.String, nil
}
