package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

const personaColumns = `id, name, description, system_prompt, is_global, created_by, created_at`

func scanPersona(row pgx.Row) (domain.Persona, error) {
	var (
		p         domain.Persona
		createdBy sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.SystemPrompt, &p.IsGlobal, &createdBy, &p.CreatedAt)
	if createdBy.Valid {
		p.CreatedBy = createdBy.Int64
	}
	return p, err
}

// ListPersonas возвращает все персоны.
func (p *Postgres) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "personas_list", "personas", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Persona
	for rows.Next() {
		persona, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, persona)
	}
	return out, rows.Err()
}

// GetPersona возвращает персону по id.
func (p *Postgres) GetPersona(ctx context.Context, id int64) (*domain.Persona, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	persona, err := scanPersona(p.pool.QueryRow(ctx, `SELECT `+personaColumns+` FROM personas WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "personas_get", "personas", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return &persona, nil
}

// GetPersonaByName ищет персону по имени без учёта регистра.
func (p *Postgres) GetPersonaByName(ctx context.Context, name string) (*domain.Persona, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	persona, err := scanPersona(p.pool.QueryRow(ctx, `SELECT `+personaColumns+` FROM personas WHERE lower(name)=lower($1)`, name))
	metrics.ObserveNetworkRequest("postgres", "personas_get_by_name", "personas", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return &persona, nil
}

// PersonaNameExists сообщает, занято ли имя.
func (p *Postgres) PersonaNameExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM personas WHERE lower(name)=lower($1))`, name).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "personas_name_exists", "personas", start, err)
	return exists, err
}

// CreatePersona сохраняет персону и возвращает её с id.
func (p *Postgres) CreatePersona(ctx context.Context, persona domain.Persona) (domain.Persona, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	created, err := scanPersona(p.pool.QueryRow(ctx, `
INSERT INTO personas (name, description, system_prompt, is_global, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+personaColumns,
		persona.Name, persona.Description, persona.SystemPrompt, persona.IsGlobal, nullable(persona.CreatedBy)))
	metrics.ObserveNetworkRequest("postgres", "personas_insert", "personas", start, err)
	return created, err
}

// DeletePersona удаляет персону. Гильдии с этой персоной вернутся к Standard.
func (p *Postgres) DeletePersona(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM personas WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "personas_delete", "personas", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetGuildPersona привязывает персону к гильдии или чату.
func (p *Postgres) SetGuildPersona(ctx context.Context, guildID, personaID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO guild_configs (guild_id, active_persona_id) VALUES ($1, $2)
ON CONFLICT (guild_id) DO UPDATE SET active_persona_id = excluded.active_persona_id
`, guildID, personaID)
	metrics.ObserveNetworkRequest("postgres", "guild_configs_set_persona", "guild_configs", start, err)
	return err
}

// GetGuildPersona возвращает активную персону гильдии.
func (p *Postgres) GetGuildPersona(ctx context.Context, guildID int64) (*domain.Persona, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	persona, err := scanPersona(p.pool.QueryRow(ctx, `
SELECT p.id, p.name, p.description, p.system_prompt, p.is_global, p.created_by, p.created_at
FROM guild_configs g JOIN personas p ON p.id = g.active_persona_id
WHERE g.guild_id=$1
`, guildID))
	metrics.ObserveNetworkRequest("postgres", "guild_configs_get_persona", "guild_configs", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	return &persona, nil
}
