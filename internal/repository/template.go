package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/arrsync/internal/models"
	"github.com/foxzi/arrsync/internal/score"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, name, description, service_type, formats, groups_json, quality_profile, source, source_commit, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s rowScanner) (*models.Template, error) {
	t := &models.Template{}
	var formats, groups, profile []byte
	err := s.Scan(&t.ID, &t.Name, &t.Description, &t.ServiceType, &formats, &groups, &profile,
		&t.Source, &t.SourceCommit, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(formats, &t.Formats); err != nil {
		return nil, fmt.Errorf("failed to decode formats of template %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(groups, &t.Groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups of template %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(profile, &t.QualityProfile); err != nil {
		return nil, fmt.Errorf("failed to decode quality profile of template %s: %w", t.ID, err)
	}
	if t.Formats == nil {
		t.Formats = []models.FormatDefinition{}
	}
	if t.Groups == nil {
		t.Groups = []models.FormatGroup{}
	}
	return t, nil
}

func encodeTemplate(t *models.Template) (formats, groups, profile []byte, err error) {
	if t.Formats == nil {
		t.Formats = []models.FormatDefinition{}
	}
	if t.Groups == nil {
		t.Groups = []models.FormatGroup{}
	}
	if formats, err = json.Marshal(t.Formats); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode formats: %w", err)
	}
	if groups, err = json.Marshal(t.Groups); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode groups: %w", err)
	}
	if profile, err = json.Marshal(t.QualityProfile); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode quality profile: %w", err)
	}
	return formats, groups, profile, nil
}

// Create creates a new template
func (r *TemplateRepository) Create(t *models.Template) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Source == "" {
		t.Source = models.SourceCustom
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	formats, groups, profile, err := encodeTemplate(t)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.ServiceType, formats, groups, profile, t.Source, t.SourceCommit, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template by ID
func (r *TemplateRepository) GetByID(id string) (*models.Template, error) {
	t, err := scanTemplate(r.db.QueryRow(`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByName returns a template by its unique name
func (r *TemplateRepository) GetByName(name string) (*models.Template, error) {
	t, err := scanTemplate(r.db.QueryRow(`SELECT `+templateColumns+` FROM templates WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns templates with optional filtering
func (r *TemplateRepository) List(filter models.TemplateListFilter) ([]models.Template, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Search != "" {
		where += " AND (name LIKE ? OR description LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
	}
	if filter.ServiceType != "" {
		where += " AND service_type = ?"
		args = append(args, filter.ServiceType)
	}
	if filter.Source != "" {
		where += " AND source = ?"
		args = append(args, filter.Source)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM templates"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + templateColumns + ` FROM templates` + where + ` ORDER BY name`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	templates, err := r.query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	return templates, total, nil
}

// ListUpstream returns every template derived from the upstream source
func (r *TemplateRepository) ListUpstream() ([]models.Template, error) {
	return r.query(`SELECT `+templateColumns+` FROM templates WHERE source = ? ORDER BY name`, models.SourceUpstream)
}

func (r *TemplateRepository) query(query string, args ...any) ([]models.Template, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// Update replaces the template content
func (r *TemplateRepository) Update(t *models.Template) error {
	t.UpdatedAt = time.Now().UTC()

	formats, groups, profile, err := encodeTemplate(t)
	if err != nil {
		return err
	}

	res, err := r.db.Exec(`
		UPDATE templates SET name = ?, description = ?, service_type = ?, formats = ?, groups_json = ?,
			quality_profile = ?, source = ?, source_commit = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Description, t.ServiceType, formats, groups, profile, t.Source, t.SourceCommit, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template not found: %s", t.ID)
	}
	return nil
}

// SetSourceCommit records the upstream commit a template is current with
// without touching its content
func (r *TemplateRepository) SetSourceCommit(id, commit string) error {
	res, err := r.db.Exec(`UPDATE templates SET source_commit = ? WHERE id = ?`, commit, id)
	if err != nil {
		return fmt.Errorf("failed to update template commit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template not found: %s", id)
	}
	return nil
}

// UpdateFormatScore writes a template-level score for one format into the
// slot the resolver reads for the template's score set.
func (r *TemplateRepository) UpdateFormatScore(templateID, trashID string, value int) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := assignFormatScore(tx, templateID, trashID, value); err != nil {
		return err
	}
	return tx.Commit()
}

// assignFormatScore is shared by UpdateFormatScore and override promotion
func assignFormatScore(tx *sql.Tx, templateID, trashID string, value int) error {
	var formatsRaw, profileRaw []byte
	err := tx.QueryRow("SELECT formats, quality_profile FROM templates WHERE id = ?", templateID).Scan(&formatsRaw, &profileRaw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("template not found: %s", templateID)
	}
	if err != nil {
		return err
	}

	var formats []models.FormatDefinition
	if err := json.Unmarshal(formatsRaw, &formats); err != nil {
		return fmt.Errorf("failed to decode formats: %w", err)
	}
	var profile models.QualityProfile
	if err := json.Unmarshal(profileRaw, &profile); err != nil {
		return fmt.Errorf("failed to decode quality profile: %w", err)
	}

	found := false
	for i := range formats {
		if formats[i].TrashID == trashID {
			score.Assign(&formats[i], profile.ScoreSet, value)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("format %s not found in template %s", trashID, templateID)
	}

	encoded, err := json.Marshal(formats)
	if err != nil {
		return fmt.Errorf("failed to encode formats: %w", err)
	}
	_, err = tx.Exec("UPDATE templates SET formats = ?, updated_at = ? WHERE id = ?", encoded, time.Now().UTC(), templateID)
	if err != nil {
		return fmt.Errorf("failed to update template formats: %w", err)
	}
	return nil
}

// Delete deletes a template; mappings and overrides cascade, history is kept
func (r *TemplateRepository) Delete(id string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM templates WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
