package store

import (
	"database/sql"
)

// Detection is one colour-labelled box recorded for an inference run.
type Detection struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	ModelClass int     `json:"model_class"`
	ColorClass string  `json:"color_class"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// DetectionRepository provides operations for detections.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// CreateBatch inserts detections for a run in a single transaction and
// sets their ID and RunID.
func (r *DetectionRepository) CreateBatch(runID string, detections []Detection) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO detections (run_id, model_class, color_class, confidence, x, y, width, height)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range detections {
		d := &detections[i]
		result, err := stmt.Exec(runID, d.ModelClass, d.ColorClass, d.Confidence, d.X, d.Y, d.Width, d.Height)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		d.ID = id
		d.RunID = runID
	}

	return tx.Commit()
}

// ListByRun retrieves the detections of a run in insertion order.
func (r *DetectionRepository) ListByRun(runID string) ([]Detection, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, model_class, color_class, confidence, x, y, width, height
		 FROM detections WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detections := []Detection{}
	for rows.Next() {
		var d Detection
		if err := rows.Scan(&d.ID, &d.RunID, &d.ModelClass, &d.ColorClass, &d.Confidence, &d.X, &d.Y, &d.Width, &d.Height); err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return detections, nil
}

// CountByColor returns how many detections of each colour class a run has.
func (r *DetectionRepository) CountByColor(runID string) (map[string]int, error) {
	rows, err := r.db.Query(
		`SELECT color_class, COUNT(*) FROM detections WHERE run_id = ? GROUP BY color_class`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		counts[class] = n
	}
	return counts, rows.Err()
}
