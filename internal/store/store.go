package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

// Store is the relational log store backed by Postgres. It also hosts the
// pgvector-backed vector index (see vectors.go).
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// DailyFoodLogs returns the user's food logs for one date.
func (s *Store) DailyFoodLogs(ctx context.Context, userID, date string) ([]pipeline.FoodLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, to_char(log_date, 'YYYY-MM-DD'), name, meal_type, calories, protein_g, carbs_g, fat_g, source, created_at
FROM food_logs
WHERE user_id = $1 AND log_date = $2::date
ORDER BY created_at
`, userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []pipeline.FoodLogEntry
	for rows.Next() {
		var e pipeline.FoodLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &e.Name, &e.MealType, &e.Calories, &e.ProteinG, &e.CarbsG, &e.FatG, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DailyExerciseLogs returns the user's exercise logs for one date.
func (s *Store) DailyExerciseLogs(ctx context.Context, userID, date string) ([]pipeline.ExerciseLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, to_char(log_date, 'YYYY-MM-DD'), name, exercise_type, duration_minutes, calories_burned, source, created_at
FROM exercise_logs
WHERE user_id = $1 AND log_date = $2::date
ORDER BY created_at
`, userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []pipeline.ExerciseLogEntry
	for rows.Next() {
		var e pipeline.ExerciseLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Date, &e.Name, &e.ExerciseType, &e.DurationMinutes, &e.CaloriesBurned, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DailyInteractions returns the user's interaction logs for one date.
func (s *Store) DailyInteractions(ctx context.Context, userID, date string) ([]pipeline.InteractionLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, COALESCE(session_id, ''), to_char(log_date, 'YYYY-MM-DD'), query, answer, created_at
FROM interaction_logs
WHERE user_id = $1 AND log_date = $2::date
ORDER BY created_at
`, userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []pipeline.InteractionLogEntry
	for rows.Next() {
		var (
			e           pipeline.InteractionLogEntry
			answerBytes []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &e.Date, &e.Query, &answerBytes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(answerBytes) > 0 {
			_ = json.Unmarshal(answerBytes, &e.Answer)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Profile loads one user profile; nil when absent.
func (s *Store) Profile(ctx context.Context, userID string) (*pipeline.UserProfile, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT user_id, age, sex, height_cm, weight_kg, activity_level, goal
FROM profiles
WHERE user_id = $1
`, userID)

	var p pipeline.UserProfile
	err := row.Scan(&p.UserID, &p.Age, &p.Sex, &p.HeightCm, &p.WeightKg, &p.ActivityLevel, &p.Goal)
	switch err {
	case nil:
		return &p, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

// UpsertProfile stores the demographic/physiology fields. Derived scalars
// are never persisted; they are recomputed on every load.
func (s *Store) UpsertProfile(ctx context.Context, p pipeline.UserProfile) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO profiles (user_id, age, sex, height_cm, weight_kg, activity_level, goal, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
ON CONFLICT (user_id) DO UPDATE SET
  age = EXCLUDED.age,
  sex = EXCLUDED.sex,
  height_cm = EXCLUDED.height_cm,
  weight_kg = EXCLUDED.weight_kg,
  activity_level = EXCLUDED.activity_level,
  goal = EXCLUDED.goal,
  updated_at = NOW();
`, p.UserID, p.Age, p.Sex, p.HeightCm, p.WeightKg, p.ActivityLevel, p.Goal)
	return err
}

// SaveFoodLog inserts one food log entry.
func (s *Store) SaveFoodLog(ctx context.Context, entry pipeline.FoodLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO food_logs (id, user_id, log_date, name, meal_type, calories, protein_g, carbs_g, fat_g, source, created_at)
VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,$9,$10,NOW())
`, entry.ID, entry.UserID, entry.Date, entry.Name, entry.MealType, entry.Calories, entry.ProteinG, entry.CarbsG, entry.FatG, entry.Source)
	return err
}

// SaveExerciseLog inserts one exercise log entry.
func (s *Store) SaveExerciseLog(ctx context.Context, entry pipeline.ExerciseLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO exercise_logs (id, user_id, log_date, name, exercise_type, duration_minutes, calories_burned, source, created_at)
VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,NOW())
`, entry.ID, entry.UserID, entry.Date, entry.Name, entry.ExerciseType, entry.DurationMinutes, entry.CaloriesBurned, entry.Source)
	return err
}

// SaveInteraction inserts one interaction log entry with the full
// structured answer as JSON.
func (s *Store) SaveInteraction(ctx context.Context, entry pipeline.InteractionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	answerBytes, err := json.Marshal(entry.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO interaction_logs (id, user_id, session_id, log_date, query, answer, created_at)
VALUES ($1,$2,NULLIF($3,''),$4::date,$5,$6,NOW())
`, entry.ID, entry.UserID, entry.SessionID, entry.Date, entry.Query, answerBytes)
	return err
}

// CreateUser stores a new account with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, created_at)
VALUES ($1,$2,$3,NOW())
`, uuid.New().String(), email, passwordHash)
	return err
}

// UserByEmail returns (id, passwordHash) for an account.
func (s *Store) UserByEmail(ctx context.Context, email string) (string, string, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, email)
	var id, hash string
	if err := row.Scan(&id, &hash); err != nil {
		return "", "", err
	}
	return id, hash, nil
}
