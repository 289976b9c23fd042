package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lg/fitness-api/fitness"
)

var (
	errPlanNotFound     = errors.New("plan not found")
	errPlanLimit        = errors.New("plan limit reached")
	errFutureCompletion = errors.New("completion is dated after today")
)

// planGate decides whether a user may add another plan. fitness.CanCreatePlan
// is the production gate.
type planGate func(status fitness.SubscriptionStatus, existingPlans int) bool

// streakAdvance computes the stored streak after a completion. It receives the
// locked state and the user's timezone and may refuse the completion.
type streakAdvance func(state fitness.StreakState, loc *time.Location) (fitness.StreakState, error)

// completion is a validated workout completion.
type completion struct {
	PlanID         *int
	CompletedAt    time.Time
	CaloriesBurned *int
}

// workoutStore persists workout plans and completions. Writes that depend on
// the profile (plan limit, streak) run with the profile row locked.
type workoutStore interface {
	profile(ctx context.Context, userID int) (userProfile, error)
	planQuota(ctx context.Context, userID int) (fitness.SubscriptionStatus, int, error)
	createPlan(ctx context.Context, userID int, name string, exercises []planExercise, allow planGate) (workoutPlan, error)
	updatePlan(ctx context.Context, userID, planID int, name *string, exercises []planExercise) (workoutPlan, error)
	recordCompletion(ctx context.Context, userID int, c completion, advance streakAdvance) (workoutLogEntry, fitness.StreakState, *time.Location, error)
}

// workoutDB returns the configured store, defaulting to Postgres.
func (h *Handler) workoutDB() workoutStore {
	if h.workouts != nil {
		return h.workouts
	}
	return pgWorkoutStore{db: h.db}
}

// pgWorkoutStore is the Postgres workoutStore.
type pgWorkoutStore struct {
	db *pgxpool.Pool
}

func (s pgWorkoutStore) profile(ctx context.Context, userID int) (userProfile, error) {
	return loadProfile(ctx, s.db, userID)
}

func (s pgWorkoutStore) planQuota(ctx context.Context, userID int) (fitness.SubscriptionStatus, int, error) {
	var status string
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT p.subscription_status,
		        (SELECT COUNT(*) FROM workout_plans w WHERE w.user_id = p.user_id)
		 FROM user_profiles p WHERE p.user_id = @userID`,
		pgx.NamedArgs{"userID": userID}).Scan(&status, &count)
	if err != nil {
		return "", 0, fmt.Errorf("plan quota: %w", err)
	}
	return fitness.ParseSubscriptionStatus(status), count, nil
}

// lockProfile selects the profile row FOR UPDATE inside tx.
func lockProfile(ctx context.Context, tx pgx.Tx, userID int) (userProfile, error) {
	rows, err := tx.Query(ctx,
		"SELECT * FROM user_profiles WHERE user_id = @userID FOR UPDATE",
		pgx.NamedArgs{"userID": userID})
	if err != nil {
		return userProfile{}, fmt.Errorf("lock profile: %w", err)
	}
	p, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[userProfile])
	if err != nil {
		return userProfile{}, fmt.Errorf("lock profile: %w", err)
	}
	return p, nil
}

// exercisesJSON encodes exercises for a ::jsonb cast; the pool uses the
// simple protocol.
func exercisesJSON(exercises []planExercise) (string, error) {
	if exercises == nil {
		exercises = []planExercise{}
	}
	raw, err := json.Marshal(exercises)
	if err != nil {
		return "", fmt.Errorf("marshal exercises: %w", err)
	}
	return string(raw), nil
}

// createPlan counts and inserts under the profile lock, so concurrent
// requests from one user see each other's plans.
func (s pgWorkoutStore) createPlan(ctx context.Context, userID int, name string, exercises []planExercise, allow planGate) (workoutPlan, error) {
	raw, err := exercisesJSON(exercises)
	if err != nil {
		return workoutPlan{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return workoutPlan{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := lockProfile(ctx, tx, userID)
	if err != nil {
		return workoutPlan{}, err
	}
	var count int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM workout_plans WHERE user_id = @userID",
		pgx.NamedArgs{"userID": userID}).Scan(&count); err != nil {
		return workoutPlan{}, fmt.Errorf("count plans: %w", err)
	}
	if !allow(fitness.ParseSubscriptionStatus(p.SubscriptionStatus), count) {
		return workoutPlan{}, errPlanLimit
	}

	rows, err := tx.Query(ctx,
		`INSERT INTO workout_plans (user_id, name, exercises)
		 VALUES (@userID, @name, @exercises::jsonb)
		 RETURNING *`,
		pgx.NamedArgs{"userID": userID, "name": name, "exercises": raw})
	if err != nil {
		return workoutPlan{}, fmt.Errorf("insert plan: %w", err)
	}
	plan, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[workoutPlan])
	if err != nil {
		return workoutPlan{}, fmt.Errorf("insert plan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return workoutPlan{}, fmt.Errorf("commit: %w", err)
	}
	return plan, nil
}

// updatePlan replaces the name and/or exercise list. nil leaves a field as is.
func (s pgWorkoutStore) updatePlan(ctx context.Context, userID, planID int, name *string, exercises []planExercise) (workoutPlan, error) {
	var raw *string
	if exercises != nil {
		encoded, err := exercisesJSON(exercises)
		if err != nil {
			return workoutPlan{}, err
		}
		raw = &encoded
	}

	plan, err := queryOne[workoutPlan](ctx, s.db,
		`UPDATE workout_plans SET
			name      = COALESCE(@name, name),
			exercises = COALESCE(@exercises::jsonb, exercises)
		 WHERE id = @id AND user_id = @userID
		 RETURNING *`,
		pgx.NamedArgs{"id": planID, "userID": userID, "name": name, "exercises": raw})
	if errors.Is(err, pgx.ErrNoRows) {
		return workoutPlan{}, errPlanNotFound
	}
	return plan, err
}

// recordCompletion logs the workout and stores the advanced streak in one
// transaction. The profile row is locked so concurrent completions serialise.
func (s pgWorkoutStore) recordCompletion(ctx context.Context, userID int, c completion, advance streakAdvance) (workoutLogEntry, fitness.StreakState, *time.Location, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := lockProfile(ctx, tx, userID)
	if err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, err
	}
	loc := p.location()

	state, err := advance(p.streakState(), loc)
	if err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, err
	}

	if c.PlanID != nil {
		var owned bool
		err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM workout_plans WHERE id = @planID AND user_id = @userID)",
			pgx.NamedArgs{"planID": *c.PlanID, "userID": userID}).Scan(&owned)
		if err != nil {
			return workoutLogEntry{}, fitness.StreakState{}, nil, fmt.Errorf("check plan: %w", err)
		}
		if !owned {
			return workoutLogEntry{}, fitness.StreakState{}, nil, errPlanNotFound
		}
	}

	rows, err := tx.Query(ctx,
		`INSERT INTO workout_log (user_id, plan_id, completed_at, calories_burned)
		 VALUES (@userID, @planID, @completedAt, @caloriesBurned)
		 RETURNING *`,
		pgx.NamedArgs{
			"userID": userID, "planID": c.PlanID,
			"completedAt": c.CompletedAt, "caloriesBurned": c.CaloriesBurned,
		})
	if err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, fmt.Errorf("insert workout: %w", err)
	}
	entry, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[workoutLogEntry])
	if err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, fmt.Errorf("insert workout: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE user_profiles SET streak_count = @count, last_workout_at = @last, updated_at = now()
		 WHERE user_id = @userID`,
		pgx.NamedArgs{"count": state.Count, "last": state.LastWorkoutDate, "userID": userID})
	if err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, fmt.Errorf("update streak: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return workoutLogEntry{}, fitness.StreakState{}, nil, fmt.Errorf("commit: %w", err)
	}
	return entry, state, loc, nil
}
