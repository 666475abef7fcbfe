package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"racecontrol-api/api/services"
	"racecontrol-api/db"
	"racecontrol-api/pkg/domain"
)

func newTestDB(t *testing.T) *db.Service {
	t.Helper()

	service, err := db.New(&db.Config{
		DBPath:         filepath.Join(t.TempDir(), "racecontrol.db"),
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		AutoInitialize: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })

	return service
}

func createUser(t *testing.T, users *services.UserService, username, password string) *domain.User {
	t.Helper()

	user, err := users.CreateUser(&domain.CreateUserRequest{
		Username: username,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func TestCreateUserAndLogin(t *testing.T) {
	dbService := newTestDB(t)
	users := services.NewUserService(dbService.GetDB(), nil)
	auth := services.NewAuthService(dbService.GetDB())

	user := createUser(t, users, "alice", "hunter2")
	require.Equal(t, "racer", user.Type)

	resp, err := auth.Login("alice", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, user.UserID, resp.User.UserID)

	_, err = auth.Login("alice", "wrong")
	require.EqualError(t, err, "invalid credentials")

	_, err = auth.Login("nobody", "hunter2")
	require.EqualError(t, err, "invalid credentials")

	validated, err := auth.ValidateToken(resp.Token)
	require.NoError(t, err)
	require.Equal(t, user.UserID, validated.UserID)

	require.NoError(t, auth.Logout(resp.Token))
	_, err = auth.ValidateToken(resp.Token)
	require.EqualError(t, err, "session not found")
}

func TestUpdateUser(t *testing.T) {
	dbService := newTestDB(t)
	users := services.NewUserService(dbService.GetDB(), nil)
	auth := services.NewAuthService(dbService.GetDB())

	user := createUser(t, users, "alice", "hunter2")

	updated, err := users.UpdateUser(user.UserID, &domain.UpdateUserRequest{
		Username: "alice-m",
		Password: "swordfish",
	})
	require.NoError(t, err)
	require.Equal(t, "alice-m", updated.Username)

	_, err = auth.Login("alice-m", "swordfish")
	require.NoError(t, err)

	_, err = users.UpdateUser("missing", &domain.UpdateUserRequest{Username: "x"})
	require.EqualError(t, err, "user not found")
}

func TestDeleteUserCascadesSessions(t *testing.T) {
	dbService := newTestDB(t)
	users := services.NewUserService(dbService.GetDB(), nil)
	auth := services.NewAuthService(dbService.GetDB())

	user := createUser(t, users, "alice", "hunter2")
	resp, err := auth.Login("alice", "hunter2")
	require.NoError(t, err)

	require.NoError(t, users.DeleteUser(user.UserID))

	_, err = auth.ValidateToken(resp.Token)
	require.EqualError(t, err, "session not found")
}

func TestRaceLifecycle(t *testing.T) {
	dbService := newTestDB(t)
	users := services.NewUserService(dbService.GetDB(), nil)
	races := services.NewRaceService(dbService.GetDB(), nil)

	alice := createUser(t, users, "alice", "hunter2")

	race, err := races.CreateRace(&domain.CreateRaceRequest{
		Name:          "Spring Rally",
		Description:   "season opener",
		StartingPoint: &domain.Coordinate{Latitude: 10, Longitude: 20},
	})
	require.NoError(t, err)

	fetched, err := races.GetRace(race.RaceID)
	require.NoError(t, err)
	require.Equal(t, "Spring Rally", fetched.Name)
	require.NotNil(t, fetched.StartingPoint)
	require.InDelta(t, 10, fetched.StartingPoint.Latitude, 1e-9)
	require.Nil(t, fetched.EndingPoint)
	require.Empty(t, fetched.Racers)

	// Registering without a car tag adopts the username as the tag.
	require.NoError(t, races.AddRacer(&domain.AddRacerRequest{
		RaceID: race.RaceID,
		UserID: alice.UserID,
	}))

	fetched, err = races.GetRace(race.RaceID)
	require.NoError(t, err)
	require.Len(t, fetched.Racers, 1)
	require.Equal(t, "alice", fetched.Racers[0].CarTag)

	// Re-adding with an explicit tag replaces it.
	require.NoError(t, races.AddRacer(&domain.AddRacerRequest{
		RaceID: race.RaceID,
		UserID: alice.UserID,
		CarTag: "car7",
	}))

	fetched, err = races.GetRace(race.RaceID)
	require.NoError(t, err)
	require.Len(t, fetched.Racers, 1)
	require.Equal(t, "car7", fetched.Racers[0].CarTag)

	updated, err := races.UpdateRace(race.RaceID, map[string]interface{}{
		"name": "Autumn Rally",
		"ending_point": map[string]interface{}{
			"latitude":  float64(11),
			"longitude": float64(21),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Autumn Rally", updated.Name)
	require.NotNil(t, updated.EndingPoint)
	require.InDelta(t, 21, updated.EndingPoint.Longitude, 1e-9)

	require.NoError(t, races.RemoveRacer(&domain.RemoveRacerRequest{
		RaceID: race.RaceID,
		UserID: alice.UserID,
	}))
	require.EqualError(t, races.RemoveRacer(&domain.RemoveRacerRequest{
		RaceID: race.RaceID,
		UserID: alice.UserID,
	}), "racer not on roster")

	require.NoError(t, races.DeleteRace(race.RaceID))
	_, err = races.GetRace(race.RaceID)
	require.EqualError(t, err, "race not found")
}

func TestAddRacerRequiresUser(t *testing.T) {
	dbService := newTestDB(t)
	races := services.NewRaceService(dbService.GetDB(), nil)

	err := races.AddRacer(&domain.AddRacerRequest{RaceID: "r1", UserID: "ghost"})
	require.EqualError(t, err, "user not found")
}

func TestMarkResultsFirstWriteWins(t *testing.T) {
	dbService := newTestDB(t)
	users := services.NewUserService(dbService.GetDB(), nil)
	races := services.NewRaceService(dbService.GetDB(), nil)
	ctx := context.Background()

	alice := createUser(t, users, "alice", "hunter2")
	race, err := races.CreateRace(&domain.CreateRaceRequest{Name: "Spring Rally"})
	require.NoError(t, err)
	require.NoError(t, races.AddRacer(&domain.AddRacerRequest{RaceID: race.RaceID, UserID: alice.UserID}))

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, races.MarkStart(ctx, race.RaceID, alice.UserID, first))
	// A duplicate crossing a minute later must not move the start time.
	require.NoError(t, races.MarkStart(ctx, race.RaceID, alice.UserID, first.Add(time.Minute)))
	require.NoError(t, races.MarkEnd(ctx, race.RaceID, alice.UserID, first.Add(30*time.Minute)))

	board, err := races.Leaderboard(race.RaceID)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.True(t, board[0].StartTime.Equal(first))
	require.InDelta(t, 1800, board[0].DurationSeconds, 1e-9)
}

func TestLeaderboardOrdersByDuration(t *testing.T) {
	dbService := newTestDB(t)
	users := services.NewUserService(dbService.GetDB(), nil)
	races := services.NewRaceService(dbService.GetDB(), nil)
	ctx := context.Background()

	alice := createUser(t, users, "alice", "hunter2")
	bob := createUser(t, users, "bob", "hunter2")
	carol := createUser(t, users, "carol", "hunter2")

	race, err := races.CreateRace(&domain.CreateRaceRequest{Name: "Spring Rally"})
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, races.MarkStart(ctx, race.RaceID, alice.UserID, base))
	require.NoError(t, races.MarkEnd(ctx, race.RaceID, alice.UserID, base.Add(45*time.Minute)))

	require.NoError(t, races.MarkStart(ctx, race.RaceID, bob.UserID, base))
	require.NoError(t, races.MarkEnd(ctx, race.RaceID, bob.UserID, base.Add(30*time.Minute)))

	// Carol never finished: started but no end time recorded.
	require.NoError(t, races.MarkStart(ctx, race.RaceID, carol.UserID, base))

	board, err := races.Leaderboard(race.RaceID)
	require.NoError(t, err)
	require.Len(t, board, 2)
	require.Equal(t, "bob", board[0].Username)
	require.Equal(t, "alice", board[1].Username)
}
