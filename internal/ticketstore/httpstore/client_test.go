package httpstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FieldLift/LiftDesk/internal/models"
	"github.com/FieldLift/LiftDesk/internal/ticketstore"
	"github.com/stretchr/testify/require"
)

func TestClient_GetTicket_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/tickets/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "list": {
    "id": 42,
    "status_id": 2,
    "status_tracker": "[{\"message\":\"Engineer is Assigned\",\"statusId\":2}]",
    "customer_comments": "[]",
    "customer_name": "Bob",
    "customer_phone": "+15550199",
    "employee_name": "Jane Doe",
    "employee_phone": "+15550123",
    "employee_arrival_date": "2025-05-03T14:30:00Z",
    "priority_rank": "High"
  }
}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.GetTicket(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.ID)
	require.Equal(t, models.StatusAssigned, got.StatusID)
	require.Equal(t, "Bob", got.CustomerName)
	require.Equal(t, "Jane Doe", got.EmployeeName)
	require.Equal(t, "High", got.Priority)
	require.Contains(t, got.StatusTracker, "Engineer is Assigned")
	require.NotNil(t, got.ArrivalDate)
	require.WithinDuration(t, time.Date(2025, 5, 3, 14, 30, 0, 0, time.UTC), *got.ArrivalDate, time.Second)
}

func TestClient_GetTicket_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetTicket(context.Background(), 42)
	require.ErrorIs(t, err, ticketstore.ErrNotFound)
}

func TestClient_PatchTicket_BodyShape(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/tickets/42", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	status := models.StatusAssigned
	tracker := `[{"statusId":2}]`
	priority := "High"
	err := New(srv.URL).PatchTicket(context.Background(), 42, ticketstore.TicketPatch{
		StatusID:      &status,
		StatusTracker: &tracker,
		Priority:      &priority,
	})
	require.NoError(t, err)

	data, ok := got["ticketData"]
	require.True(t, ok)
	require.Equal(t, float64(2), data["status_id"])
	require.Equal(t, tracker, data["status_tracker"])
	require.Equal(t, "High", data["priority_rank"])
	require.NotContains(t, data, "employee_arrival_date")
}

func TestClient_PatchTicket_ClearArrivalDate(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := New(srv.URL).PatchTicket(context.Background(), 42, ticketstore.TicketPatch{ClearArrivalDate: true})
	require.NoError(t, err)

	data := got["ticketData"]
	val, present := data["employee_arrival_date"]
	require.True(t, present)
	require.Nil(t, val)
}

func TestClient_PatchTicket_EmptyPatchSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL).PatchTicket(context.Background(), 42, ticketstore.TicketPatch{}))
	require.False(t, called)
}
